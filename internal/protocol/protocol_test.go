package protocol

import (
	"errors"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world"
	"github.com/annel0/voxel-core/internal/world/block"
)

func testStore(t *testing.T) (*world.ChunkStore, block.BlockData) {
	t.Helper()
	reg, err := block.NewRegistryFromConfigs([]block.Config{{Name: "stone"}, {Name: "dirt"}})
	require.NoError(t, err)

	s := world.NewChunkStore(16, 1, reg)
	stone := reg.MustData("stone")
	s.SetRange(vec.New(0, 0, 0), vec.New(15, 7, 15), stone, false)
	s.SetRange(vec.New(4, 8, 4), vec.New(6, 12, 6), reg.MustData("dirt"), false)
	return s, stone
}

func TestChunkSerializerRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			cs, err := NewChunkSerializer(c, 16, 1)
			require.NoError(t, err)
			defer cs.Close()

			src, _ := testStore(t)
			frame := cs.EncodeChunk(src)
			require.NotEmpty(t, frame)
			assert.Equal(t, byte(c), frame[0])

			dst := world.NewChunkStore(16, 1, src.Registry())
			require.NoError(t, cs.DecodeChunk(dst, frame))
			assert.Equal(t, src.NonEmpty(), dst.NonEmpty())
			assert.Equal(t, world.EncodeRuns(src), world.EncodeRuns(dst))
		})
	}
}

func TestZstdFrameSmaller(t *testing.T) {
	plain, err := NewChunkSerializer(CompressionNone, 16, 1)
	require.NoError(t, err)
	defer plain.Close()
	packed, err := NewChunkSerializer(CompressionZstd, 16, 1)
	require.NoError(t, err)
	defer packed.Close()

	src, _ := testStore(t)
	assert.Less(t, len(packed.EncodeChunk(src)), len(plain.EncodeChunk(src)))
}

func TestDecodeChunkErrors(t *testing.T) {
	cs, err := NewChunkSerializer(CompressionZstd, 16, 1)
	require.NoError(t, err)
	defer cs.Close()

	cases := map[string][]byte{
		"empty":         nil,
		"unknown codec": {9, 0, 0, 0, 0},
		"broken zstd":   {byte(CompressionZstd), 1, 2, 3, 4, 5},
		"broken runs":   {byte(CompressionNone), 1, 0},
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			s, _ := testStore(t)
			err := cs.DecodeChunk(s, frame)
			require.Error(t, err)
			assert.True(t, errors.Is(err, world.ErrMalformedChunk))
			assert.True(t, s.IsEmpty())
		})
	}
}

func TestDecodeChunkOversizedZstd(t *testing.T) {
	cs, err := NewChunkSerializer(CompressionZstd, 16, 1)
	require.NoError(t, err)
	defer cs.Close()
	assert.Equal(t, world.MaxRunStreamBytes(16, 1), cs.MaxRunBytes())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()

	// нули жмутся почти в ничто, но распаковываются длиннее любого чанка 16/1
	frame := enc.EncodeAll(make([]byte, cs.MaxRunBytes()+1), []byte{byte(CompressionZstd)})
	require.Less(t, len(frame), 1024)

	s, _ := testStore(t)
	err = cs.DecodeChunk(s, frame)
	require.Error(t, err)
	assert.ErrorIs(t, err, zstd.ErrDecoderSizeExceeded)
	assert.ErrorIs(t, err, world.ErrMalformedChunk)
	assert.True(t, s.IsEmpty())
}

func TestNewChunkSerializerValidation(t *testing.T) {
	_, err := NewChunkSerializer(Compression(7), 16, 1)
	assert.Error(t, err)
	_, err = NewChunkSerializer(CompressionZstd, 0, 1)
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)

	c, err = ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)

	_, err = ParseCompression("lz4")
	assert.Error(t, err)
}

func TestBlockChangeRoundTrip(t *testing.T) {
	in := BlockChange{
		Chunk: vec.New(-3, 0, 12),
		Local: vec.New(15, 2, 0),
		Old:   block.NewBlockData(1, true),
		New:   block.Air,
	}
	out, err := UnmarshalBlockChange(MarshalBlockChange(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = UnmarshalBlockChange([]byte{0x08})
	assert.Error(t, err, "обрезанный varint")
}
