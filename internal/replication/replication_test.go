package replication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-core/internal/eventbus"
	"github.com/annel0/voxel-core/internal/protocol"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
)

type fakeApplier struct {
	mu      sync.Mutex
	changes []protocol.BlockChange
	accept  bool
}

func (a *fakeApplier) ApplyRemote(bc protocol.BlockChange) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.changes = append(a.changes, bc)
	return a.accept
}

func (a *fakeApplier) Changes() []protocol.BlockChange {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]protocol.BlockChange(nil), a.changes...)
}

func sampleChanges() []Change {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 42, time.UTC)
	return []Change{
		{Data: []byte{1, 2, 3}, Priority: 3, Timestamp: ts, Source: "node-a", Type: protocol.EventBlockChanged},
		{Data: nil, Priority: -1},
		{Data: []byte("x"), Priority: 9, Source: "node-b"},
	}
}

func TestCompressors(t *testing.T) {
	for _, name := range []string{"none", "gzip", "zstd"} {
		t.Run(name, func(t *testing.T) {
			dc, err := NewCompressor(name)
			require.NoError(t, err)
			assert.Equal(t, name, dc.Name())

			payload, err := dc.Compress(sampleChanges())
			require.NoError(t, err)
			got, err := dc.Decompress(payload)
			require.NoError(t, err)

			want := sampleChanges()
			require.Len(t, got, len(want))
			assert.Equal(t, want[0], got[0])
			assert.Empty(t, got[1].Data)
			assert.Equal(t, -1, got[1].Priority)
			assert.True(t, got[1].Timestamp.IsZero())
			assert.Equal(t, want[2], got[2])
		})
	}

	t.Run("unknown", func(t *testing.T) {
		_, err := NewCompressor("lz4")
		assert.Error(t, err)
	})

	t.Run("empty batch", func(t *testing.T) {
		got, err := NewPassthroughCompressor().Decompress(nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestDecompressMalformed(t *testing.T) {
	payload, err := NewPassthroughCompressor().Compress(sampleChanges())
	require.NoError(t, err)

	_, err = NewPassthroughCompressor().Decompress(payload[:len(payload)-1])
	assert.ErrorIs(t, err, ErrMalformedBatch)

	_, err = NewGzipCompressor().Decompress([]byte("not gzip"))
	assert.ErrorIs(t, err, ErrMalformedBatch)

	zc, err := NewZstdCompressor()
	require.NoError(t, err)
	_, err = zc.Decompress([]byte("not zstd"))
	assert.ErrorIs(t, err, ErrMalformedBatch)
}

func TestBatchManagerOverflow(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)
	defer bus.Close()

	bm := NewBatchManager(bus, "node", 2, time.Hour, nil)
	defer bm.Stop()

	bm.AddChange(Change{Data: []byte{1}, Priority: 1})
	bm.AddChange(Change{Data: []byte{2}, Priority: 4})
	assert.Equal(t, 2, bm.Pending())

	// вытесняет изменение с приоритетом 1
	bm.AddChange(Change{Data: []byte{3}, Priority: 3})
	// младше всех в буфере - отбрасывается
	bm.AddChange(Change{Data: []byte{4}, Priority: 0})

	assert.Equal(t, 2, bm.Pending())
	assert.Equal(t, uint64(2), bm.Dropped())

	bm.mu.Lock()
	got := [][]byte{bm.buf[0].Data, bm.buf[1].Data}
	bm.mu.Unlock()
	assert.ElementsMatch(t, [][]byte{{2}, {3}}, got)
}

func TestBatchManagerFlush(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)
	defer bus.Close()

	received := make(chan *eventbus.Envelope, 4)
	sub, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{EventBlockChangeBatch}},
		func(_ context.Context, ev *eventbus.Envelope) { received <- ev })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	bm := NewBatchManager(bus, "node-a", 8, time.Hour, NewGzipCompressor())
	bm.Flush()
	assert.Equal(t, uint64(0), bm.Sent(), "пустой буфер не отправляется")

	bm.AddChange(Change{Data: []byte{7}, Priority: 3})
	bm.Stop()
	bm.Stop()

	select {
	case ev := <-received:
		assert.Equal(t, "node-a", ev.Source)
		assert.Equal(t, eventbus.HighPriority, ev.Priority)
		assert.Equal(t, "gzip", ev.Metadata["compression"])

		changes, err := NewGzipCompressor().Decompress(ev.Payload)
		require.NoError(t, err)
		require.Len(t, changes, 1)
		assert.Equal(t, []byte{7}, changes[0].Data)
	case <-time.After(time.Second):
		t.Fatal("пакет не отправлен при остановке")
	}
	assert.Equal(t, uint64(1), bm.Sent())
}

func TestManagerReplicatesBetweenNodes(t *testing.T) {
	bus := eventbus.NewMemoryBus(64)
	defer bus.Close()

	applierA := &fakeApplier{accept: true}
	applierB := &fakeApplier{accept: true}

	newNode := func(id string, applier Applier) *Manager {
		m, err := NewManager(Config{
			NodeID:      id,
			Bus:         bus,
			Applier:     applier,
			BatchSize:   16,
			FlushEvery:  10 * time.Millisecond,
			Compression: "zstd",
		})
		require.NoError(t, err)
		return m
	}
	a := newNode("node-a", applierA)
	defer a.Stop()
	b := newNode("node-b", applierB)
	defer b.Stop()

	publisher := eventbus.NewBlockChangePublisher(bus, "node-a")
	stone := block.NewBlockData(1, true)
	publisher.RecordEdit(vec.New(1, -2, 3), vec.New(4, 5, 6), block.Air, stone)

	require.Eventually(t, func() bool { return len(applierB.Changes()) == 1 }, 2*time.Second, 5*time.Millisecond)

	bc := applierB.Changes()[0]
	assert.Equal(t, protocol.BlockChange{Chunk: vec.New(1, -2, 3), Local: vec.New(4, 5, 6), Old: block.Air, New: stone}, bc)
	assert.Empty(t, applierA.Changes(), "свои пакеты не применяются")

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Batches)
	assert.Equal(t, uint64(1), stats.Applied)

	require.Eventually(t, func() bool {
		sent, _ := a.Batches()
		return sent == 1
	}, time.Second, 5*time.Millisecond)
	_, dropped := a.Batches()
	assert.Zero(t, dropped)
}

func TestConsumerSkipsForeignAndBroken(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)
	defer bus.Close()

	applier := &fakeApplier{}
	c, err := NewConsumer(bus, "node-b", applier, nil, nil)
	require.NoError(t, err)
	defer c.Stop()

	payload, err := NewPassthroughCompressor().Compress([]Change{
		{Data: protocol.MarshalBlockChange(protocol.BlockChange{Local: vec.New(1, 1, 1)}), Type: protocol.EventBlockChanged},
		{Data: []byte{1}, Type: "EntityMoved"},
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), eventbus.NewEnvelope("node-a", EventBlockChangeBatch, eventbus.HighPriority, payload)))

	broken := eventbus.NewEnvelope("node-a", EventBlockChangeBatch, eventbus.HighPriority, []byte{0xff})
	broken.Metadata = map[string]string{"compression": "gzip"}
	require.NoError(t, bus.Publish(context.Background(), broken))

	require.Eventually(t, func() bool { return c.Stats().Batches == 2 }, time.Second, 5*time.Millisecond)

	stats := c.Stats()
	assert.Equal(t, uint64(0), stats.Applied)
	assert.Equal(t, uint64(2), stats.Skipped, "не применилось и чужой тип")
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Len(t, applier.Changes(), 1)
}

func TestNewManagerValidates(t *testing.T) {
	_, err := NewManager(Config{NodeID: "n"})
	assert.Error(t, err)

	bus := eventbus.NewMemoryBus(4)
	defer bus.Close()
	_, err = NewManager(Config{Bus: bus, Applier: &fakeApplier{}})
	assert.Error(t, err)
	_, err = NewManager(Config{NodeID: "n", Bus: bus, Applier: &fakeApplier{}, Compression: "brotli"})
	assert.Error(t, err)
}
