package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-core/internal/cache"
	"github.com/annel0/voxel-core/internal/mesh"
	"github.com/annel0/voxel-core/internal/metrics"
	"github.com/annel0/voxel-core/internal/protocol"
	"github.com/annel0/voxel-core/internal/storage"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world"
	"github.com/annel0/voxel-core/internal/world/block"
)

const testSide = 8

type recordedEdit struct {
	chunk, local vec.Vec3
	old, new     block.BlockData
}

type fakeRecorder struct {
	mu    sync.Mutex
	edits []recordedEdit
}

func (r *fakeRecorder) RecordEdit(chunk, local vec.Vec3, old, new block.BlockData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, recordedEdit{chunk, local, old, new})
}

func (r *fakeRecorder) Edits() []recordedEdit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEdit(nil), r.edits...)
}

type testEnv struct {
	sched    *Scheduler
	reg      *block.Registry
	repo     *storage.MemoryChunkRepo
	cache    *cache.MemoryCache
	recorder *fakeRecorder
	metrics  *metrics.Metrics
	stone    block.BlockData
	dirt     block.BlockData
}

// newTestEnv планировщик с плоским миром: камень до высоты 4
func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	reg, err := block.NewRegistryFromConfigs([]block.Config{
		{Name: "stone", Textures: block.TextureConfig{All: "stone"}},
		{Name: "dirt", Textures: block.TextureConfig{All: "dirt"}},
	})
	require.NoError(t, err)

	gen, err := world.NewGenerator(reg, world.GeneratorConfig{
		Seed:   7,
		Layers: []world.LayerConfig{{Name: "base", Block: "stone", MinHeight: 4, MaxHeight: 4, Frequency: 32}},
	})
	require.NoError(t, err)

	atlas, err := mesh.NewGridAtlas(reg, 4)
	require.NoError(t, err)
	if opts.Side == 0 {
		opts.Side = testSide
	}
	serializer, err := protocol.NewChunkSerializer(protocol.CompressionZstd, opts.Side, max(opts.Padding, world.DefaultPadding))
	require.NoError(t, err)

	env := &testEnv{
		reg:      reg,
		repo:     storage.NewMemoryChunkRepo(),
		cache:    cache.NewMemoryCache(&cache.CacheConfig{}, nil, nil),
		recorder: &fakeRecorder{},
		metrics:  metrics.New(),
		stone:    reg.MustData("stone"),
		dirt:     reg.MustData("dirt"),
	}

	if opts.Workers == 0 {
		opts.Workers = 2
	}
	env.sched, err = New(Deps{
		Registry:   reg,
		Generator:  gen,
		Mesher:     mesh.NewGreedyMesher(reg, atlas, mesh.DefaultConfig()),
		Serializer: serializer,
		Repo:       env.repo,
		Cache:      env.cache,
		Recorder:   env.recorder,
		Metrics:    env.metrics,
	}, opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.sched.Close(ctx)
		_ = env.cache.Close()
	})
	return env
}

func (env *testEnv) state(t *testing.T, pos vec.Vec3) ChunkState {
	t.Helper()
	st, ok := env.sched.State(pos)
	require.True(t, ok, "чанк %v не загружен", pos)
	return st
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Options{Side: testSide})
	assert.Error(t, err)
}

func TestLoadGeneratesChunk(t *testing.T) {
	env := newTestEnv(t, Options{})
	pos := vec.New(0, 0, 0)

	require.NoError(t, env.sched.Load(pos).Wait())
	assert.Equal(t, StateReady, env.state(t, pos))

	assert.Equal(t, env.stone, env.sched.GetBlock(vec.New(1, 3, 1)))
	assert.Equal(t, block.Air, env.sched.GetBlock(vec.New(1, 4, 1)))
	assert.Equal(t, block.Air, env.sched.GetBlock(vec.New(100, 1, 1)), "незагруженный чанк читается как воздух")

	t.Run("repeated load is a no-op", func(t *testing.T) {
		require.NoError(t, env.sched.Load(pos).Wait())
		assert.Equal(t, 1, env.sched.Stats().Chunks)
	})

	assert.Empty(t, env.recorder.Edits(), "генерация не пишет журнал изменений")
}

func TestMeshBuildsGeometry(t *testing.T) {
	env := newTestEnv(t, Options{})
	pos := vec.New(0, 0, 0)

	err := env.sched.Mesh(pos).Wait()
	assert.ErrorIs(t, err, ErrNotLoaded)

	require.NoError(t, env.sched.Load(pos).Wait())
	assert.Nil(t, env.sched.Geometry(pos))

	require.NoError(t, env.sched.Mesh(pos).Wait())
	geo := env.sched.Geometry(pos)
	require.NotNil(t, geo)
	assert.Positive(t, geo.QuadCount())
	assert.Equal(t, StateReady, env.state(t, pos))
	assert.Equal(t, 0, env.sched.Stats().Dirty)

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.ChunksMeshed))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Jobs.WithLabelValues("mesh", "ok")))
}

func TestCompressAndDecompress(t *testing.T) {
	env := newTestEnv(t, Options{})
	pos := vec.New(0, 0, 0)
	ctx := context.Background()

	require.NoError(t, env.sched.Load(pos).Wait())
	require.True(t, env.sched.SetBlock(vec.New(2, 6, 2), env.dirt))
	expected, err := env.sched.RequestChunkBytes(ctx, pos)
	require.NoError(t, err)

	require.NoError(t, env.sched.Compress(pos).Wait())
	assert.Equal(t, StateCompressed, env.state(t, pos))

	// сжатый чанк недоступен для чтения и записи
	assert.Equal(t, block.Air, env.sched.GetBlock(vec.New(1, 1, 1)))
	assert.False(t, env.sched.SetBlock(vec.New(1, 1, 1), env.dirt))

	err = env.sched.Mesh(pos).Wait()
	assert.ErrorIs(t, err, ErrNotReady)

	t.Run("bytes of compressed chunk", func(t *testing.T) {
		got, err := env.sched.RequestChunkBytes(ctx, pos)
		require.NoError(t, err)
		assert.Equal(t, expected, got)
	})

	require.NoError(t, env.sched.Load(pos).Wait())
	assert.Equal(t, StateReady, env.state(t, pos))
	assert.Equal(t, env.stone, env.sched.GetBlock(vec.New(1, 1, 1)))
	assert.Equal(t, env.dirt, env.sched.GetBlock(vec.New(2, 6, 2)))
}

func TestUnloadPersistsModifiedChunk(t *testing.T) {
	env := newTestEnv(t, Options{CacheTTL: time.Minute})
	ctx := context.Background()
	modified, untouched := vec.New(0, 0, 0), vec.New(0, 0, 1)

	require.NoError(t, env.sched.Load(modified).Wait())
	require.NoError(t, env.sched.Load(untouched).Wait())
	require.True(t, env.sched.SetBlock(vec.New(3, 5, 3), env.dirt))

	require.NoError(t, env.sched.Unload(modified).Wait())
	require.NoError(t, env.sched.Unload(untouched).Wait())

	_, ok := env.sched.State(modified)
	assert.False(t, ok)
	assert.Equal(t, 0, env.sched.Stats().Chunks)

	// в хранилище попадает только изменённый чанк, в кэш - оба
	assert.Equal(t, 1, env.repo.Size())
	_, found, err := env.repo.Load(ctx, modified)
	require.NoError(t, err)
	assert.True(t, found)

	for _, pos := range []vec.Vec3{modified, untouched} {
		exists, err := env.cache.Exists(ctx, storage.ChunkKey(pos))
		require.NoError(t, err)
		assert.True(t, exists, "кадр %v в кэше", pos)
	}

	t.Run("reload restores edits", func(t *testing.T) {
		require.NoError(t, env.sched.Load(modified).Wait())
		assert.Equal(t, env.dirt, env.sched.GetBlock(vec.New(3, 5, 3)))
	})

	t.Run("restore from repo after cache loss", func(t *testing.T) {
		require.NoError(t, env.sched.Unload(modified).Wait())
		require.NoError(t, env.cache.Delete(ctx, storage.ChunkKey(modified)))

		require.NoError(t, env.sched.Load(modified).Wait())
		assert.Equal(t, env.dirt, env.sched.GetBlock(vec.New(3, 5, 3)))
	})
}

func TestUnloadMissingChunk(t *testing.T) {
	env := newTestEnv(t, Options{})
	assert.NoError(t, env.sched.Unload(vec.New(9, 9, 9)).Wait())
}

func TestFirstWriteInvalidatesCache(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	pos := vec.New(0, 0, 0)
	key := storage.ChunkKey(pos)

	require.NoError(t, env.sched.Load(pos).Wait())
	require.NoError(t, env.cache.Set(ctx, key, []byte("stale"), 0))

	require.True(t, env.sched.SetBlock(vec.New(0, 7, 0), env.dirt))

	exists, err := env.cache.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCorruptCacheFrameFallsBack(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	pos := vec.New(0, 0, 0)

	require.NoError(t, env.cache.Set(ctx, storage.ChunkKey(pos), []byte{byte(protocol.CompressionNone), 1, 2}, 0))

	require.NoError(t, env.sched.Load(pos).Wait())
	assert.Equal(t, env.stone, env.sched.GetBlock(vec.New(1, 1, 1)), "повреждённый кадр заменяется генерацией")
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.DecodeErrors))

	exists, err := env.cache.Exists(ctx, storage.ChunkKey(pos))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSetBlockMarksNeighbors(t *testing.T) {
	env := newTestEnv(t, Options{})
	a, b := vec.New(0, 0, 0), vec.New(1, 0, 0)

	require.NoError(t, env.sched.Load(a).Wait())
	require.NoError(t, env.sched.Load(b).Wait())
	require.NoError(t, env.sched.Mesh(a).Wait())
	require.NoError(t, env.sched.Mesh(b).Wait())
	require.Equal(t, 0, env.sched.Stats().Dirty)

	t.Run("interior cell", func(t *testing.T) {
		require.True(t, env.sched.SetBlock(vec.New(3, 6, 3), env.dirt))
		assert.Equal(t, 1, env.sched.Stats().Dirty)
		assert.Equal(t, 1, env.sched.Tick())
	})

	require.Eventually(t, func() bool { return env.sched.Stats().Dirty == 0 && env.state(t, a) == StateReady },
		time.Second, 5*time.Millisecond)

	t.Run("border cell", func(t *testing.T) {
		require.True(t, env.sched.SetBlock(vec.New(testSide-1, 6, 3), env.dirt))
		assert.Equal(t, 2, env.sched.Stats().Dirty)
	})

	t.Run("unchanged value", func(t *testing.T) {
		assert.False(t, env.sched.SetBlock(vec.New(testSide-1, 6, 3), env.dirt))
	})

	edits := env.recorder.Edits()
	require.Len(t, edits, 2)
	assert.Equal(t, recordedEdit{a, vec.New(testSide-1, 6, 3), block.Air, env.dirt}, edits[1])
}

func TestApplyRemote(t *testing.T) {
	env := newTestEnv(t, Options{})
	pos := vec.New(0, 0, 0)
	require.NoError(t, env.sched.Load(pos).Wait())

	bc := protocol.BlockChange{Chunk: pos, Local: vec.New(4, 6, 4), Old: block.Air, New: env.dirt}
	assert.True(t, env.sched.ApplyRemote(bc))
	assert.False(t, env.sched.ApplyRemote(bc), "повтор ничего не меняет")
	assert.Equal(t, env.dirt, env.sched.GetBlock(vec.New(4, 6, 4)))
	assert.Empty(t, env.recorder.Edits(), "удалённые изменения не публикуются снова")

	t.Run("outside chunk", func(t *testing.T) {
		assert.False(t, env.sched.ApplyRemote(protocol.BlockChange{Chunk: pos, Local: vec.New(testSide, 0, 0), New: env.dirt}))
	})

	t.Run("chunk not loaded", func(t *testing.T) {
		assert.False(t, env.sched.ApplyRemote(protocol.BlockChange{Chunk: vec.New(5, 5, 5), Local: vec.Zero, New: env.dirt}))
	})
}

func TestRequestChunkBytes(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	t.Run("unknown chunk is empty", func(t *testing.T) {
		got, err := env.sched.RequestChunkBytes(ctx, vec.New(3, 3, 3))
		require.NoError(t, err)
		assert.Equal(t, world.EmptyChunkBytes, got)
		_, ok := env.sched.State(vec.New(3, 3, 3))
		assert.False(t, ok, "запрос байтов не загружает чанк")
	})

	t.Run("loaded chunk", func(t *testing.T) {
		pos := vec.New(0, 0, 0)
		require.NoError(t, env.sched.Load(pos).Wait())
		loaded, err := env.sched.RequestChunkBytes(ctx, pos)
		require.NoError(t, err)
		assert.NotEqual(t, world.EmptyChunkBytes, loaded)

		require.True(t, env.sched.SetBlock(vec.New(0, 6, 0), env.dirt))
		edited, err := env.sched.RequestChunkBytes(ctx, pos)
		require.NoError(t, err)
		require.NoError(t, env.sched.Unload(pos).Wait())

		stored, err := env.sched.RequestChunkBytes(ctx, pos)
		require.NoError(t, err)
		assert.Equal(t, edited, stored, "выгруженный чанк читается из кэша")

		positions, err := env.sched.StoredChunks(ctx)
		require.NoError(t, err)
		assert.Equal(t, []vec.Vec3{pos}, positions)
	})
}

func TestUpdateStreamsClipmap(t *testing.T) {
	env := newTestEnv(t, Options{ViewRange: 1, RangeYMin: 0, RangeYMax: 0})

	res := env.sched.Update(vec.Zero)
	assert.Equal(t, 9, res.Loaded)
	assert.Equal(t, vec.Zero, env.sched.Center())

	require.Eventually(t, func() bool {
		env.sched.Update(vec.Zero)
		st := env.sched.Stats()
		return st.Chunks == 9 && st.States["ready"] == 9 && st.Dirty == 0
	}, 2*time.Second, 5*time.Millisecond)

	for x := -1; x <= 1; x++ {
		for z := -1; z <= 1; z++ {
			assert.NotNil(t, env.sched.Geometry(vec.New(x, 0, z)), "меш %d,%d", x, z)
		}
	}

	far := vec.New(10, 0, 0)
	res = env.sched.Update(far)
	assert.Equal(t, 9, res.Unloaded)
	assert.Equal(t, 9, res.Loaded)

	require.Eventually(t, func() bool {
		env.sched.Update(far)
		st := env.sched.Stats()
		return st.Chunks == 9 && st.States["ready"] == 9
	}, 2*time.Second, 5*time.Millisecond)
	_, ok := env.sched.State(vec.Zero)
	assert.False(t, ok)

	assert.Equal(t, vec.New(1, -1, 0), env.sched.CenterOf(vec.New(testSide, -1, 3)))
}

func TestUpdateCompressesFarChunks(t *testing.T) {
	// LOD = расстояние / 1.5: кольцо на расстоянии 2 получает LOD 1
	env := newTestEnv(t, Options{ViewRange: 2, RangeYMin: 0, RangeYMax: 0, CoefLOD: 0.5, CompressLOD: 1})

	require.Eventually(t, func() bool {
		env.sched.Update(vec.Zero)
		st := env.sched.Stats()
		return st.States["compressed"] == 16 && st.States["ready"] == 9
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, env.stone, env.sched.GetBlock(vec.New(1, 1, 1)))
	assert.Equal(t, block.Air, env.sched.GetBlock(vec.New(2*testSide+1, 1, 1)), "дальний чанк сжат")

	// сдвиг наблюдателя распаковывает приблизившиеся чанки
	res := env.sched.Update(vec.New(1, 0, 0))
	assert.Positive(t, res.Decompressed)
}

func TestCloseFlushesAndRejects(t *testing.T) {
	env := newTestEnv(t, Options{})
	pos := vec.New(0, 0, 0)

	require.NoError(t, env.sched.Load(pos).Wait())
	require.NoError(t, env.sched.Load(vec.New(0, 0, 1)).Wait())
	require.True(t, env.sched.SetBlock(vec.New(1, 6, 1), env.dirt))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.sched.Close(ctx))

	assert.Equal(t, 0, env.sched.Stats().Chunks)
	assert.Equal(t, 1, env.repo.Size())

	assert.ErrorIs(t, env.sched.Load(pos).Wait(), ErrClosed)
	assert.ErrorIs(t, env.sched.Mesh(pos).Wait(), ErrClosed)
	assert.Equal(t, 0, env.sched.Tick())
	assert.NoError(t, env.sched.Close(ctx), "повторный Close")
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "compressed", StateCompressed.String())
	assert.Equal(t, "state(42)", ChunkState(42).String())
	assert.True(t, StateMeshing.HasStore())
	assert.False(t, StateCompressed.HasStore())
}
