package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-core/internal/storage"
	"github.com/annel0/voxel-core/internal/vec"
)

func TestMemoryCacheBasic(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(nil, nil, nil)
	defer c.Close()

	key := storage.ChunkKey(vec.New(1, 2, 3))

	_, err := c.Get(ctx, key)
	assert.True(t, IsCacheMiss(err))

	frame := []byte{1, 2, 3}
	require.NoError(t, c.Set(ctx, key, frame, time.Minute))
	frame[0] = 9

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	ok, err := c.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, key))
	ok, _ = c.Exists(ctx, key)
	assert.False(t, ok)

	assert.ErrorIs(t, c.Set(ctx, "", frame, 0), ErrInvalidKey)

	m := c.GetMetrics()
	assert.Equal(t, int64(2), m.TotalRequests)
	assert.Equal(t, int64(1), m.CacheHits)
	assert.InDelta(t, 0.5, m.HitRatio, 1e-9)
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(&CacheConfig{MaxTTL: 30 * time.Second}, nil, nil)
	defer c.Close()

	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "short", []byte{1}, 10*time.Second))
	require.NoError(t, c.Set(ctx, "capped", []byte{2}, time.Hour))
	require.NoError(t, c.Set(ctx, "forever", []byte{3}, 0))

	now = now.Add(15 * time.Second)
	_, err := c.Get(ctx, "short")
	assert.True(t, IsCacheMiss(err))
	_, err = c.Get(ctx, "capped")
	assert.NoError(t, err)

	now = now.Add(20 * time.Second)
	_, err = c.Get(ctx, "capped")
	assert.True(t, IsCacheMiss(err), "TTL ограничен MaxTTL")

	assert.Equal(t, 2, c.Purge())
	_, err = c.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestMemoryCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryChunkRepo()
	pos := vec.New(4, 0, -4)
	require.NoError(t, repo.Save(ctx, pos, []byte{7, 7}))

	c := NewMemoryCache(nil, NewRepoColdStorage(repo), nil)
	defer c.Close()

	got, err := c.Get(ctx, storage.ChunkKey(pos))
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 7}, got)

	// второй раз из кэша
	got, err = c.Get(ctx, storage.ChunkKey(pos))
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 7}, got)
	assert.Equal(t, int64(1), c.GetMetrics().CacheHits)

	_, err = c.Get(ctx, storage.ChunkKey(vec.New(0, 0, 0)))
	assert.True(t, IsCacheMiss(err))

	_, err = c.Get(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestMemoryCacheWriteBehind(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryChunkRepo()

	c := NewMemoryCache(&CacheConfig{
		WriteBehindEnabled:   true,
		WriteBehindInterval:  time.Hour,
		WriteBehindBatchSize: 100,
	}, NewRepoColdStorage(repo), nil)

	items := map[string][]byte{
		storage.ChunkKey(vec.New(0, 0, 0)): {1},
		storage.ChunkKey(vec.New(1, 0, 0)): {2},
		storage.ChunkKey(vec.New(0, 1, 0)): {3},
	}
	require.NoError(t, c.BatchSet(ctx, items, -1))

	// интервал большой, запись произойдёт при закрытии
	require.NoError(t, c.Close())
	assert.Equal(t, 3, repo.Size())
	assert.Zero(t, c.GetMetrics().PendingWrites)

	got, found, err := repo.Load(ctx, vec.New(1, 0, 0))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte{2}, got)

	_, err = c.Get(ctx, storage.ChunkKey(vec.New(0, 0, 0)))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryCacheBatchGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(nil, nil, nil)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", []byte{1}, 0))
	require.NoError(t, c.Set(ctx, "b", []byte{2}, 0))

	got, err := c.BatchGet(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": {1}, "b": {2}}, got)
	assert.Equal(t, int64(1), c.GetMetrics().CacheMisses)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	inv := NewLocalInvalidator()

	var mu sync.Mutex
	var seen []string
	require.NoError(t, inv.SubscribeInvalidations(ctx, func(key string) error {
		mu.Lock()
		seen = append(seen, key)
		mu.Unlock()
		return errors.New("ошибка обработчика не мешает рассылке")
	}))

	c := NewMemoryCache(nil, nil, inv)
	require.NoError(t, c.Set(ctx, "chunk:0:0:0", []byte{1}, 0))
	require.NoError(t, c.Invalidate(ctx, "chunk:0:0:0"))

	ok, _ := c.Exists(ctx, "chunk:0:0:0")
	assert.False(t, ok)
	assert.Equal(t, []string{"chunk:0:0:0"}, seen)

	require.NoError(t, c.Close())
	require.NoError(t, inv.PublishInvalidation(ctx, "chunk:1:1:1"))
	assert.Len(t, seen, 1, "после Close подписчиков нет")
}

func TestDedupe(t *testing.T) {
	d := newDedupe(5 * time.Second)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	assert.True(t, d.admit("k"))
	assert.False(t, d.admit("k"))
	assert.True(t, d.admit("other"))

	now = now.Add(6 * time.Second)
	assert.True(t, d.admit("k"))
	assert.Equal(t, 1, d.cleanup())
}

func TestNATSInvalidatorHandle(t *testing.T) {
	var got []string
	n := &NATSInvalidator{
		config: &InvalidatorConfig{DedupeWindow: time.Minute},
		nodeID: "node-a",
		recent: newDedupe(time.Minute),
		handler: func(key string) error {
			got = append(got, key)
			return nil
		},
	}

	encode := func(node, key string) []byte {
		data, err := json.Marshal(InvalidationMessage{Key: key, NodeID: node, Timestamp: time.Now()})
		require.NoError(t, err)
		return data
	}

	require.NoError(t, n.handle(encode("node-b", "chunk:1:0:0")))
	require.NoError(t, n.handle(encode("node-b", "chunk:1:0:0")), "дубликат пропускается")
	require.NoError(t, n.handle(encode("node-a", "chunk:2:0:0")), "своё сообщение пропускается")
	assert.Error(t, n.handle([]byte("{")))

	assert.Equal(t, []string{"chunk:1:0:0"}, got)
}

func TestInvalidatorConfigDefaults(t *testing.T) {
	cfg := &InvalidatorConfig{}
	cfg.withDefaults()
	assert.Equal(t, "voxel.chunks.invalidate", cfg.Subject)
	assert.Equal(t, 5*time.Second, cfg.DedupeWindow)
}
