package storage

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-core/internal/vec"
)

func setupTestStorage(t *testing.T) *WorldStorage {
	t.Helper()
	ws, err := NewWorldStorage(t.TempDir())
	require.NoError(t, err, "Не удалось создать хранилище")
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sortPositions(ps []vec.Vec3) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}

// testChunkRepo общий набор проверок для всех реализаций ChunkRepo
func testChunkRepo(t *testing.T, repo ChunkRepo) {
	ctx := context.Background()

	t.Run("Save and Load", func(t *testing.T) {
		pos := vec.New(1, -2, 3)
		frame := []byte{1, 4, 0, 0, 0}

		require.NoError(t, repo.Save(ctx, pos, frame))
		frame[0] = 9 // хранилище держит копию

		got, found, err := repo.Load(ctx, pos)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []byte{1, 4, 0, 0, 0}, got)
	})

	t.Run("Load missing", func(t *testing.T) {
		got, found, err := repo.Load(ctx, vec.New(100, 100, 100))
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, got)
	})

	t.Run("Overwrite and Delete", func(t *testing.T) {
		pos := vec.New(0, 0, 0)
		require.NoError(t, repo.Save(ctx, pos, []byte{1}))
		require.NoError(t, repo.Save(ctx, pos, []byte{2, 2}))

		got, _, err := repo.Load(ctx, pos)
		require.NoError(t, err)
		assert.Equal(t, []byte{2, 2}, got)

		require.NoError(t, repo.Delete(ctx, pos))
		_, found, err := repo.Load(ctx, pos)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("BatchSave and List", func(t *testing.T) {
		frames := map[vec.Vec3][]byte{
			vec.New(5, 0, 5):  {5},
			vec.New(-5, 1, 0): {6},
			vec.New(7, -7, 7): {7},
		}
		require.NoError(t, repo.BatchSave(ctx, frames))

		positions, err := repo.List(ctx)
		require.NoError(t, err)
		sortPositions(positions)
		assert.Equal(t, []vec.Vec3{vec.New(-5, 1, 0), vec.New(1, -2, 3), vec.New(5, 0, 5), vec.New(7, -7, 7)}, positions)

		got, found, err := repo.Load(ctx, vec.New(7, -7, 7))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []byte{7}, got)
	})

	t.Run("Cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, repo.Save(cancelled, vec.Zero, []byte{1}), context.Canceled)
		_, _, err := repo.Load(cancelled, vec.Zero)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWorldStorage(t *testing.T) {
	testChunkRepo(t, setupTestStorage(t))
}

func TestMemoryChunkRepo(t *testing.T) {
	repo := NewMemoryChunkRepo()
	testChunkRepo(t, repo)
	assert.Equal(t, 4, repo.Size())
}

func TestWorldStorageClosed(t *testing.T) {
	ws := setupTestStorage(t)
	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close(), "повторное закрытие безопасно")

	err := ws.Save(context.Background(), vec.Zero, []byte{1})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestWorldStorageReopen(t *testing.T) {
	dir := t.TempDir()
	ws, err := NewWorldStorage(dir)
	require.NoError(t, err)
	require.NoError(t, ws.Save(context.Background(), vec.New(2, 2, 2), []byte{0, 4, 0, 0, 0}))
	require.NoError(t, ws.Close())

	ws, err = NewWorldStorage(dir)
	require.NoError(t, err)
	defer ws.Close()

	got, found, err := ws.Load(context.Background(), vec.New(2, 2, 2))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte{0, 4, 0, 0, 0}, got)
}

func TestChunkKey(t *testing.T) {
	pos := vec.New(-3, 0, 12)
	key := ChunkKey(pos)
	assert.Equal(t, "chunk:-3:0:12", key)

	parsed, err := ParseChunkKey(key)
	require.NoError(t, err)
	assert.Equal(t, pos, parsed)

	_, err = ParseChunkKey("entities:1:2")
	assert.Error(t, err)
}
