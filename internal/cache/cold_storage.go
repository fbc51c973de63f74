package cache

import (
	"context"
	"fmt"

	"github.com/annel0/voxel-core/internal/storage"
	"github.com/annel0/voxel-core/internal/vec"
)

// RepoColdStorage адаптирует storage.ChunkRepo к ColdStorage.
// Ключи имеют вид storage.ChunkKey.
type RepoColdStorage struct {
	repo storage.ChunkRepo
}

// NewRepoColdStorage оборачивает репозиторий чанков
func NewRepoColdStorage(repo storage.ChunkRepo) *RepoColdStorage {
	return &RepoColdStorage{repo: repo}
}

func (c *RepoColdStorage) Load(ctx context.Context, key string) ([]byte, error) {
	pos, err := storage.ParseChunkKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	frame, ok, err := c.repo.Load(ctx, pos)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCacheMiss
	}
	return frame, nil
}

func (c *RepoColdStorage) Store(ctx context.Context, key string, value []byte) error {
	pos, err := storage.ParseChunkKey(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return c.repo.Save(ctx, pos, value)
}

func (c *RepoColdStorage) BatchStore(ctx context.Context, items map[string][]byte) error {
	frames := make(map[vec.Vec3][]byte, len(items))
	for key, value := range items {
		pos, err := storage.ParseChunkKey(key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		frames[pos] = value
	}
	return c.repo.BatchSave(ctx, frames)
}
