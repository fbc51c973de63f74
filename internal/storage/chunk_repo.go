package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/voxel-core/internal/vec"
)

// ErrNotReady хранилище закрыто
var ErrNotReady = errors.New("хранилище не готово")

// ChunkRepo определяет интерфейс для сохранения и загрузки кадров чанков.
// Кадр - сериализованный чанк вместе с байтом сжатия, хранилище его не разбирает.
type ChunkRepo interface {
	// Save сохраняет кадр чанка в позиции pos (сетка чанков)
	Save(ctx context.Context, pos vec.Vec3, frame []byte) error

	// Load загружает кадр. bool - false, если чанк ещё не сохранялся.
	Load(ctx context.Context, pos vec.Vec3) ([]byte, bool, error)

	// Delete удаляет сохранённый чанк
	Delete(ctx context.Context, pos vec.Vec3) error

	// BatchSave сохраняет несколько чанков одной операцией (автосохранение)
	BatchSave(ctx context.Context, frames map[vec.Vec3][]byte) error

	// List возвращает позиции всех сохранённых чанков
	List(ctx context.Context) ([]vec.Vec3, error)
}

const chunkKeyPrefix = "chunk:"

// ChunkKey ключ чанка в хранилище: chunk:x:y:z
func ChunkKey(pos vec.Vec3) string {
	return fmt.Sprintf("%s%d:%d:%d", chunkKeyPrefix, pos.X, pos.Y, pos.Z)
}

// ParseChunkKey разбирает ключ, созданный ChunkKey
func ParseChunkKey(key string) (vec.Vec3, error) {
	var pos vec.Vec3
	if _, err := fmt.Sscanf(key, chunkKeyPrefix+"%d:%d:%d", &pos.X, &pos.Y, &pos.Z); err != nil {
		return vec.Vec3{}, fmt.Errorf("некорректный ключ чанка %q: %w", key, err)
	}
	return pos, nil
}
