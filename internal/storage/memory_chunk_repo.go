package storage

import (
	"context"
	"sync"

	"github.com/annel0/voxel-core/internal/vec"
)

// MemoryChunkRepo реализует ChunkRepo в памяти.
// Используется в тестах и для запуска без каталога данных.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryChunkRepo struct {
	mu   sync.RWMutex
	data map[vec.Vec3][]byte
}

var _ ChunkRepo = (*MemoryChunkRepo)(nil)

// NewMemoryChunkRepo создает новый репозиторий чанков в памяти.
func NewMemoryChunkRepo() *MemoryChunkRepo {
	return &MemoryChunkRepo{
		data: make(map[vec.Vec3][]byte),
	}
}

// Save сохраняет копию кадра
func (r *MemoryChunkRepo) Save(ctx context.Context, pos vec.Vec3, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[pos] = append([]byte(nil), frame...)
	return nil
}

// Load возвращает копию кадра
func (r *MemoryChunkRepo) Load(ctx context.Context, pos vec.Vec3) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	frame, ok := r.data[pos]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), frame...), true, nil
}

// Delete удаляет чанк
func (r *MemoryChunkRepo) Delete(ctx context.Context, pos vec.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.data, pos)
	return nil
}

// BatchSave сохраняет все кадры под одной блокировкой
func (r *MemoryChunkRepo) BatchSave(ctx context.Context, frames map[vec.Vec3][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for pos, frame := range frames {
		r.data[pos] = append([]byte(nil), frame...)
	}
	return nil
}

// List позиции сохранённых чанков
func (r *MemoryChunkRepo) List(ctx context.Context) ([]vec.Vec3, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]vec.Vec3, 0, len(r.data))
	for pos := range r.data {
		out = append(out, pos)
	}
	return out, nil
}

// Size количество чанков
func (r *MemoryChunkRepo) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}
