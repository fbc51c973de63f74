package engine

import (
	"context"
	"fmt"

	"github.com/annel0/voxel-core/internal/mesh"
	"github.com/annel0/voxel-core/internal/protocol"
	"github.com/annel0/voxel-core/internal/storage"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world"
	"github.com/annel0/voxel-core/internal/world/block"
)

// WithChunk реализует world.ChunkAccessor. Сжатые, загружаемые и
// выгружаемые чанки недоступны. Запись помечает чанк изменённым и
// требующим нового меша; первая запись сбрасывает его кадр в кэше.
func (s *Scheduler) WithChunk(pos vec.Vec3, write bool, fn func(st *world.ChunkStore)) bool {
	s.mu.Lock()
	e := s.chunks[pos]
	if e == nil || !e.state.HasStore() {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	if !write {
		e.mu.RLock()
		defer e.mu.RUnlock()
		if e.store == nil {
			return false
		}
		fn(e.store)
		return true
	}

	e.mu.Lock()
	if e.store == nil {
		e.mu.Unlock()
		return false
	}
	fn(e.store)

	s.mu.Lock()
	first := !e.modified
	e.modified = true
	e.dirty = true
	s.mu.Unlock()
	e.mu.Unlock()

	if first && s.deps.Cache != nil {
		if err := s.deps.Cache.Invalidate(s.ctx, storage.ChunkKey(pos)); err != nil {
			s.logger.Warn("инвалидация кэша %v: %v", pos, err)
		}
	}
	return true
}

// SetBlock записывает блок в мировых координатах с хуками и записью
// изменения. Соседние чанки, в рамку которых попадает ячейка, получают
// отметку о новом меше.
func (s *Scheduler) SetBlock(p vec.Vec3, data block.BlockData) bool {
	if !s.blocks.SetBlock(p, data, true) {
		return false
	}
	s.markBorder(world.ContainingChunkPos(p, s.opts.Side), world.LocalPos(p, s.opts.Side))
	return true
}

// GetBlock читает блок в мировых координатах
func (s *Scheduler) GetBlock(p vec.Vec3) block.BlockData {
	return s.blocks.GetBlock(p)
}

// ApplyRemote применяет изменение, пришедшее с другого узла, без
// повторной записи. false - чанк не загружен или значение совпало.
func (s *Scheduler) ApplyRemote(bc protocol.BlockChange) bool {
	if !s.insideChunk(bc.Local) {
		s.logger.Warn("изменение вне чанка %v: %v", bc.Chunk, bc.Local)
		return false
	}
	changed := false
	s.WithChunk(bc.Chunk, true, func(st *world.ChunkStore) {
		changed = st.SetTrackedAt(bc.Local.X, bc.Local.Y, bc.Local.Z, bc.New, false)
	})
	if changed {
		s.markBorder(bc.Chunk, bc.Local)
	}
	return changed
}

func (s *Scheduler) insideChunk(local vec.Vec3) bool {
	side := s.opts.Side
	return local.X >= 0 && local.Y >= 0 && local.Z >= 0 &&
		local.X < side && local.Y < side && local.Z < side
}

// markBorder помечает соседей, в рамке которых лежит локальная ячейка
func (s *Scheduler) markBorder(chunk, local vec.Vec3) {
	pad, side := s.opts.Padding, s.opts.Side
	coords := [3]int{local.X, local.Y, local.Z}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dir := range vec.Directions {
		c := coords[dir.Axis()]
		near := c < pad
		if dir.Positive() {
			near = c >= side-pad
		}
		if !near {
			continue
		}
		if n := s.chunks[chunk.Add(dir.Offset())]; n != nil {
			n.dirty = true
		}
	}
}

// MarkDirty требует перестроить меш чанка
func (s *Scheduler) MarkDirty(pos vec.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.chunks[pos]; e != nil {
		e.dirty = true
	}
}

// Tick ставит построение меша для всех готовых чанков с отметкой dirty,
// соседи которых не загружаются. Возвращает число поставленных задач.
func (s *Scheduler) Tick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return 0
	}

	started := 0
	for pos, e := range s.chunks {
		if !e.dirty || e.busy || e.state != StateReady {
			continue
		}
		if s.neighborLoading(pos) {
			continue
		}
		s.meshLocked(pos)
		started++
	}
	return started
}

func (s *Scheduler) neighborLoading(pos vec.Vec3) bool {
	for _, dir := range vec.Directions {
		if n := s.chunks[pos.Add(dir.Offset())]; n != nil && n.state == StateGenerating {
			return true
		}
	}
	return false
}

// Geometry последний построенный меш чанка или nil
func (s *Scheduler) Geometry(pos vec.Vec3) *mesh.Geometry {
	s.mu.Lock()
	e := s.chunks[pos]
	s.mu.Unlock()
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.geometry
}

// RequestChunkBytes возвращает поток серий чанка для клиента. Незагруженный
// чанк читается из кэша или хранилища, но не генерируется. Для чанка без
// сохранённой копии возвращается поток пустого чанка.
func (s *Scheduler) RequestChunkBytes(ctx context.Context, pos vec.Vec3) ([]byte, error) {
	s.mu.Lock()
	e := s.chunks[pos]
	s.mu.Unlock()

	if e != nil {
		// подсчёт непустых ячеек кэшируется в чанке, поэтому нужен Lock
		e.mu.Lock()
		if e.store != nil {
			runs := world.EncodeRuns(e.store)
			e.mu.Unlock()
			return runs, nil
		}
		// боксы не меняются после сжатия; пулы берутся уже без блокировки чанка
		boxes := e.boxes
		e.mu.Unlock()

		if boxes != nil {
			lp := s.work.Acquire()
			defer s.work.Release(lp)

			tmp := s.newStore(pos)
			if err := world.NewBoxCompressor(lp).Decompress(tmp, boxes); err != nil {
				return nil, fmt.Errorf("распаковка %v: %w", pos, err)
			}
			return world.EncodeRuns(tmp), nil
		}
	}

	store := s.newStore(pos)
	found, err := s.restore(ctx, pos, store)
	if err != nil {
		return nil, err
	}
	if !found {
		return append([]byte(nil), world.EmptyChunkBytes...), nil
	}
	return world.EncodeRuns(store), nil
}

// StoredChunks позиции чанков в хранилище
func (s *Scheduler) StoredChunks(ctx context.Context) ([]vec.Vec3, error) {
	if s.deps.Repo == nil {
		return nil, nil
	}
	return s.deps.Repo.List(ctx)
}
