package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/annel0/voxel-core/internal/cache"
	"github.com/annel0/voxel-core/internal/pool"
	"github.com/annel0/voxel-core/internal/storage"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world"
)

// Load загружает чанк: из горячего кэша, хранилища или генератором.
// Сжатый чанк распаковывается. Если над чанком уже идёт задача,
// возвращается она.
func (s *Scheduler) Load(pos vec.Vec3) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(pos)
}

func (s *Scheduler) loadLocked(pos vec.Vec3) Job {
	if s.closing {
		return doneJob{ErrClosed}
	}
	e := s.entry(pos, true)
	e.removeRequested = false
	if e.busy {
		return e.task
	}

	switch e.state {
	case StateEmpty:
		return s.start("load", e, StateGenerating, func(ctx context.Context, lp *pool.LocalPools) (ChunkState, error) {
			return s.loadJob(ctx, lp, e)
		})
	case StateCompressed:
		return s.start("decompress", e, StateDecompressing, func(ctx context.Context, lp *pool.LocalPools) (ChunkState, error) {
			return s.decompressJob(lp, e)
		})
	}
	return doneJob{}
}

func (s *Scheduler) loadJob(ctx context.Context, lp *pool.LocalPools, e *chunkEntry) (ChunkState, error) {
	store := s.newStore(e.pos)

	restored, err := s.restore(ctx, e.pos, store)
	if err != nil {
		s.logger.Warn("чанк %v не восстановлен, генерируем заново: %v", e.pos, err)
	}
	if !restored && s.deps.Generator != nil {
		s.deps.Generator.Generate(store, lp)
	}

	e.mu.Lock()
	e.store = store
	e.mu.Unlock()

	s.mu.Lock()
	e.dirty = true
	// у соседей меняется рамка и отсечение краевых граней
	for _, dir := range vec.Directions {
		if n := s.chunks[e.pos.Add(dir.Offset())]; n != nil {
			n.dirty = true
		}
	}
	s.mu.Unlock()
	return StateReady, nil
}

// restore читает кадр чанка из кэша или хранилища. false - сохранённой копии нет.
func (s *Scheduler) restore(ctx context.Context, pos vec.Vec3, store *world.ChunkStore) (bool, error) {
	key := storage.ChunkKey(pos)

	if c := s.deps.Cache; c != nil {
		frame, err := c.Get(ctx, key)
		switch {
		case err == nil:
			decodeErr := s.decode(store, frame)
			if decodeErr == nil {
				return true, nil
			}
			s.logger.Warn("кадр %s в кэше повреждён: %v", key, decodeErr)
			_ = c.Delete(ctx, key)
		case cache.IsCacheMiss(err):
		default:
			s.logger.Warn("кэш недоступен для %s: %v", key, err)
		}
	}

	if s.deps.Repo == nil {
		return false, nil
	}
	frame, found, err := s.deps.Repo.Load(ctx, pos)
	if err != nil {
		return false, fmt.Errorf("загрузка %s: %w", key, err)
	}
	if !found {
		return false, nil
	}
	if err := s.decode(store, frame); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scheduler) decode(store *world.ChunkStore, frame []byte) error {
	err := s.deps.Serializer.DecodeChunk(store, frame)
	if err != nil && errors.Is(err, world.ErrMalformedChunk) && s.deps.Metrics != nil {
		s.deps.Metrics.DecodeErrors.Inc()
	}
	return err
}

// Mesh строит меш готового чанка
func (s *Scheduler) Mesh(pos vec.Vec3) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meshLocked(pos)
}

func (s *Scheduler) meshLocked(pos vec.Vec3) Job {
	if s.closing {
		return doneJob{ErrClosed}
	}
	e := s.chunks[pos]
	if e == nil {
		return doneJob{fmt.Errorf("%v: %w", pos, ErrNotLoaded)}
	}
	if e.busy {
		return e.task
	}
	if e.state != StateReady {
		return doneJob{fmt.Errorf("%v в состоянии %s: %w", pos, e.state, ErrNotReady)}
	}
	e.dirty = false
	return s.start("mesh", e, StateMeshing, func(ctx context.Context, lp *pool.LocalPools) (ChunkState, error) {
		return s.meshJob(lp, e)
	})
}

// meshJob держит Lock на чанке и RLock на соседях. Блокировки берутся
// в порядке позиций, поэтому встречные задачи не взаимоблокируются.
func (s *Scheduler) meshJob(lp *pool.LocalPools, e *chunkEntry) (ChunkState, error) {
	s.mu.Lock()
	var neighbors [vec.DirectionCount]*chunkEntry
	locked := []*chunkEntry{e}
	for _, dir := range vec.Directions {
		if n := s.chunks[e.pos.Add(dir.Offset())]; n != nil {
			neighbors[dir] = n
			locked = append(locked, n)
		}
	}
	s.mu.Unlock()

	sort.Slice(locked, func(i, j int) bool { return lessPos(locked[i].pos, locked[j].pos) })
	for _, l := range locked {
		if l == e {
			l.mu.Lock()
		} else {
			l.mu.RLock()
		}
	}
	defer func() {
		for _, l := range locked {
			if l == e {
				l.mu.Unlock()
			} else {
				l.mu.RUnlock()
			}
		}
	}()

	if e.store == nil {
		return StateReady, fmt.Errorf("%v: нет данных для меша", e.pos)
	}
	var stores [vec.DirectionCount]*world.ChunkStore
	for dir, n := range neighbors {
		if n != nil && n.store != nil {
			stores[dir] = n.store
		}
	}

	geo := s.deps.Mesher.Build(e.store, stores, lp)
	e.geometry = geo

	if m := s.deps.Metrics; m != nil {
		m.ChunksMeshed.Inc()
		m.MeshQuads.Observe(float64(geo.QuadCount()))
	}
	return StateReady, nil
}

func lessPos(a, b vec.Vec3) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

// Compress сжимает готовый чанк в боксы. Меш сохраняется.
func (s *Scheduler) Compress(pos vec.Vec3) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compressLocked(pos)
}

func (s *Scheduler) compressLocked(pos vec.Vec3) Job {
	if s.closing {
		return doneJob{ErrClosed}
	}
	e := s.chunks[pos]
	if e == nil {
		return doneJob{fmt.Errorf("%v: %w", pos, ErrNotLoaded)}
	}
	if e.busy {
		return e.task
	}
	if e.state != StateReady {
		return doneJob{fmt.Errorf("%v в состоянии %s: %w", pos, e.state, ErrNotReady)}
	}
	return s.start("compress", e, StateCompressing, func(ctx context.Context, lp *pool.LocalPools) (ChunkState, error) {
		e.mu.Lock()
		defer e.mu.Unlock()

		boxes := world.NewBoxCompressor(lp).Compress(e.store)
		e.boxes = boxes
		e.store = nil

		if m := s.deps.Metrics; m != nil {
			m.CompressBoxes.Observe(float64(len(boxes)))
		}
		return StateCompressed, nil
	})
}

func (s *Scheduler) decompressJob(lp *pool.LocalPools, e *chunkEntry) (ChunkState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	store := s.newStore(e.pos)
	if err := world.NewBoxCompressor(lp).Decompress(store, e.boxes); err != nil {
		return StateCompressed, err
	}
	e.store = store
	e.boxes = nil
	return StateReady, nil
}

// Unload выгружает чанк с сохранением. Если над чанком идёт задача,
// выгрузка откладывается до её завершения, а Wait ждёт текущую задачу.
func (s *Scheduler) Unload(pos vec.Vec3) Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.chunks[pos]
	if e == nil {
		return doneJob{}
	}
	return s.unloadLocked(e)
}

func (s *Scheduler) unloadLocked(e *chunkEntry) Job {
	if e.busy {
		if e.state != StateRemoving {
			e.removeRequested = true
		}
		return e.task
	}
	return s.startUnload(e)
}

// startUnload вызывается под s.mu для свободного чанка
func (s *Scheduler) startUnload(e *chunkEntry) Job {
	prev := e.state
	return s.start("unload", e, StateRemoving, func(ctx context.Context, lp *pool.LocalPools) (ChunkState, error) {
		return s.unloadJob(ctx, lp, e, prev)
	})
}

// unloadJob сериализует чанк, сохраняет изменённый в хранилище и кладёт
// кадр в горячий кэш. При ошибке сохранения чанк остаётся в памяти.
func (s *Scheduler) unloadJob(ctx context.Context, lp *pool.LocalPools, e *chunkEntry, prev ChunkState) (ChunkState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// запись в чанк ставит modified, удерживая e.mu
	s.mu.Lock()
	modified := e.modified
	closing := s.closing
	s.mu.Unlock()

	store := e.store
	if store == nil && e.boxes != nil {
		store = s.newStore(e.pos)
		if err := world.NewBoxCompressor(lp).Decompress(store, e.boxes); err != nil {
			return prev, err
		}
	}
	if store == nil {
		return StateEmpty, nil
	}
	frame := s.deps.Serializer.EncodeChunk(store)
	key := storage.ChunkKey(e.pos)

	if modified && s.deps.Repo != nil {
		if err := s.deps.Repo.Save(ctx, e.pos, frame); err != nil {
			if !closing {
				return prev, fmt.Errorf("сохранение %s: %w", key, err)
			}
			s.logger.Error("изменения чанка %v потеряны при остановке: %v", e.pos, err)
		}
	}
	if c := s.deps.Cache; c != nil {
		if err := c.Set(ctx, key, frame, s.opts.CacheTTL); err != nil {
			s.logger.Warn("кэширование %s: %v", key, err)
		}
	}

	e.store = nil
	e.boxes = nil
	e.geometry = nil
	return StateEmpty, nil
}
