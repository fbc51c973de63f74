package engine

import (
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world"
)

// UpdateResult что сделал один шаг стриминга
type UpdateResult struct {
	Loaded       int `json:"loaded"`
	Decompressed int `json:"decompressed"`
	Compressed   int `json:"compressed"`
	Unloaded     int `json:"unloaded"`
	Meshed       int `json:"meshed"`
}

// Update сдвигает clipmap к центру (позиция в сетке чанков) и приводит
// набор чанков в соответствие: видимые загружаются ближние первыми,
// дальние уровни детализации держатся сжатыми, невидимые выгружаются.
// Затем для изменённых чанков ставятся задачи меша.
func (s *Scheduler) Update(center vec.Vec3) UpdateResult {
	var res UpdateResult

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return res
	}
	s.clipmap.SetOffset(center)

	for _, pos := range s.clipmap.VisiblePositions() {
		e := s.chunks[pos]
		farLOD := s.opts.CompressLOD > 0 && s.clipmap.Get(pos).LOD >= s.opts.CompressLOD

		switch {
		case e == nil:
			s.loadLocked(pos)
			res.Loaded++
		case e.busy:
			e.removeRequested = false
		case e.state == StateCompressed && !farLOD:
			s.loadLocked(pos)
			res.Decompressed++
		case e.state == StateReady && farLOD && !e.dirty:
			s.compressLocked(pos)
			res.Compressed++
		}
	}

	for pos, e := range s.chunks {
		if s.clipmap.IsVisible(pos) || e.state == StateRemoving {
			continue
		}
		s.unloadLocked(e)
		res.Unloaded++
	}
	s.mu.Unlock()

	res.Meshed = s.Tick()
	return res
}

// Center текущий центр clipmap
func (s *Scheduler) Center() vec.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clipmap.Center()
}

// CenterOf позиция чанка наблюдателя по мировой точке
func (s *Scheduler) CenterOf(p vec.Vec3) vec.Vec3 {
	return world.ContainingChunkPos(p, s.opts.Side)
}
