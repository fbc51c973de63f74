package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/voxel-core/internal/cache"
	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/mesh"
	"github.com/annel0/voxel-core/internal/metrics"
	"github.com/annel0/voxel-core/internal/observability"
	"github.com/annel0/voxel-core/internal/pool"
	"github.com/annel0/voxel-core/internal/protocol"
	"github.com/annel0/voxel-core/internal/storage"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world"
	"github.com/annel0/voxel-core/internal/world/block"
)

// Deps зависимости планировщика. Необязательные поля могут быть nil.
type Deps struct {
	Registry   *block.Registry
	Generator  *world.Generator // nil - новые чанки остаются пустыми
	Mesher     *mesh.GreedyMesher
	Serializer *protocol.ChunkSerializer

	Repo     storage.ChunkRepo  // nil - без сохранения
	Cache    cache.CacheRepo    // nil - без горячего кэша
	Recorder world.EditRecorder // nil - изменения не публикуются
	Metrics  *metrics.Metrics
}

// Options параметры планировщика
type Options struct {
	Side    int
	Padding int
	Workers int

	// CacheTTL время жизни кадра выгруженного чанка в горячем кэше
	CacheTTL time.Duration

	// Видимые чанки с LOD не ниже CompressLOD хранятся сжатыми. 0 - выключено.
	CompressLOD int

	// Clipmap вокруг наблюдателя
	ViewRange int
	RangeYMin int
	RangeYMax int
	CoefLOD   float32
}

// Job ожидание фоновой задачи
type Job interface {
	Wait() error
}

// doneJob уже завершённая задача
type doneJob struct{ err error }

func (d doneJob) Wait() error { return d.err }

// chunkEntry чанк под управлением планировщика
type chunkEntry struct {
	pos vec.Vec3

	// mu защищает содержимое: store, boxes, geometry
	mu       sync.RWMutex
	store    *world.ChunkStore
	boxes    []world.BlockDataAABB
	geometry *mesh.Geometry

	// поля ниже под Scheduler.mu
	state           ChunkState
	busy            bool
	removeRequested bool
	dirty           bool // нужен новый меш
	modified        bool // есть несохранённые изменения
	task            Job
}

type jobFunc func(ctx context.Context, lp *pool.LocalPools) (ChunkState, error)

// Scheduler управляет жизненным циклом чанков: генерация или загрузка,
// построение меша, сжатие, выгрузка с сохранением. На чанк в каждый
// момент приходится не больше одной задачи.
type Scheduler struct {
	deps   Deps
	opts   Options
	logger *logging.Logger
	tracer trace.Tracer

	work *pool.WorkPool
	pool pond.Pool

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	chunks  map[vec.Vec3]*chunkEntry
	counts  [stateCount]int
	closing bool
	clipmap *world.Clipmap
	blocks  *world.Blocks
}

// New создаёт планировщик и пул воркеров
func New(deps Deps, opts Options) (*Scheduler, error) {
	if deps.Registry == nil || deps.Mesher == nil || deps.Serializer == nil {
		return nil, fmt.Errorf("планировщику нужны реестр блоков, мешер и сериализатор")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Padding <= 0 {
		opts.Padding = world.DefaultPadding
	}
	if err := deps.Mesher.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		deps:   deps,
		opts:   opts,
		logger: logging.GetEngineLogger(),
		tracer: observability.Tracer("voxel-core/engine"),
		work:   pool.NewWorkPool(opts.Workers),
		pool:   pond.NewPool(opts.Workers, pond.WithContext(ctx)),
		ctx:    ctx,
		cancel: cancel,
		chunks: make(map[vec.Vec3]*chunkEntry),
	}
	s.blocks = world.NewBlocks(opts.Side, s)

	s.clipmap = world.NewClipmap(opts.ViewRange, opts.RangeYMin, opts.RangeYMax, maxLOD(opts.Side))
	s.clipmap.Init(-1, opts.CoefLOD)

	s.logger.Info("планировщик запущен: чанк %d, воркеров %d, дальность %d", opts.Side, opts.Workers, opts.ViewRange)
	return s, nil
}

// maxLOD log2 размера чанка
func maxLOD(side int) int {
	lod := 0
	for side > 1 {
		side >>= 1
		lod++
	}
	return lod
}

// Blocks доступ к блокам в мировых координатах
func (s *Scheduler) Blocks() *world.Blocks { return s.blocks }

// Options параметры планировщика
func (s *Scheduler) Options() Options { return s.opts }

// newStore пустой чанк в позиции pos
func (s *Scheduler) newStore(pos vec.Vec3) *world.ChunkStore {
	st := world.NewChunkStore(s.opts.Side, s.opts.Padding, s.deps.Registry)
	st.Pos = pos
	if s.deps.Recorder != nil {
		st.SetRecorder(s.deps.Recorder)
	}
	return st
}

// setState меняет состояние и счётчики. Вызывается под s.mu.
func (s *Scheduler) setState(e *chunkEntry, st ChunkState) {
	s.counts[e.state]--
	s.counts[st]++
	if m := s.deps.Metrics; m != nil {
		m.ChunkStates.WithLabelValues(e.state.String()).Set(float64(s.counts[e.state]))
		m.ChunkStates.WithLabelValues(st.String()).Set(float64(s.counts[st]))
	}
	e.state = st
}

// entry возвращает запись чанка, создавая её при create. Вызывается под s.mu.
func (s *Scheduler) entry(pos vec.Vec3, create bool) *chunkEntry {
	e := s.chunks[pos]
	if e == nil && create {
		e = &chunkEntry{pos: pos}
		s.chunks[pos] = e
		s.counts[StateEmpty]++
	}
	return e
}

// drop удаляет запись. Вызывается под s.mu.
func (s *Scheduler) drop(e *chunkEntry) {
	s.setState(e, StateEmpty)
	s.counts[StateEmpty]--
	delete(s.chunks, e.pos)
}

// start переводит чанк в состояние to и ставит задачу в пул.
// Вызывается под s.mu; чанк не должен быть занят.
func (s *Scheduler) start(kind string, e *chunkEntry, to ChunkState, fn jobFunc) Job {
	if e.busy {
		panic(fmt.Sprintf("чанк %v уже занят задачей (%s)", e.pos, e.state))
	}
	e.busy = true
	s.setState(e, to)
	e.task = s.pool.SubmitErr(func() error {
		return s.run(kind, e, fn)
	})
	return e.task
}

// run выполняет задачу с пулами воркера и трассировкой
func (s *Scheduler) run(kind string, e *chunkEntry, fn jobFunc) error {
	started := time.Now()
	ctx, span := s.tracer.Start(s.ctx, "engine."+kind, trace.WithAttributes(
		attribute.Int("chunk.x", e.pos.X),
		attribute.Int("chunk.y", e.pos.Y),
		attribute.Int("chunk.z", e.pos.Z),
	))
	defer span.End()

	lp := s.work.Acquire()
	s.trackPools()
	next, err := func() (ChunkState, error) {
		defer func() {
			s.work.Release(lp)
			s.trackPools()
		}()
		return fn(ctx, lp)
	}()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("задача %s для чанка %v: %v", kind, e.pos, err)
	}
	if m := s.deps.Metrics; m != nil {
		m.ObserveJob(kind, started, err)
	}
	s.finish(e, next)
	return err
}

func (s *Scheduler) trackPools() {
	if m := s.deps.Metrics; m != nil {
		m.WorkPoolsInUse.Set(float64(s.work.Size() - s.work.Available()))
	}
}

// finish освобождает чанк и выполняет отложенное удаление
func (s *Scheduler) finish(e *chunkEntry, next ChunkState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.busy = false
	e.task = nil
	if next == StateEmpty {
		s.drop(e)
		return
	}
	s.setState(e, next)

	if e.removeRequested {
		e.removeRequested = false
		s.startUnload(e)
	}
}

// State состояние чанка. false - чанк не загружен.
func (s *Scheduler) State(pos vec.Vec3) (ChunkState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.chunks[pos]
	if e == nil {
		return StateEmpty, false
	}
	return e.state, true
}

// Stats снимок состояния планировщика
type Stats struct {
	Chunks       int            `json:"chunks"`
	States       map[string]int `json:"states"`
	Dirty        int            `json:"dirty"`
	Running      int64          `json:"running"`
	Waiting      uint64         `json:"waiting"`
	PoolsInUse   int            `json:"pools_in_use"`
	PoolsTotal   int            `json:"pools_total"`
	ClipmapRange int            `json:"clipmap_range"`
}

// Stats возвращает снимок состояния
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Chunks:       len(s.chunks),
		States:       make(map[string]int),
		Running:      s.pool.RunningWorkers(),
		Waiting:      s.pool.WaitingTasks(),
		PoolsInUse:   s.work.Size() - s.work.Available(),
		PoolsTotal:   s.work.Size(),
		ClipmapRange: s.clipmap.VisibleRange(),
	}
	for state, n := range s.counts {
		if n > 0 {
			st.States[ChunkState(state).String()] = n
		}
	}
	for _, e := range s.chunks {
		if e.dirty {
			st.Dirty++
		}
	}
	return st
}

// Close выгружает все чанки с сохранением и останавливает пул.
// Задачи, не завершившиеся до отмены ctx, бросаются.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	for _, e := range s.chunks {
		s.unloadLocked(e)
	}
	s.mu.Unlock()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	var err error
wait:
	for {
		s.mu.Lock()
		left := len(s.chunks)
		s.mu.Unlock()
		if left == 0 {
			break
		}
		select {
		case <-ctx.Done():
			err = fmt.Errorf("не выгружено %d чанков: %w", left, ctx.Err())
			break wait
		case <-ticker.C:
		}
	}

	s.cancel()
	s.pool.StopAndWait()
	s.logger.Info("планировщик остановлен")
	return err
}
