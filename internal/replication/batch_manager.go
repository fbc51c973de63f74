package replication

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-core/internal/eventbus"
	"github.com/annel0/voxel-core/internal/logging"
)

// EventBlockChangeBatch тип события с пакетом изменений блоков
const EventBlockChangeBatch = "BlockChangeBatch"

// BatchManager накапливает изменения и отправляет их пакетами через EventBus.
// У каждого узла собственный экземпляр.
type BatchManager struct {
	mu       sync.Mutex
	buf      []Change
	capacity int

	flushEvery time.Duration
	bus        eventbus.EventBus
	source     string
	compressor DeltaCompressor
	logger     *logging.Logger

	sent    atomic.Uint64
	dropped atomic.Uint64

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewBatchManager создаёт менеджер с лимитом буфера и интервалом отправки
func NewBatchManager(bus eventbus.EventBus, source string, capacity int, flushEvery time.Duration, compressor DeltaCompressor) *BatchManager {
	if compressor == nil {
		compressor = NewPassthroughCompressor()
	}
	if capacity <= 0 {
		capacity = 1024
	}
	if flushEvery <= 0 {
		flushEvery = 100 * time.Millisecond
	}
	bm := &BatchManager{
		capacity:   capacity,
		flushEvery: flushEvery,
		bus:        bus,
		source:     source,
		compressor: compressor,
		logger:     logging.GetReplicationLogger(),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go bm.loop()
	return bm
}

// AddChange добавляет изменение в буфер. При переполнении новое
// изменение вытесняет самое младшее по приоритету, если оно младше нового.
func (bm *BatchManager) AddChange(ch Change) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if len(bm.buf) < bm.capacity {
		bm.buf = append(bm.buf, ch)
		return
	}

	lowIdx := -1
	lowPri := ch.Priority
	for i, c := range bm.buf {
		if c.Priority < lowPri {
			lowPri = c.Priority
			lowIdx = i
		}
	}
	bm.dropped.Add(1)
	if lowIdx >= 0 {
		bm.buf[lowIdx] = ch
	}
}

// Pending изменения, ожидающие отправки
func (bm *BatchManager) Pending() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return len(bm.buf)
}

// Sent отправленные пакеты
func (bm *BatchManager) Sent() uint64 { return bm.sent.Load() }

// Dropped изменения, потерянные при переполнении буфера
func (bm *BatchManager) Dropped() uint64 { return bm.dropped.Load() }

func (bm *BatchManager) loop() {
	defer close(bm.done)
	ticker := time.NewTicker(bm.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bm.Flush()
		case <-bm.quit:
			return
		}
	}
}

// Flush отсылает накопленные изменения единым сообщением
func (bm *BatchManager) Flush() {
	bm.mu.Lock()
	if len(bm.buf) == 0 {
		bm.mu.Unlock()
		return
	}
	changes := make([]Change, len(bm.buf))
	copy(changes, bm.buf)
	bm.buf = bm.buf[:0]
	bm.mu.Unlock()

	payload, err := bm.compressor.Compress(changes)
	if err != nil {
		bm.logger.Warn("сжатие пакета из %d изменений: %v", len(changes), err)
		return
	}

	env := eventbus.NewEnvelope(bm.source, EventBlockChangeBatch, eventbus.HighPriority, payload)
	env.Metadata = map[string]string{
		"compression": bm.compressor.Name(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bm.bus.Publish(ctx, env); err != nil {
		bm.logger.Warn("публикация пакета из %d изменений: %v", len(changes), err)
		return
	}
	bm.sent.Add(1)
	bm.logger.Debug("отправлен пакет: %d изменений, %d байт", len(changes), len(payload))
}

// Stop завершает работу менеджера и отправляет оставшиеся изменения
func (bm *BatchManager) Stop() {
	bm.stopOnce.Do(func() {
		close(bm.quit)
		<-bm.done
		bm.Flush()
	})
}
