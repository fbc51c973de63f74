package cache

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/voxel-core/internal/logging"
)

// writeItem представляет элемент в очереди Write-Behind.
type writeItem struct {
	Key   string
	Value []byte
}

// writeBehind копит записи и сбрасывает их в Cold Storage пачками
type writeBehind struct {
	cold      ColdStorage
	interval  time.Duration
	batchSize int
	stats     *stats

	queue    chan writeItem
	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newWriteBehind(cold ColdStorage, interval time.Duration, batchSize int, st *stats) *writeBehind {
	w := &writeBehind{
		cold:      cold,
		interval:  interval,
		batchSize: batchSize,
		stats:     st,
		queue:     make(chan writeItem, batchSize*2),
		stop:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()

	logging.Info("Write-Behind started (interval: %v, batch size: %d)", interval, batchSize)
	return w
}

// enqueue ставит кадр в очередь. При переполнении очереди пишет синхронно.
func (w *writeBehind) enqueue(ctx context.Context, key string, value []byte) error {
	item := writeItem{Key: key, Value: append([]byte(nil), value...)}
	select {
	case w.queue <- item:
		w.stats.pending.Add(1)
		return nil
	default:
		logging.Warn("Write-Behind queue full, storing %s synchronously", key)
		return w.cold.Store(ctx, key, item.Value)
	}
}

func (w *writeBehind) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make(map[string][]byte)
	for {
		select {
		case item := <-w.queue:
			batch[item.Key] = item.Value
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = make(map[string][]byte)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = make(map[string][]byte)
			}

		case <-w.stop:
			// дочитываем очередь перед выходом
			for {
				select {
				case item := <-w.queue:
					batch[item.Key] = item.Value
				default:
					w.flush(batch)
					return
				}
			}
		}
	}
}

// flush записывает batch в Cold Storage.
func (w *writeBehind) flush(batch map[string][]byte) {
	if len(batch) == 0 {
		return
	}
	defer w.stats.pending.Add(-int64(len(batch)))

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.cold.BatchStore(ctx, batch); err != nil {
		logging.Error("Write-Behind batch store failed (%d items): %v", len(batch), err)
		return
	}
	logging.Debug("Write-Behind batch stored: %d items in %v", len(batch), time.Since(start))
}

// close останавливает фоновую горутину, дописав всё накопленное
func (w *writeBehind) close() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.wg.Wait()
	})
}
