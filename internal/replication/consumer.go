package replication

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/annel0/voxel-core/internal/eventbus"
	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/protocol"
)

// Applier применяет изменение блока, пришедшее с другого узла.
// false - изменение не применилось (чанк не загружен или значение совпало).
type Applier interface {
	ApplyRemote(bc protocol.BlockChange) bool
}

// ConsumerStats счётчики применения пакетов
type ConsumerStats struct {
	Batches uint64 `json:"batches"`
	Applied uint64 `json:"applied"`
	Skipped uint64 `json:"skipped"`
	Failed  uint64 `json:"failed"`
	// Conflicts удалённые записи, проигравшие более поздней записи ячейки
	Conflicts uint64 `json:"conflicts"`
}

// Consumer слушает пакеты других узлов и применяет изменения блоков
type Consumer struct {
	nodeID  string
	applier Applier
	writes  *WriteLog
	logger  *logging.Logger
	sub     eventbus.Subscription

	mu          sync.Mutex
	compressors map[string]DeltaCompressor

	batches atomic.Uint64
	applied atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64

	conflicts atomic.Uint64
}

// NewConsumer подписывает потребителя. Пакеты узла nodeID пропускаются.
// compressor используется для пакетов без отметки о способе сжатия.
// writes nil - изменения применяются без разрешения конфликтов.
func NewConsumer(bus eventbus.EventBus, nodeID string, applier Applier, compressor DeltaCompressor, writes *WriteLog) (*Consumer, error) {
	if compressor == nil {
		compressor = NewPassthroughCompressor()
	}
	c := &Consumer{
		nodeID:      nodeID,
		applier:     applier,
		writes:      writes,
		logger:      logging.GetReplicationLogger(),
		compressors: map[string]DeltaCompressor{"": compressor, compressor.Name(): compressor},
	}
	sub, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{EventBlockChangeBatch}}, c.handle)
	if err != nil {
		return nil, err
	}
	c.sub = sub
	return c, nil
}

func (c *Consumer) compressorFor(name string) (DeltaCompressor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dc, ok := c.compressors[name]; ok {
		return dc, nil
	}
	dc, err := NewCompressor(name)
	if err != nil {
		return nil, err
	}
	c.compressors[name] = dc
	return dc, nil
}

func (c *Consumer) handle(_ context.Context, ev *eventbus.Envelope) {
	if ev.Source == c.nodeID {
		return
	}
	c.batches.Add(1)

	changes, err := c.decode(ev)
	if err != nil {
		c.failed.Add(1)
		c.logger.Warn("пакет %s от %s: %v", ev.ID, ev.Source, err)
		return
	}

	for i, ch := range changes {
		if ch.Type != "" && ch.Type != protocol.EventBlockChanged {
			c.skipped.Add(1)
			continue
		}
		bc, err := protocol.UnmarshalBlockChange(ch.Data)
		if err != nil {
			c.failed.Add(1)
			c.logger.Warn("изменение %d пакета %s: %v", i, ev.ID, err)
			continue
		}
		if c.writes != nil {
			accepted, err := c.writes.Accept(bc, ch)
			if err != nil {
				c.failed.Add(1)
				c.logger.Warn("конфликт в ячейке %v/%v: %v", bc.Chunk, bc.Local, err)
				continue
			}
			if !accepted {
				c.conflicts.Add(1)
				c.skipped.Add(1)
				continue
			}
		}
		if c.applier.ApplyRemote(bc) {
			c.applied.Add(1)
		} else {
			c.skipped.Add(1)
		}
	}
	c.logger.Debug("пакет %s от %s: %d изменений", ev.ID, ev.Source, len(changes))
}

func (c *Consumer) decode(ev *eventbus.Envelope) ([]Change, error) {
	dc, err := c.compressorFor(ev.Metadata["compression"])
	if err != nil {
		return nil, err
	}
	changes, err := dc.Decompress(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("распаковка %s: %w", dc.Name(), err)
	}
	return changes, nil
}

// Stats снимок счётчиков
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Batches: c.batches.Load(),
		Applied: c.applied.Load(),
		Skipped: c.skipped.Load(),
		Failed:  c.failed.Load(),

		Conflicts: c.conflicts.Load(),
	}
}

// Stop отписывается от шины
func (c *Consumer) Stop() { c.sub.Unsubscribe() }
