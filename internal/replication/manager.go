package replication

import (
	"fmt"
	"time"

	"github.com/annel0/voxel-core/internal/eventbus"
	"github.com/annel0/voxel-core/internal/logging"
)

// Config параметры репликации изменений блоков между узлами
type Config struct {
	NodeID      string
	Bus         eventbus.EventBus
	Applier     Applier
	BatchSize   int
	FlushEvery  time.Duration
	Compression string // none, gzip, zstd

	// ConflictWindow сколько помнится последняя запись ячейки, 0 - DefaultConflictWindow
	ConflictWindow time.Duration
	// Resolver nil - Last-Write-Wins
	Resolver ConflictResolver
}

// Manager связывает BatchManager, Producer и Consumer одного узла
type Manager struct {
	bm       *BatchManager
	producer *Producer
	consumer *Consumer
	logger   *logging.Logger
}

// NewManager запускает репликацию
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Bus == nil || cfg.Applier == nil {
		return nil, fmt.Errorf("репликации нужны шина и получатель изменений")
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("не задан идентификатор узла")
	}
	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, err
	}
	logger := logging.GetReplicationLogger()

	writes := NewWriteLog(cfg.ConflictWindow, cfg.Resolver)
	bm := NewBatchManager(cfg.Bus, cfg.NodeID, cfg.BatchSize, cfg.FlushEvery, compressor)
	producer, err := NewProducer(cfg.Bus, cfg.NodeID, bm, writes)
	if err != nil {
		bm.Stop()
		return nil, err
	}
	consumer, err := NewConsumer(cfg.Bus, cfg.NodeID, cfg.Applier, compressor, writes)
	if err != nil {
		producer.Stop()
		bm.Stop()
		return nil, err
	}

	logger.Info("репликация запущена: узел=%s, пакет=%d, интервал=%v, сжатие=%s",
		cfg.NodeID, bm.capacity, bm.flushEvery, compressor.Name())

	return &Manager{bm: bm, producer: producer, consumer: consumer, logger: logger}, nil
}

// Stats счётчики применения входящих пакетов
func (m *Manager) Stats() ConsumerStats { return m.consumer.Stats() }

// Batches отправленные пакеты и потерянные изменения
func (m *Manager) Batches() (sent, dropped uint64) { return m.bm.Sent(), m.bm.Dropped() }

// Stop отписывается и отправляет остаток буфера
func (m *Manager) Stop() {
	m.producer.Stop()
	m.consumer.Stop()
	m.bm.Stop()
	m.logger.Info("репликация остановлена")
}
