package eventbus

import (
	"context"
	"sync/atomic"

	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/protocol"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
)

// blockChangePriority изменения блоков отбрасываются под нагрузкой:
// RecordEdit вызывается под блокировкой чанка и не должен ждать шину
const blockChangePriority = 3

// BlockChangePublisher публикует отслеживаемые изменения блоков в шину.
// Реализует world.EditRecorder.
type BlockChangePublisher struct {
	bus    EventBus
	source string
	failed atomic.Uint64
}

// NewBlockChangePublisher создаёт издателя изменений от имени узла source
func NewBlockChangePublisher(bus EventBus, source string) *BlockChangePublisher {
	return &BlockChangePublisher{bus: bus, source: source}
}

// RecordEdit кодирует изменение и отправляет его без ожидания
func (p *BlockChangePublisher) RecordEdit(chunk, local vec.Vec3, old, new block.BlockData) {
	payload := protocol.MarshalBlockChange(protocol.BlockChange{
		Chunk: chunk,
		Local: local,
		Old:   old,
		New:   new,
	})
	ev := NewEnvelope(p.source, protocol.EventBlockChanged, blockChangePriority, payload)
	if err := p.bus.Publish(context.Background(), ev); err != nil {
		if p.failed.Add(1) == 1 {
			logging.Warn("публикация изменения блока %v/%v: %v", chunk, local, err)
		}
	}
}

// Failed число изменений, которые не удалось опубликовать
func (p *BlockChangePublisher) Failed() uint64 { return p.failed.Load() }

// SubscribeBlockChanges вызывает fn для каждого изменения блока в шине.
// Нераспознанные сообщения пропускаются с предупреждением.
func SubscribeBlockChanges(ctx context.Context, bus EventBus, fn func(ev *Envelope, bc protocol.BlockChange)) (Subscription, error) {
	return bus.Subscribe(ctx, Filter{Types: []string{protocol.EventBlockChanged}}, func(ctx context.Context, ev *Envelope) {
		bc, err := protocol.UnmarshalBlockChange(ev.Payload)
		if err != nil {
			logging.Warn("событие %s: %v", ev.ID, err)
			return
		}
		fn(ev, bc)
	})
}
