package replication

import (
	"context"

	"github.com/annel0/voxel-core/internal/eventbus"
	"github.com/annel0/voxel-core/internal/protocol"
)

// Producer подписывается на изменения блоков своего узла и передаёт их BatchManager'у
type Producer struct {
	bm     *BatchManager
	writes *WriteLog
	sub    eventbus.Subscription
}

// NewProducer подписывает продюсер на события BlockChanged узла source.
// Если writes не nil, свои записи попадают в журнал для разрешения конфликтов.
func NewProducer(bus eventbus.EventBus, source string, bm *BatchManager, writes *WriteLog) (*Producer, error) {
	p := &Producer{bm: bm, writes: writes}
	sub, err := bus.Subscribe(context.Background(), eventbus.Filter{
		Types:   []string{protocol.EventBlockChanged},
		Sources: []string{source},
	}, p.handle)
	if err != nil {
		return nil, err
	}
	p.sub = sub
	return p, nil
}

func (p *Producer) handle(_ context.Context, ev *eventbus.Envelope) {
	ch := Change{
		Data:      ev.Payload,
		Priority:  ev.Priority,
		Timestamp: ev.Timestamp,
		Source:    ev.Source,
		Type:      ev.EventType,
	}
	if p.writes != nil {
		if bc, err := protocol.UnmarshalBlockChange(ev.Payload); err == nil {
			p.writes.Record(bc, ch)
		}
	}
	p.bm.AddChange(ch)
}

// Stop отписывается от шины
func (p *Producer) Stop() { p.sub.Unsubscribe() }
