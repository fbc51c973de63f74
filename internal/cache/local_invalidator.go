package cache

import (
	"context"
	"sync"

	"github.com/annel0/voxel-core/internal/logging"
)

// LocalInvalidator рассылает инвалидации подписчикам внутри процесса.
// Заменяет NATSInvalidator, когда NATS не настроен.
type LocalInvalidator struct {
	mu       sync.RWMutex
	handlers []InvalidationHandler
}

func NewLocalInvalidator() *LocalInvalidator {
	return &LocalInvalidator{}
}

func (l *LocalInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	handlers := append([]InvalidationHandler(nil), l.handlers...)
	l.mu.RUnlock()

	for _, h := range handlers {
		if err := h(key); err != nil {
			logging.Warn("local invalidation of %s: %v", key, err)
		}
	}
	return nil
}

func (l *LocalInvalidator) SubscribeInvalidations(_ context.Context, handler InvalidationHandler) error {
	l.mu.Lock()
	l.handlers = append(l.handlers, handler)
	l.mu.Unlock()
	return nil
}

func (l *LocalInvalidator) Close() error {
	l.mu.Lock()
	l.handlers = nil
	l.mu.Unlock()
	return nil
}
