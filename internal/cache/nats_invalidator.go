package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-core/internal/logging"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSInvalidator реализует CacheInvalidator через NATS Pub/Sub.
// Узлы, разделяющие один Redis, сбрасывают свои копии кадров
// изменённых чанков.
type NATSInvalidator struct {
	conn    *nats.Conn
	config  *InvalidatorConfig
	nodeID  string
	recent  *dedupe
	handler InvalidationHandler

	subMu        sync.Mutex
	subscription *nats.Subscription

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	publishedCount atomic.Int64
	receivedCount  atomic.Int64
	errorsCount    atomic.Int64
}

// InvalidatorConfig содержит конфигурацию для NATS invalidator.
type InvalidatorConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`

	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`

	// Повторные уведомления о ключе в пределах окна отбрасываются
	DedupeWindow time.Duration `yaml:"dedupe_window"`
}

func (c *InvalidatorConfig) withDefaults() {
	if c.Subject == "" {
		c.Subject = "voxel.chunks.invalidate"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.DedupeWindow == 0 {
		c.DedupeWindow = 5 * time.Second
	}
}

// InvalidationMessage представляет сообщение об инвалидации кеша.
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Reason    string    `json:"reason,omitempty"`
}

// NewNATSInvalidator подключается к NATS. Пустой nodeID заменяется случайным UUID.
func NewNATSInvalidator(config *InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	config.withDefaults()
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	opts := []nats.Option{
		nats.Name("voxel-cache-" + nodeID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(config.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к NATS %s: %w", config.NATSURL, err)
	}

	n := &NATSInvalidator{
		conn:   conn,
		config: config,
		nodeID: nodeID,
		recent: newDedupe(config.DedupeWindow),
		stopCh: make(chan struct{}),
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(config.DedupeWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.recent.cleanup()
			case <-n.stopCh:
				return
			}
		}
	}()

	logging.Info("NATS invalidator initialized: %s (subject: %s, node: %s)", config.NATSURL, config.Subject, nodeID)
	return n, nil
}

// NodeID идентификатор узла в сообщениях
func (n *NATSInvalidator) NodeID() string { return n.nodeID }

// PublishInvalidation отправляет уведомление об инвалидации ключа.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.recent.admit(key) {
		logging.Debug("Skipping duplicate invalidation for key: %s", key)
		return nil
	}

	data, err := json.Marshal(&InvalidationMessage{
		Key:       key,
		Timestamp: time.Now(),
		NodeID:    n.nodeID,
		Reason:    "chunk_modified",
	})
	if err != nil {
		n.errorsCount.Add(1)
		return fmt.Errorf("marshal invalidation: %w", err)
	}

	if err := n.conn.Publish(n.config.Subject, data); err != nil {
		n.errorsCount.Add(1)
		return fmt.Errorf("publish invalidation %s: %w", key, err)
	}
	n.publishedCount.Add(1)
	return nil
}

// SubscribeInvalidations подписывается на уведомления других узлов.
// Подписка снимается при отмене ctx или Close.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.subscription != nil {
		return errors.New("подписка на инвалидацию уже оформлена")
	}
	n.handler = handler

	sub, err := n.conn.Subscribe(n.config.Subject, func(msg *nats.Msg) {
		n.receivedCount.Add(1)
		if err := n.handle(msg.Data); err != nil {
			n.errorsCount.Add(1)
			logging.Error("invalidation message: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.config.Subject, err)
	}
	n.subscription = sub

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
		case <-n.stopCh:
		}
		n.unsubscribe()
	}()

	logging.Info("Subscribed to cache invalidations on subject: %s", n.config.Subject)
	return nil
}

// handle разбирает входящее сообщение и вызывает обработчик.
// Свои сообщения и дубликаты в пределах окна пропускаются.
func (n *NATSInvalidator) handle(data []byte) error {
	var msg InvalidationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if msg.NodeID == n.nodeID {
		return nil
	}
	if !n.recent.admit(msg.Key) {
		return nil
	}
	if n.handler == nil {
		return nil
	}
	if err := n.handler(msg.Key); err != nil {
		return fmt.Errorf("handler for %s: %w", msg.Key, err)
	}
	return nil
}

func (n *NATSInvalidator) unsubscribe() {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.subscription == nil {
		return
	}
	if err := n.subscription.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		logging.Error("Failed to unsubscribe from invalidations: %v", err)
	}
	n.subscription = nil
}

// Close закрывает соединение с NATS.
func (n *NATSInvalidator) Close() error {
	n.closeOnce.Do(func() {
		close(n.stopCh)
		n.wg.Wait()
		if n.conn != nil {
			n.conn.Close()
		}
		logging.Info("NATS invalidator closed")
	})
	return nil
}

// GetMetrics возвращает счётчики invalidator.
func (n *NATSInvalidator) GetMetrics() map[string]int64 {
	return map[string]int64{
		"published_count": n.publishedCount.Load(),
		"received_count":  n.receivedCount.Load(),
		"errors_count":    n.errorsCount.Load(),
	}
}

// dedupe помнит недавно виденные ключи
type dedupe struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

func newDedupe(window time.Duration) *dedupe {
	return &dedupe{window: window, seen: make(map[string]time.Time), now: time.Now}
}

// admit возвращает true и запоминает ключ, если он не встречался в пределах окна
func (d *dedupe) admit(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		return false
	}
	d.seen[key] = now
	return true
}

func (d *dedupe) cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.window {
			delete(d.seen, key)
		}
	}
	return len(d.seen)
}
