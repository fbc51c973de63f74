package cache

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/voxel-core/internal/logging"
)

type memoryEntry struct {
	value   []byte
	expires time.Time // нулевое время - без истечения
}

// MemoryCache реализует CacheRepo в памяти процесса.
// Используется, когда Redis не настроен, и в тестах.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	closed  bool

	config      *CacheConfig
	coldStorage ColdStorage
	invalidator CacheInvalidator
	writer      *writeBehind
	stats       stats

	now func() time.Time
}

// NewMemoryCache создаёт кэш в памяти. coldStorage и invalidator могут быть nil.
func NewMemoryCache(config *CacheConfig, coldStorage ColdStorage, invalidator CacheInvalidator) *MemoryCache {
	if config == nil {
		config = &CacheConfig{}
	}
	config.withDefaults()

	c := &MemoryCache{
		entries:     make(map[string]memoryEntry),
		config:      config,
		coldStorage: coldStorage,
		invalidator: invalidator,
		now:         time.Now,
	}
	if config.WriteBehindEnabled && coldStorage != nil {
		c.writer = newWriteBehind(coldStorage, config.WriteBehindInterval, config.WriteBehindBatchSize, &c.stats)
	}
	return c
}

func (m *MemoryCache) expiry(ttl time.Duration) time.Time {
	if ttl == 0 {
		return time.Time{}
	}
	if ttl < 0 {
		ttl = m.config.DefaultTTL
	}
	return m.now().Add(min(ttl, m.config.MaxTTL))
}

// lookup возвращает живую запись. Вызывается под m.mu.
func (m *MemoryCache) lookup(key string) ([]byte, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		return nil, false
	}
	return e.value, true
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer m.stats.observe(start)

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	val, ok := m.lookup(key)
	m.mu.RUnlock()

	if ok {
		m.stats.hit()
		return append([]byte(nil), val...), nil
	}
	m.stats.miss()

	if m.coldStorage == nil {
		return nil, ErrCacheMiss
	}
	val, err := m.coldStorage.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	m.put(key, val, m.expiry(-1))
	return val, nil
}

func (m *MemoryCache) put(key string, value []byte, expires time.Time) {
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: append([]byte(nil), value...), expires: expires}
	m.mu.Unlock()
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	m.put(key, value, m.expiry(ttl))
	if m.writer != nil {
		return m.writer.enqueue(ctx, key, value)
	}
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.lookup(key)
	return ok, nil
}

func (m *MemoryCache) Invalidate(ctx context.Context, key string) error {
	_ = m.Delete(ctx, key)
	if m.invalidator != nil {
		return m.invalidator.PublishInvalidation(ctx, key)
	}
	return nil
}

func (m *MemoryCache) BatchGet(_ context.Context, keys []string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if val, ok := m.lookup(key); ok {
			m.stats.hit()
			out[key] = append([]byte(nil), val...)
		} else {
			m.stats.miss()
		}
	}
	return out, nil
}

func (m *MemoryCache) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	for key, value := range items {
		if err := m.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Purge удаляет истёкшие записи и возвращает их количество
func (m *MemoryCache) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	now := m.now()
	for key, e := range m.entries {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(m.entries, key)
			removed++
		}
	}
	if removed > 0 {
		logging.Debug("memory cache purged %d expired entries", removed)
	}
	return removed
}

func (m *MemoryCache) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	if m.writer != nil {
		m.writer.close()
	}
	if m.invalidator != nil {
		return m.invalidator.Close()
	}
	return nil
}

func (m *MemoryCache) GetMetrics() *CacheMetrics {
	m.mu.RLock()
	n := int64(len(m.entries))
	m.mu.RUnlock()
	return m.stats.snapshot(n)
}
