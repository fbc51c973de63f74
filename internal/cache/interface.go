package cache

import (
	"context"
	"errors"
	"time"
)

// CacheRepo определяет интерфейс горячего кэша кадров чанков.
// Двухуровневая схема: Hot Cache (Redis или память) + Cold Storage (BadgerDB).
//
// Использование:
//
//	c := NewMemoryCache(cfg, cold, nil)
//	frame, err := c.Get(ctx, storage.ChunkKey(pos))
//	err = c.Set(ctx, key, frame, 10*time.Minute)
//	err = c.Invalidate(ctx, key)
type CacheRepo interface {
	// Get получает значение по ключу из кеша.
	// Возвращает ErrCacheMiss если ключ не найден ни в кэше, ни в Cold Storage.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение в кеше с указанным TTL.
	// TTL = 0 означает отсутствие истечения, отрицательный TTL - DefaultTTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ из кеша.
	Delete(ctx context.Context, key string) error

	// Exists проверяет существование ключа в кеше.
	Exists(ctx context.Context, key string) (bool, error)

	// Invalidate удаляет ключ и рассылает уведомление другим узлам.
	Invalidate(ctx context.Context, key string) error

	// BatchGet получает несколько значений за один запрос.
	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)

	// BatchSet сохраняет несколько значений за один запрос.
	BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Close закрывает соединение с кешем.
	Close() error

	// GetMetrics возвращает метрики кеша.
	GetMetrics() *CacheMetrics
}

// ColdStorage определяет интерфейс для постоянного хранения данных.
// Используется как fallback когда данные отсутствуют в Hot Cache.
type ColdStorage interface {
	// Load загружает данные. Отсутствие ключа - ErrCacheMiss.
	Load(ctx context.Context, key string) ([]byte, error)

	// Store сохраняет данные в постоянное хранилище.
	Store(ctx context.Context, key string, value []byte) error

	// BatchStore сохраняет несколько записей.
	BatchStore(ctx context.Context, items map[string][]byte) error
}

// CacheInvalidator управляет инвалидацией кеша через Pub/Sub.
type CacheInvalidator interface {
	// PublishInvalidation отправляет уведомление об инвалидации.
	PublishInvalidation(ctx context.Context, key string) error

	// SubscribeInvalidations подписывается на уведомления об инвалидации.
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error

	// Close закрывает соединение.
	Close() error
}

// InvalidationHandler обрабатывает уведомления об инвалидации кеша.
type InvalidationHandler func(key string) error

// CacheMetrics содержит метрики производительности кеша.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	TotalKeys     int64 `json:"total_keys"`
	PendingWrites int64 `json:"pending_writes"`

	LastUpdate time.Time `json:"last_update"`
}

// CacheConfig содержит конфигурацию для кеша.
type CacheConfig struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int

	DefaultTTL time.Duration
	MaxTTL     time.Duration

	// Write-Behind: Set ставит кадр в очередь записи в Cold Storage
	WriteBehindEnabled   bool
	WriteBehindInterval  time.Duration
	WriteBehindBatchSize int

	MaxConnections int
	PoolTimeout    time.Duration
}

// withDefaults заполняет незаданные поля
func (c *CacheConfig) withDefaults() {
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 10 * time.Minute
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = 1 * time.Hour
	}
	if c.WriteBehindInterval == 0 {
		c.WriteBehindInterval = 5 * time.Second
	}
	if c.WriteBehindBatchSize == 0 {
		c.WriteBehindBatchSize = 100
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = 30 * time.Second
	}
}

// Ошибки кеша
var (
	ErrCacheMiss  = errors.New("промах кэша")
	ErrInvalidKey = errors.New("недопустимый ключ")
	ErrClosed     = errors.New("кэш закрыт")
)

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
