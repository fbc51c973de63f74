package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/voxel-core/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisCache реализует CacheRepo используя Redis как Hot Cache кадров чанков.
// Поддерживает Write-Behind для асинхронной записи в Cold Storage
// и Read-Through при промахе.
type RedisCache struct {
	client      *redis.Client
	config      *CacheConfig
	coldStorage ColdStorage
	invalidator CacheInvalidator
	writer      *writeBehind
	stats       stats
}

// NewRedisCache создаёт новый Redis кеш с опциональным Cold Storage.
//
// Параметры:
//
//	config - конфигурация Redis и Write-Behind
//	coldStorage - опциональное постоянное хранилище (может быть nil)
//	invalidator - опциональный invalidator для Pub/Sub (может быть nil)
func NewRedisCache(config *CacheConfig, coldStorage ColdStorage, invalidator CacheInvalidator) (*RedisCache, error) {
	config.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("не удалось подключиться к Redis %s: %w", config.RedisURL, err)
	}

	c := &RedisCache{
		client:      rdb,
		config:      config,
		coldStorage: coldStorage,
		invalidator: invalidator,
	}
	if config.WriteBehindEnabled && coldStorage != nil {
		c.writer = newWriteBehind(coldStorage, config.WriteBehindInterval, config.WriteBehindBatchSize, &c.stats)
	}

	logging.Info("Redis cache initialized: %s (Write-Behind: %v)", config.RedisURL, c.writer != nil)
	return c, nil
}

func (r *RedisCache) ttl(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return 0
	}
	if ttl < 0 {
		return r.config.DefaultTTL
	}
	return min(ttl, r.config.MaxTTL)
}

// Get получает кадр из Redis. При промахе загружает из Cold Storage
// и прогревает кэш.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer r.stats.observe(start)

	val, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		r.stats.hit()
		return val, nil
	}
	r.stats.miss()

	if !errors.Is(err, redis.Nil) {
		logging.Error("Redis Get error for key %s: %v", key, err)
		return nil, fmt.Errorf("redis get: %w", err)
	}

	if r.coldStorage == nil {
		return nil, ErrCacheMiss
	}
	val, err = r.coldStorage.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := r.client.Set(ctx, key, val, r.config.DefaultTTL).Err(); err != nil {
		logging.Warn("Redis warm-up failed for key %s: %v", key, err)
	}
	return val, nil
}

// Set сохраняет кадр в Redis. Отрицательный ttl - DefaultTTL.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	start := time.Now()
	defer r.stats.observe(start)

	if err := r.client.Set(ctx, key, value, r.ttl(ttl)).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if r.writer != nil {
		return r.writer.enqueue(ctx, key, value)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Invalidate удаляет ключ и рассылает уведомление другим узлам
func (r *RedisCache) Invalidate(ctx context.Context, key string) error {
	if err := r.Delete(ctx, key); err != nil {
		return err
	}
	if r.invalidator != nil {
		return r.invalidator.PublishInvalidation(ctx, key)
	}
	return nil
}

// BatchGet читает ключи одним MGET. Отсутствующие ключи в результат не попадают.
func (r *RedisCache) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	start := time.Now()
	defer r.stats.observe(start)

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make(map[string][]byte, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			r.stats.miss()
			continue
		}
		r.stats.hit()
		out[keys[i]] = []byte(s)
	}
	return out, nil
}

// BatchSet пишет все значения одним pipeline
func (r *RedisCache) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	start := time.Now()
	defer r.stats.observe(start)

	exp := r.ttl(ttl)
	pipe := r.client.Pipeline()
	for key, value := range items {
		pipe.Set(ctx, key, value, exp)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	if r.writer != nil {
		for key, value := range items {
			if err := r.writer.enqueue(ctx, key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close дописывает очередь Write-Behind и закрывает соединения.
func (r *RedisCache) Close() error {
	if r.writer != nil {
		r.writer.close()
	}
	if r.invalidator != nil {
		if err := r.invalidator.Close(); err != nil {
			logging.Warn("invalidator close: %v", err)
		}
	}
	return r.client.Close()
}

// GetMetrics возвращает текущие метрики кеша.
func (r *RedisCache) GetMetrics() *CacheMetrics {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	keys, err := r.client.DBSize(ctx).Result()
	if err != nil {
		keys = -1
	}
	return r.stats.snapshot(keys)
}
