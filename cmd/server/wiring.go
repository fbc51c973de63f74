package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/voxel-core/internal/api"
	"github.com/annel0/voxel-core/internal/auth"
	"github.com/annel0/voxel-core/internal/cache"
	"github.com/annel0/voxel-core/internal/config"
	"github.com/annel0/voxel-core/internal/engine"
	"github.com/annel0/voxel-core/internal/eventbus"
	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/mesh"
	"github.com/annel0/voxel-core/internal/metrics"
	"github.com/annel0/voxel-core/internal/protocol"
	"github.com/annel0/voxel-core/internal/replication"
	"github.com/annel0/voxel-core/internal/storage"
	"github.com/annel0/voxel-core/internal/world"
	"github.com/annel0/voxel-core/internal/world/block"

	// поведения блоков регистрируются в init
	_ "github.com/annel0/voxel-core/internal/world/block/implementations"
)

// app все компоненты узла в порядке запуска
type app struct {
	nodeID string
	blocks *block.Registry

	metrics    *metrics.Metrics
	serializer *protocol.ChunkSerializer
	repo       storage.ChunkRepo
	closeRepo  func() error

	invalidator cache.CacheInvalidator
	cache       cache.CacheRepo

	bus         eventbus.EventBus
	busLog      eventbus.Subscription
	busExporter *eventbus.MetricsExporter

	scheduler   *engine.Scheduler
	replication *replication.Manager
	api         *api.RestServer
}

// nodeID идентификатор узла: из конфигурации, имя хоста или случайный
func nodeID(cfg *config.Config) string {
	if cfg.Replication.NodeID != "" {
		return cfg.Replication.NodeID
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

// newApp собирает узел. При ошибке уже созданные компоненты закрываются.
func newApp(cfg *config.Config) (a *app, err error) {
	a = &app{nodeID: nodeID(cfg), metrics: metrics.New()}
	defer func() {
		if err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.close(ctx)
			a = nil
		}
	}()

	// === МИР ===
	reg, err := block.LoadRegistry(cfg.Blocks.Dir)
	if err != nil {
		return a, fmt.Errorf("реестр блоков %s: %w", cfg.Blocks.Dir, err)
	}
	logging.Info("📦 Загружено типов блоков: %d", reg.Len())
	a.blocks = reg

	gen, err := world.NewGenerator(reg, cfg.World.Generator())
	if err != nil {
		return a, fmt.Errorf("генератор: %w", err)
	}
	atlas, err := mesh.NewGridAtlas(reg, cfg.Blocks.AtlasColumns)
	if err != nil {
		return a, fmt.Errorf("атлас: %w", err)
	}
	meshCfg, err := cfg.Mesh.ToMesh()
	if err != nil {
		return a, err
	}
	mesher := mesh.NewGreedyMesher(reg, atlas, meshCfg)

	compression, err := protocol.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return a, err
	}
	if a.serializer, err = protocol.NewChunkSerializer(compression, cfg.World.ChunkSide, cfg.World.Padding); err != nil {
		return a, err
	}

	// === ХРАНИЛИЩЕ ===
	if cfg.Storage.Path == "" {
		a.repo = storage.NewMemoryChunkRepo()
		logging.Warn("storage.path не задан: чанки хранятся только в памяти")
	} else {
		ws, err := storage.NewWorldStorage(cfg.Storage.Path)
		if err != nil {
			return a, err
		}
		a.repo, a.closeRepo = ws, ws.Close
	}

	if err := a.initCache(cfg); err != nil {
		return a, err
	}

	// === ШИНА СОБЫТИЙ ===
	if cfg.EventBus.URL != "" {
		jb, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, cfg.EventBus.RetentionPeriod())
		if err != nil {
			return a, err
		}
		a.bus = jb
	} else {
		a.bus = eventbus.NewMemoryBus(cfg.EventBus.Capacity)
	}
	eventbus.Init(a.bus)

	if a.busLog, err = eventbus.StartLoggingListener(a.bus); err != nil {
		return a, err
	}
	if a.busExporter, err = eventbus.NewMetricsExporter(a.bus, a.metrics.Registry); err != nil {
		return a, err
	}
	a.busExporter.Start(5 * time.Second)

	// === ПЛАНИРОВЩИК ===
	a.scheduler, err = engine.New(engine.Deps{
		Registry:   reg,
		Generator:  gen,
		Mesher:     mesher,
		Serializer: a.serializer,
		Repo:       a.repo,
		Cache:      a.cache,
		Recorder:   eventbus.NewBlockChangePublisher(a.bus, a.nodeID),
		Metrics:    a.metrics,
	}, engine.Options{
		Side:        cfg.World.ChunkSide,
		Padding:     cfg.World.Padding,
		Workers:     cfg.Scheduler.Workers,
		CacheTTL:    cfg.Cache.TTL(),
		CompressLOD: cfg.Scheduler.CompressLOD,
		ViewRange:   cfg.World.ViewRange,
		RangeYMin:   cfg.World.RangeYMin,
		RangeYMax:   cfg.World.RangeYMax,
		CoefLOD:     cfg.World.CoefLOD,
	})
	if err != nil {
		return a, err
	}

	if cfg.Replication.Enabled {
		a.replication, err = replication.NewManager(replication.Config{
			NodeID:      a.nodeID,
			Bus:         a.bus,
			Applier:     a.scheduler,
			BatchSize:   cfg.Replication.BatchSize,
			FlushEvery:  cfg.Replication.FlushEvery(),
			Compression: cfg.Replication.Compression,
		})
		if err != nil {
			return a, err
		}
	}

	// === REST API ===
	if cfg.API.Enabled {
		if err := a.initAPI(cfg, reg); err != nil {
			return a, err
		}
	}
	return a, nil
}

// initCache горячий кэш кадров и рассылка инвалидаций
func (a *app) initCache(cfg *config.Config) error {
	if cfg.EventBus.URL != "" {
		inv, err := cache.NewNATSInvalidator(&cache.InvalidatorConfig{
			NATSURL: cfg.EventBus.URL,
			Subject: cfg.Cache.InvalidationSubject,
		}, a.nodeID)
		if err != nil {
			return err
		}
		a.invalidator = inv
	} else {
		a.invalidator = cache.NewLocalInvalidator()
	}

	cc := &cache.CacheConfig{
		RedisURL:             cfg.Cache.Addr,
		RedisPassword:        cfg.Cache.Password,
		RedisDB:              cfg.Cache.DB,
		DefaultTTL:           cfg.Cache.TTL(),
		MaxTTL:               cfg.Cache.MaxTTL(),
		WriteBehindEnabled:   cfg.Cache.WriteBehind,
		WriteBehindInterval:  cfg.Cache.WriteBehindInterval(),
		WriteBehindBatchSize: cfg.Cache.WriteBehindBatch,
		MaxConnections:       cfg.Cache.PoolSize,
	}
	cold := cache.NewRepoColdStorage(a.repo)

	if cfg.Cache.Enabled {
		rc, err := cache.NewRedisCache(cc, cold, a.invalidator)
		if err != nil {
			return err
		}
		a.cache = rc
	} else {
		a.cache = cache.NewMemoryCache(cc, cold, a.invalidator)
	}

	// чужой узел изменил чанк: локальная копия кадра устарела
	c := a.cache
	return a.invalidator.SubscribeInvalidations(context.Background(), func(key string) error {
		return c.Delete(context.Background(), key)
	})
}

// initAPI REST API оператора
func (a *app) initAPI(cfg *config.Config, reg *block.Registry) error {
	operators, err := auth.NewMemoryOperatorRepo(cfg.API.Operators)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenManager(cfg.API.JWTSecret, cfg.API.TokenTTL())
	if err != nil {
		return err
	}

	apiCfg := api.Config{
		Addr:      cfg.API.Addr,
		Chunks:    a.scheduler,
		Blocks:    reg,
		Operators: operators,
		Tokens:    tokens,
		Cache:     a.cache,
		Bus:       a.bus,
		Registry:  a.metrics.Registry,
	}
	if a.replication != nil {
		apiCfg.Replication = a.replication
	}
	a.api, err = api.NewRestServer(apiCfg)
	return err
}

// close останавливает компоненты в обратном порядке
func (a *app) close(ctx context.Context) {
	if a.api != nil {
		if err := a.api.Stop(ctx); err != nil {
			logging.Error("❌ Ошибка остановки REST API: %v", err)
		}
	}
	if a.replication != nil {
		a.replication.Stop()
	}
	if a.scheduler != nil {
		if err := a.scheduler.Close(ctx); err != nil {
			logging.Error("❌ Ошибка остановки планировщика: %v", err)
		}
	}
	if a.busExporter != nil {
		a.busExporter.Stop()
	}
	if a.busLog != nil {
		a.busLog.Unsubscribe()
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			logging.Warn("закрытие шины событий: %v", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logging.Warn("закрытие кэша: %v", err)
		}
	}
	if a.invalidator != nil {
		_ = a.invalidator.Close()
	}
	if a.closeRepo != nil {
		if err := a.closeRepo(); err != nil {
			logging.Error("❌ Ошибка закрытия хранилища: %v", err)
		}
	}
	if a.serializer != nil {
		a.serializer.Close()
	}
}
