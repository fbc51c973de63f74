package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/annel0/voxel-core/internal/config"
	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/observability"
	"github.com/annel0/voxel-core/internal/vec"
)

func main() {
	configPath := flag.String("config", "", "путь к config.yaml (по умолчанию VOXEL_CONFIG)")
	centerX := flag.Int("x", 0, "X центра clipmap в чанках")
	centerY := flag.Int("y", 0, "Y центра clipmap в чанках")
	centerZ := flag.Int("z", 0, "Z центра clipmap в чанках")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logOpts := logging.DefaultOptions()
	logOpts.Level = logging.ParseLevel(cfg.Logging.Level)
	logOpts.Dir = cfg.Logging.Dir
	logOpts.JSON = cfg.Logging.JSON
	logging.Configure(logOpts)
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer func() { _ = logging.GetLoggerManager().CloseAll() }()

	logging.Info("🧱 Запуск voxel-core: чанк %d, дальность %d, воркеров %d",
		cfg.World.ChunkSide, cfg.World.ViewRange, cfg.Scheduler.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === ТРАССИРОВКА ===
	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, observability.Options{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			logging.Warn("OpenTelemetry не инициализирован: %v", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logging.Warn("остановка OpenTelemetry: %v", err)
				}
			}()
		}
	}

	// === КОМПОНЕНТЫ ===
	app, err := newApp(cfg)
	if err != nil {
		logging.Error("❌ Ошибка инициализации: %v", err)
		log.Fatalf("❌ Ошибка инициализации: %v", err)
	}

	metricsAddr := ":" + strconv.Itoa(cfg.Metrics.GetPort())
	go func() {
		if err := app.metrics.Serve(ctx, metricsAddr); err != nil {
			logging.Error("❌ Сервер метрик: %v", err)
		}
	}()

	if app.api != nil {
		go func() {
			if err := app.api.Start(); err != nil {
				logging.Error("❌ Ошибка REST API: %v", err)
				stop()
			}
		}()
		logging.Info("   🌐 REST API: http://localhost%s (health: /health)", cfg.API.Addr)
	}

	center := vec.Vec3{X: *centerX, Y: *centerY, Z: *centerZ}
	logging.Info("✅ Все сервисы запущены, центр мира %v", center)

	// === СТРИМИНГ ===
	ticker := time.NewTicker(cfg.Scheduler.TickInterval())
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			res := app.scheduler.Update(center)
			if res.Loaded+res.Unloaded+res.Compressed+res.Decompressed > 0 {
				logging.Debug("стриминг: загружено %d, распаковано %d, сжато %d, выгружено %d, мешей %d",
					res.Loaded, res.Decompressed, res.Compressed, res.Unloaded, res.Meshed)
			}
		}
	}

	// === GRACEFUL SHUTDOWN ===
	logging.Info("📡 Получен сигнал завершения, остановка сервисов...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	app.close(shutdownCtx)

	logging.Info("👋 Сервер успешно остановлен")
}
