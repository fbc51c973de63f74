package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/voxel-core/internal/logging"
)

// Metrics набор prometheus-метрик ядра.
// Все метрики регистрируются в собственном реестре, а не в глобальном.
type Metrics struct {
	Registry *prometheus.Registry

	// ChunksMeshed число построенных мешей
	ChunksMeshed prometheus.Counter
	// MeshQuads квадов в одном меше
	MeshQuads prometheus.Histogram
	// CompressBoxes боксов в сжатом чанке
	CompressBoxes prometheus.Histogram
	// DecodeErrors отброшенные повреждённые кадры
	DecodeErrors prometheus.Counter
	// Jobs завершённые задачи планировщика по видам и результату
	Jobs *prometheus.CounterVec
	// JobDuration длительность задач
	JobDuration *prometheus.HistogramVec
	// ChunkStates число чанков в каждом состоянии
	ChunkStates *prometheus.GaugeVec
	// WorkPoolsInUse занятые наборы пулов
	WorkPoolsInUse prometheus.Gauge
}

// New создаёт и регистрирует метрики. В реестр также попадают
// стандартные метрики Go-рантайма и процесса.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ChunksMeshed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxel",
			Name:      "chunks_meshed_total",
			Help:      "Число построенных мешей чанков.",
		}),
		MeshQuads: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voxel",
			Name:      "mesh_quads",
			Help:      "Квадов в меше одного чанка.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		CompressBoxes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voxel",
			Name:      "compress_boxes",
			Help:      "Боксов в сжатом чанке.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxel",
			Name:      "chunk_decode_errors_total",
			Help:      "Отброшенные повреждённые кадры чанков.",
		}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxel",
			Name:      "jobs_total",
			Help:      "Завершённые задачи планировщика.",
		}, []string{"kind", "result"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voxel",
			Name:      "job_duration_seconds",
			Help:      "Длительность задач планировщика.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"kind"}),
		ChunkStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "voxel",
			Name:      "chunks",
			Help:      "Число чанков в каждом состоянии.",
		}, []string{"state"}),
		WorkPoolsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxel",
			Name:      "work_pools_in_use",
			Help:      "Наборы пулов, выданные задачам.",
		}),
	}

	reg.MustRegister(
		m.ChunksMeshed, m.MeshQuads, m.CompressBoxes, m.DecodeErrors,
		m.Jobs, m.JobDuration, m.ChunkStates, m.WorkPoolsInUse,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveJob учитывает завершённую задачу
func (m *Metrics) ObserveJob(kind string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Jobs.WithLabelValues(kind, result).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// Handler HTTP-обработчик /metrics для реестра
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve поднимает отдельный HTTP-сервер /metrics и блокируется до отмены ctx.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Prometheus /metrics доступен по адресу %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
