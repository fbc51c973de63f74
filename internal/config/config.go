package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annel0/voxel-core/internal/auth"
	"github.com/annel0/voxel-core/internal/mesh"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world"
)

// Config корневая структура конфигурации приложения.
type Config struct {
	World       WorldConfig       `yaml:"world"`
	Mesh        MeshConfig        `yaml:"mesh"`
	Blocks      BlocksConfig      `yaml:"blocks"`
	Storage     StorageConfig     `yaml:"storage"`
	Cache       CacheConfig       `yaml:"cache"`
	EventBus    EventBusConfig    `yaml:"eventbus"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Logging     LoggingConfig     `yaml:"logging"`
	Replication ReplicationConfig `yaml:"replication"`
	API         APIConfig         `yaml:"api"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type WorldConfig struct {
	ChunkSide int                 `yaml:"chunk_side"`
	Padding   int                 `yaml:"padding"`
	Seed      int64               `yaml:"seed"`
	Bottom    int                 `yaml:"bottom"`
	ViewRange int                 `yaml:"view_range"`
	RangeYMin int                 `yaml:"range_y_min"`
	RangeYMax int                 `yaml:"range_y_max"`
	CoefLOD   float32             `yaml:"coef_lod"`
	Layers    []world.LayerConfig `yaml:"layers"`
	Tree      *world.TreeConfig   `yaml:"tree"`
}

// Generator параметры генератора рельефа
func (w WorldConfig) Generator() world.GeneratorConfig {
	return world.GeneratorConfig{
		Seed:   w.Seed,
		Bottom: w.Bottom,
		Layers: w.Layers,
		Tree:   w.Tree,
	}
}

type MeshConfig struct {
	AmbientOcclusion bool     `yaml:"ambient_occlusion"`
	AOStrength       float32  `yaml:"ao_strength"`
	FacePaddingInset float32  `yaml:"face_padding_inset"`
	DrawWorldEdges   []string `yaml:"draw_world_edges"`
	Faces            []string `yaml:"faces"`
	Scale            float32  `yaml:"scale"`
}

// ToMesh переводит секцию в настройки мешера. Неизвестные имена сторон - ошибка.
func (m MeshConfig) ToMesh() (mesh.Config, error) {
	cfg := mesh.DefaultConfig()
	cfg.AddAmbientOcclusion = m.AmbientOcclusion
	cfg.AOStrength = m.AOStrength
	cfg.FacePaddingInset = m.FacePaddingInset
	if m.Scale > 0 {
		cfg.Scale = m.Scale
	}

	edges, bad := vec.ParseSides(m.DrawWorldEdges)
	if len(bad) > 0 {
		return cfg, fmt.Errorf("mesh.draw_world_edges: неизвестные стороны %v", bad)
	}
	cfg.DrawWorldEdges = edges

	if m.Faces != nil {
		faces, bad := vec.ParseSides(m.Faces)
		if len(bad) > 0 {
			return cfg, fmt.Errorf("mesh.faces: неизвестные стороны %v", bad)
		}
		cfg.Faces = faces
	}
	return cfg, nil
}

type BlocksConfig struct {
	Dir          string `yaml:"dir"`
	AtlasColumns int    `yaml:"atlas_columns"`
}

type StorageConfig struct {
	Path        string `yaml:"path"`
	Compression string `yaml:"compression"`
}

// CacheConfig горячий кэш кадров. Enabled=false - кэш в памяти процесса.
type CacheConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
	MaxTTLSeconds int    `yaml:"max_ttl_seconds"`
	PoolSize      int    `yaml:"pool_size"`

	// отложенная запись в хранилище
	WriteBehind           bool `yaml:"write_behind"`
	WriteBehindIntervalMs int  `yaml:"write_behind_interval_ms"`
	WriteBehindBatch      int  `yaml:"write_behind_batch"`

	// InvalidationSubject субъект NATS для сброса записей на других узлах
	InvalidationSubject string `yaml:"invalidation_subject"`
}

// TTL время жизни записи кэша
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// MaxTTL верхняя граница TTL
func (c CacheConfig) MaxTTL() time.Duration {
	return time.Duration(c.MaxTTLSeconds) * time.Second
}

// WriteBehindInterval период сброса отложенных записей
func (c CacheConfig) WriteBehindInterval() time.Duration {
	return time.Duration(c.WriteBehindIntervalMs) * time.Millisecond
}

// EventBusConfig шина событий. Пустой URL - шина в памяти процесса.
type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Capacity  int    `yaml:"capacity"`
}

// RetentionPeriod срок хранения событий в потоке
func (e EventBusConfig) RetentionPeriod() time.Duration {
	return time.Duration(e.Retention) * time.Hour
}

// ReplicationConfig пакетная пересылка изменений блоков другим узлам
type ReplicationConfig struct {
	Enabled     bool   `yaml:"enabled"`
	NodeID      string `yaml:"node_id"` // пусто - имя хоста
	BatchSize   int    `yaml:"batch_size"`
	FlushMs     int    `yaml:"flush_ms"`
	Compression string `yaml:"compression"` // none, gzip, zstd
}

// FlushEvery период отправки пакетов
func (r ReplicationConfig) FlushEvery() time.Duration {
	return time.Duration(r.FlushMs) * time.Millisecond
}

// APIConfig REST API оператора
type APIConfig struct {
	Enabled         bool                  `yaml:"enabled"`
	Addr            string                `yaml:"addr"`
	JWTSecret       string                `yaml:"jwt_secret"` // base64, пусто - случайный
	TokenTTLMinutes int                   `yaml:"token_ttl_minutes"`
	Operators       []auth.OperatorConfig `yaml:"operators"`
}

// TokenTTL время жизни токена оператора
func (a APIConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

// TelemetryConfig трассировка OpenTelemetry
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type MetricsConfig struct {
	Port int `yaml:"port"`
}

// GetPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (m *MetricsConfig) GetPort() int {
	return getPortWithEnvFallback(m.Port, "VOXEL_METRICS_PORT", 2112)
}

type SchedulerConfig struct {
	Workers int `yaml:"workers"`
	// CompressLOD видимые чанки с этим LOD и дальше хранятся сжатыми, 0 - выключено
	CompressLOD int `yaml:"compress_lod"`
	// TickMs период шага стриминга и построения мешей
	TickMs int `yaml:"tick_ms"`
}

// TickInterval период шага планировщика
func (s SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(s.TickMs) * time.Millisecond
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Default конфигурация по умолчанию: чанк 32, одна зона вокруг центра
func Default() *Config {
	return &Config{
		World: WorldConfig{
			ChunkSide: 32,
			Padding:   world.DefaultPadding,
			Seed:      1,
			ViewRange: 4,
			RangeYMin: -1,
			RangeYMax: 2,
			CoefLOD:   1,
			Layers: []world.LayerConfig{
				{Name: "bedrock", Block: "stone", MinHeight: 0, MaxHeight: 12, Frequency: 64, Exponent: 1},
				{Name: "soil", Block: "dirt", MinHeight: 8, MaxHeight: 20, Frequency: 48, Exponent: 1},
			},
		},
		Mesh: MeshConfig{
			AmbientOcclusion: true,
			AOStrength:       1,
			Faces:            []string{"all"},
			Scale:            1,
		},
		Blocks: BlocksConfig{
			Dir:          "assets/blocks",
			AtlasColumns: 16,
		},
		Storage: StorageConfig{
			Path:        "data",
			Compression: "zstd",
		},
		Cache: CacheConfig{
			Addr:                  "localhost:6379",
			TTLSeconds:            600,
			MaxTTLSeconds:         3600,
			PoolSize:              10,
			WriteBehindIntervalMs: 5000,
			WriteBehindBatch:      100,
			InvalidationSubject:   "voxel.chunks.invalidate",
		},
		EventBus: EventBusConfig{
			Stream:    "VOXEL",
			Retention: 24,
			Capacity:  1024,
		},
		Scheduler: SchedulerConfig{
			Workers: 4,
			TickMs:  50,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Replication: ReplicationConfig{
			BatchSize:   256,
			FlushMs:     100,
			Compression: "zstd",
		},
		API: APIConfig{
			Addr:            ":8088",
			TokenTTLMinutes: 24 * 60,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "voxel-core",
			SampleRatio: 1,
		},
	}
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// applyEnv переменные окружения перекрывают адреса внешних сервисов
func (c *Config) applyEnv() {
	if v := os.Getenv("VOXEL_REDIS_ADDR"); v != "" {
		c.Cache.Addr = v
		c.Cache.Enabled = true
	}
	if v := os.Getenv("VOXEL_NATS_URL"); v != "" {
		c.EventBus.URL = v
	}
	if v := os.Getenv("VOXEL_JWT_SECRET"); v != "" {
		c.API.JWTSecret = v
	}
	if v := os.Getenv("VOXEL_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
}

// Validate проверяет согласованность значений
func (c *Config) Validate() error {
	side := c.World.ChunkSide
	if side < 2 || side&(side-1) != 0 {
		return fmt.Errorf("world.chunk_side должен быть степенью двойки: %d", side)
	}
	if c.World.Padding < 1 || c.World.Padding > side {
		return fmt.Errorf("world.padding вне диапазона [1, %d]: %d", side, c.World.Padding)
	}
	if c.World.ViewRange < 0 {
		return fmt.Errorf("world.view_range отрицательный: %d", c.World.ViewRange)
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers должен быть положительным: %d", c.Scheduler.Workers)
	}
	if c.Blocks.AtlasColumns <= 0 {
		return fmt.Errorf("blocks.atlas_columns должен быть положительным: %d", c.Blocks.AtlasColumns)
	}
	if _, err := c.Mesh.ToMesh(); err != nil {
		return err
	}
	if c.Scheduler.CompressLOD < 0 {
		return fmt.Errorf("scheduler.compress_lod отрицательный: %d", c.Scheduler.CompressLOD)
	}
	if c.Scheduler.TickMs <= 0 {
		return fmt.Errorf("scheduler.tick_ms должен быть положительным: %d", c.Scheduler.TickMs)
	}
	if c.Cache.MaxTTLSeconds > 0 && c.Cache.TTLSeconds > c.Cache.MaxTTLSeconds {
		return fmt.Errorf("cache.ttl_seconds (%d) больше max_ttl_seconds (%d)", c.Cache.TTLSeconds, c.Cache.MaxTTLSeconds)
	}
	switch c.Replication.Compression {
	case "", "none", "gzip", "zstd":
	default:
		return fmt.Errorf("replication.compression: неизвестное сжатие %q", c.Replication.Compression)
	}
	if c.API.Enabled && len(c.API.Operators) == 0 {
		return fmt.Errorf("api включён, но не задан ни один оператор")
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry.sample_ratio вне [0, 1]: %v", r)
	}
	return nil
}

// Load читает YAML файл конфигурации поверх Default.
// Если path == "", пытается прочитать из ENV VOXEL_CONFIG, иначе
// возвращает конфигурацию по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("VOXEL_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
