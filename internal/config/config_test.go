package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-core/internal/vec"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VOXEL_CONFIG", "")
	t.Setenv("VOXEL_REDIS_ADDR", "")
	t.Setenv("VOXEL_NATS_URL", "")
	t.Setenv("VOXEL_JWT_SECRET", "")
	t.Setenv("VOXEL_OTLP_ENDPOINT", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 32, cfg.World.ChunkSide)
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
world:
  chunk_side: 16
  seed: 99
  layers:
    - name: rock
      block: stone
      min_height: 1
      max_height: 9
      frequency: 30
mesh:
  ambient_occlusion: false
  draw_world_edges: [up, east]
  faces: [up, down]
  scale: 0.5
scheduler:
  workers: 2
cache:
  enabled: true
  ttl_seconds: 30
`)
	t.Setenv("VOXEL_REDIS_ADDR", "")
	t.Setenv("VOXEL_NATS_URL", "nats://bus:4222")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.World.ChunkSide)
	assert.Equal(t, int64(99), cfg.World.Seed)
	require.Len(t, cfg.World.Layers, 1)
	assert.Equal(t, "stone", cfg.World.Layers[0].Block)
	assert.Equal(t, 1, cfg.World.Padding, "незаданные поля берутся из Default")
	assert.Equal(t, 2, cfg.Scheduler.Workers)
	assert.Equal(t, "nats://bus:4222", cfg.EventBus.URL)
	assert.Equal(t, int64(30), int64(cfg.Cache.TTL().Seconds()))

	m, err := cfg.Mesh.ToMesh()
	require.NoError(t, err)
	assert.False(t, m.AddAmbientOcclusion)
	assert.Equal(t, vec.SideUp|vec.SideEast, m.DrawWorldEdges)
	assert.Equal(t, vec.SideUp|vec.SideDown, m.Faces)
	assert.Equal(t, float32(0.5), m.Scale)

	gen := cfg.World.Generator()
	assert.Equal(t, int64(99), gen.Seed)
}

func TestLoadFromEnvPath(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  workers: 7\n")
	t.Setenv("VOXEL_CONFIG", path)
	t.Setenv("VOXEL_REDIS_ADDR", "redis:6380")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Scheduler.Workers)
	assert.Equal(t, "redis:6380", cfg.Cache.Addr)
	assert.True(t, cfg.Cache.Enabled)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "world: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "world:\n  chunk_side: 24\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "mesh:\n  faces: [sideways]\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "scheduler:\n  workers: 0\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "scheduler:\n  compress_lod: -1\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "replication:\n  compression: lz4\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "telemetry:\n  sample_ratio: 1.5\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "cache:\n  ttl_seconds: 100\n  max_ttl_seconds: 10\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "api:\n  enabled: true\n"))
	assert.Error(t, err, "API без операторов")
}

func TestLoadServiceSections(t *testing.T) {
	path := writeConfig(t, `
replication:
  enabled: true
  node_id: node-a
  batch_size: 32
  flush_ms: 250
  compression: gzip
api:
  enabled: true
  addr: ":9999"
  token_ttl_minutes: 15
  operators:
    - username: admin
      password: secret
      admin: true
telemetry:
  sample_ratio: 0.25
eventbus:
  capacity: 64
`)
	t.Setenv("VOXEL_JWT_SECRET", "c2VjcmV0")
	t.Setenv("VOXEL_OTLP_ENDPOINT", "collector:4318")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.Replication.NodeID)
	assert.Equal(t, 250*time.Millisecond, cfg.Replication.FlushEvery())
	assert.Equal(t, "gzip", cfg.Replication.Compression)

	assert.Equal(t, ":9999", cfg.API.Addr)
	assert.Equal(t, 15*time.Minute, cfg.API.TokenTTL())
	require.Len(t, cfg.API.Operators, 1)
	assert.Equal(t, "admin", cfg.API.Operators[0].Username)
	assert.True(t, cfg.API.Operators[0].Admin)
	assert.Equal(t, "c2VjcmV0", cfg.API.JWTSecret)

	assert.True(t, cfg.Telemetry.Enabled, "адрес коллектора из окружения включает трассировку")
	assert.Equal(t, "collector:4318", cfg.Telemetry.Endpoint)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRatio)
	assert.Equal(t, "voxel-core", cfg.Telemetry.ServiceName)

	assert.Equal(t, 64, cfg.EventBus.Capacity)
	assert.Equal(t, "VOXEL", cfg.EventBus.Stream)
	assert.Equal(t, 24*time.Hour, cfg.EventBus.RetentionPeriod())
	assert.Equal(t, time.Hour, cfg.Cache.MaxTTL())
	assert.Equal(t, 50*time.Millisecond, cfg.Scheduler.TickInterval())
}

func TestMetricsPortFallback(t *testing.T) {
	m := MetricsConfig{}
	t.Setenv("VOXEL_METRICS_PORT", "")
	assert.Equal(t, 2112, m.GetPort())

	t.Setenv("VOXEL_METRICS_PORT", "9100")
	assert.Equal(t, 9100, m.GetPort())

	m.Port = 9000
	assert.Equal(t, 9000, m.GetPort())
}
