package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-core/internal/api"
	"github.com/annel0/voxel-core/internal/auth"
	"github.com/annel0/voxel-core/internal/config"
	"github.com/annel0/voxel-core/internal/storage"
	"github.com/annel0/voxel-core/internal/vec"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Blocks.Dir = filepath.Join("..", "..", "assets", "blocks")
	cfg.World.ChunkSide = 8
	cfg.World.ViewRange = 1
	cfg.World.RangeYMin = 0
	cfg.World.RangeYMax = 0
	cfg.Storage.Path = ""
	cfg.Scheduler.Workers = 2
	cfg.Replication.Enabled = true
	cfg.Replication.NodeID = "node-test"
	cfg.Replication.FlushMs = 10
	cfg.API.Enabled = true
	cfg.API.Addr = "127.0.0.1:0"
	cfg.API.Operators = []auth.OperatorConfig{{Username: "admin", Password: "secret", Admin: true}}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNodeID(t *testing.T) {
	cfg := config.Default()
	cfg.Replication.NodeID = "node-7"
	assert.Equal(t, "node-7", nodeID(cfg))

	cfg.Replication.NodeID = ""
	assert.NotEmpty(t, nodeID(cfg))
}

func TestNewAppBadBlocksDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Blocks.Dir = filepath.Join(t.TempDir(), "missing")
	a, err := newApp(cfg)
	assert.Error(t, err)
	assert.Nil(t, a)
}

func TestAppEndToEnd(t *testing.T) {
	a, err := newApp(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, a.api)
	require.NotNil(t, a.replication)

	closed := false
	defer func() {
		if !closed {
			a.close(context.Background())
		}
	}()

	res := a.scheduler.Update(vec.Vec3{})
	require.Positive(t, res.Loaded)
	require.Eventually(t, func() bool {
		st := a.scheduler.Stats()
		return st.States["ready"] == st.Chunks
	}, 5*time.Second, 10*time.Millisecond)

	// вход оператора и статистика через REST API
	h := a.api.Handler()
	body, _ := json.Marshal(api.LoginRequest{Username: "admin", Password: "secret"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var login api.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// изменение блока уходит в репликацию и сохраняется при остановке
	ore := a.blocks.MustData("ore")
	require.True(t, a.scheduler.SetBlock(vec.New(1, 1, 1), ore))
	require.Eventually(t, func() bool {
		sent, _ := a.replication.Batches()
		return sent >= 1
	}, 2*time.Second, 10*time.Millisecond)

	repo, ok := a.repo.(*storage.MemoryChunkRepo)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.close(ctx)
	closed = true

	assert.Equal(t, 1, repo.Size(), "сохраняется только изменённый чанк")
}
