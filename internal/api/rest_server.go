package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/voxel-core/internal/auth"
	"github.com/annel0/voxel-core/internal/cache"
	"github.com/annel0/voxel-core/internal/engine"
	"github.com/annel0/voxel-core/internal/eventbus"
	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/mesh"
	"github.com/annel0/voxel-core/internal/middleware"
	"github.com/annel0/voxel-core/internal/replication"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
)

// Version версия сервера в /api/server
const Version = "v0.3.0"

// ChunkService операции планировщика, доступные через API
type ChunkService interface {
	Stats() engine.Stats
	State(pos vec.Vec3) (engine.ChunkState, bool)
	Geometry(pos vec.Vec3) *mesh.Geometry
	RequestChunkBytes(ctx context.Context, pos vec.Vec3) ([]byte, error)
	StoredChunks(ctx context.Context) ([]vec.Vec3, error)
	SetBlock(p vec.Vec3, data block.BlockData) bool
	Mesh(pos vec.Vec3) engine.Job
	Center() vec.Vec3
	CenterOf(p vec.Vec3) vec.Vec3
}

// ReplicationStats источник счётчиков репликации
type ReplicationStats interface {
	Stats() replication.ConsumerStats
}

// Config содержит конфигурацию REST сервера
type Config struct {
	Addr      string
	Chunks    ChunkService
	Blocks    *block.Registry
	Operators auth.OperatorRepository
	Tokens    *auth.TokenManager

	// необязательные
	Cache       cache.CacheRepo
	Bus         eventbus.EventBus
	Replication ReplicationStats
	// Registry реестр метрик; nil - отдельный реестр только для HTTP
	Registry *prometheus.Registry
}

// RestServer REST API оператора поверх планировщика чанков
type RestServer struct {
	router  *gin.Engine
	server  *http.Server
	cfg     Config
	metrics *ServerMetrics
	logger  *logging.Logger
}

// NewRestServer создает REST сервер и настраивает маршруты
func NewRestServer(cfg Config) (*RestServer, error) {
	if cfg.Chunks == nil || cfg.Blocks == nil || cfg.Operators == nil || cfg.Tokens == nil {
		return nil, fmt.Errorf("REST серверу нужны планировщик, реестр блоков, операторы и токены")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	// === Observability middleware ===
	router.Use(otelgin.Middleware("voxel-core"))
	router.Use(middleware.NewRequestLogger().Handler())

	promMw, err := middleware.NewPrometheusMiddleware("voxel_api", cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("метрики HTTP: %w", err)
	}
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, cfg.Registry)

	rs := &RestServer{
		router:  router,
		cfg:     cfg,
		metrics: NewServerMetrics(),
		logger:  logging.GetAPILogger(),
	}
	rs.setupRoutes()

	rs.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return rs, nil
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	api.POST("/auth/login", rs.handleLogin)

	// требуют JWT
	protected := api.Group("/")
	protected.Use(rs.jwtMiddleware())
	{
		protected.GET("/stats", rs.handleStats)
		protected.GET("/server", rs.handleServerInfo)
		protected.GET("/chunks", rs.handleListChunks)
		protected.GET("/chunks/:x/:y/:z", rs.handleChunkBytes)
		protected.GET("/chunks/:x/:y/:z/mesh", rs.handleChunkMesh)

		admin := protected.Group("/admin")
		admin.Use(rs.adminMiddleware())
		{
			admin.PUT("/blocks", rs.handleSetBlock)
			admin.POST("/chunks/:x/:y/:z/remesh", rs.handleRemesh)
		}
	}
}

// Handler HTTP-обработчик со всеми маршрутами
func (rs *RestServer) Handler() http.Handler { return rs.router }

// Start запускает сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	rs.logger.Info("REST API слушает %s", rs.cfg.Addr)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop дожидается завершения текущих запросов
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.server.Shutdown(ctx)
}

// LoginRequest запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse ответ на вход
type LoginResponse struct {
	Success    bool   `json:"success"`
	Token      string `json:"token,omitempty"`
	Message    string `json:"message"`
	OperatorID uint64 `json:"operator_id,omitempty"`
	IsAdmin    bool   `json:"is_admin,omitempty"`
	ExpiresIn  int64  `json:"expires_in,omitempty"` // секунды
}

// SetBlockRequest правка блока в мировых координатах
type SetBlockRequest struct {
	X    *int   `json:"x" binding:"required"`
	Y    *int   `json:"y" binding:"required"`
	Z    *int   `json:"z" binding:"required"`
	Type string `json:"type" binding:"required"`
}

// GenericResponse общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MaterialSummary квады одного материала в меше
type MaterialSummary struct {
	Material uint16 `json:"material"`
	Quads    int    `json:"quads"`
	FaceArea int    `json:"face_area"`
}

// MeshSummary сводка меша чанка
type MeshSummary struct {
	Chunk     vec.Vec3          `json:"chunk"`
	State     string            `json:"state"`
	Quads     int               `json:"quads"`
	FaceArea  int               `json:"face_area"`
	Materials []MaterialSummary `json:"materials"`
}

func (rs *RestServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Message: "Неверный формат запроса"})
		return
	}

	op, err := rs.cfg.Operators.ValidateCredentials(req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredential) {
			rs.logger.Error("проверка оператора %q: %v", req.Username, err)
			c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Внутренняя ошибка сервера"})
			return
		}
		rs.logger.Warn("неудачный вход %q с %s", req.Username, c.ClientIP())
		c.JSON(http.StatusUnauthorized, LoginResponse{Message: "Неверное имя пользователя или пароль"})
		return
	}

	token, err := rs.cfg.Tokens.Generate(op)
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Ошибка генерации токена"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Success:    true,
		Token:      token,
		Message:    "Успешная авторизация",
		OperatorID: op.ID,
		IsAdmin:    op.IsAdmin,
		ExpiresIn:  int64(rs.cfg.Tokens.TTL().Seconds()),
	})
}

func (rs *RestServer) handleStats(c *gin.Context) {
	stats := map[string]interface{}{
		"scheduler": rs.cfg.Chunks.Stats(),
		"center":    rs.cfg.Chunks.Center(),
	}
	if rs.cfg.Cache != nil {
		stats["cache"] = rs.cfg.Cache.GetMetrics()
	}
	if rs.cfg.Bus != nil {
		stats["eventbus"] = rs.cfg.Bus.Metrics()
	}
	if rs.cfg.Replication != nil {
		stats["replication"] = rs.cfg.Replication.Stats()
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

func (rs *RestServer) handleServerInfo(c *gin.Context) {
	info := map[string]interface{}{
		"version":     Version,
		"name":        "voxel-core",
		"status":      "running",
		"uptime":      rs.metrics.GetUptime(),
		"server_time": time.Now().Unix(),
		"memory":      rs.metrics.GetDetailedMemoryStats(),
	}
	if cpuPercent, err := rs.metrics.GetCPUUsage(); err == nil {
		info["cpu_percent"] = fmt.Sprintf("%.1f", cpuPercent)
	}
	if rss, err := rs.metrics.GetRSSMB(); err == nil {
		info["rss_mb"] = fmt.Sprintf("%.1f", rss)
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Информация о сервере",
		Data:    info,
	})
}

func (rs *RestServer) handleListChunks(c *gin.Context) {
	positions, err := rs.cfg.Chunks.StoredChunks(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, GenericResponse{Message: "Ошибка чтения хранилища"})
		return
	}
	sort.Slice(positions, func(i, j int) bool {
		a, b := positions[i], positions[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Сохранённые чанки",
		Data: map[string]interface{}{
			"chunks": positions,
			"total":  len(positions),
		},
	})
}

func (rs *RestServer) handleChunkBytes(c *gin.Context) {
	pos, ok := chunkParam(c)
	if !ok {
		return
	}
	data, err := rs.cfg.Chunks.RequestChunkBytes(c.Request.Context(), pos)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, GenericResponse{Message: "Ошибка чтения чанка"})
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (rs *RestServer) handleChunkMesh(c *gin.Context) {
	pos, ok := chunkParam(c)
	if !ok {
		return
	}
	state, loaded := rs.cfg.Chunks.State(pos)
	geo := rs.cfg.Chunks.Geometry(pos)
	if !loaded || geo == nil {
		c.JSON(http.StatusNotFound, GenericResponse{Message: "Меш чанка не построен"})
		return
	}

	summary := MeshSummary{
		Chunk:    pos,
		State:    state.String(),
		Quads:    geo.QuadCount(),
		FaceArea: geo.FaceArea(),
	}
	for _, m := range geo.Materials() {
		b := geo.Batch(m)
		ms := MaterialSummary{Material: m, Quads: len(b.Quads)}
		for i := range b.Quads {
			ms.FaceArea += b.Quads[i].Width * b.Quads[i].Height
		}
		summary.Materials = append(summary.Materials, ms)
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Сводка меша",
		Data:    summary,
	})
}

func (rs *RestServer) handleSetBlock(c *gin.Context) {
	var req SetBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неверный формат запроса: " + err.Error()})
		return
	}
	t, ok := rs.cfg.Blocks.ByName(req.Type)
	if !ok {
		c.JSON(http.StatusNotFound, GenericResponse{Message: fmt.Sprintf("Неизвестный тип блока %q", req.Type)})
		return
	}

	p := vec.New(*req.X, *req.Y, *req.Z)
	chunk := rs.cfg.Chunks.CenterOf(p)
	if state, loaded := rs.cfg.Chunks.State(chunk); !loaded || !state.HasStore() {
		c.JSON(http.StatusNotFound, GenericResponse{Message: fmt.Sprintf("Чанк %v не загружен", chunk)})
		return
	}

	changed := rs.cfg.Chunks.SetBlock(p, t.Data())
	if claims, ok := claimsFrom(c); ok && changed {
		rs.logger.Info("оператор %s: блок %v = %s", claims.Username, p, t.Name)
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Блок записан",
		Data: map[string]interface{}{
			"position": p,
			"chunk":    chunk,
			"type":     t.Name,
			"changed":  changed,
		},
	})
}

func (rs *RestServer) handleRemesh(c *gin.Context) {
	pos, ok := chunkParam(c)
	if !ok {
		return
	}
	err := rs.cfg.Chunks.Mesh(pos).Wait()
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrNotLoaded):
		c.JSON(http.StatusNotFound, GenericResponse{Message: fmt.Sprintf("Чанк %v не загружен", pos)})
		return
	case errors.Is(err, engine.ErrNotReady):
		c.JSON(http.StatusConflict, GenericResponse{Message: err.Error()})
		return
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, GenericResponse{Message: "Ошибка построения меша"})
		return
	}

	quads := 0
	if geo := rs.cfg.Chunks.Geometry(pos); geo != nil {
		quads = geo.QuadCount()
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Меш перестроен",
		Data:    map[string]interface{}{"chunk": pos, "quads": quads},
	})
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// chunkParam разбирает :x/:y/:z. При ошибке ответ уже записан.
func chunkParam(c *gin.Context) (vec.Vec3, bool) {
	var coords [3]int
	for i, name := range []string{"x", "y", "z"} {
		v, err := strconv.Atoi(c.Param(name))
		if err != nil {
			c.JSON(http.StatusBadRequest, GenericResponse{Message: fmt.Sprintf("Неверная координата %s", name)})
			return vec.Vec3{}, false
		}
		coords[i] = v
	}
	return vec.New(coords[0], coords[1], coords[2]), true
}
