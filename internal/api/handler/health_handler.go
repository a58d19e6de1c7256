package handler

import (
	"context"
	"time"

	"resume-screener/internal/storage"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// DependencyPinger 可探活的外部依赖
type DependencyPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler 按依赖逐项探活
type HealthHandler struct {
	checks      map[string]func(context.Context) error
	vectorCount func(context.Context) (int64, error)
}

// NewHealthHandler 创建健康检查处理器，embedder为nil时跳过向量化上游探活
func NewHealthHandler(st *storage.Storage, embedder DependencyPinger) *HealthHandler {
	checks := map[string]func(context.Context) error{}
	if st.MySQL != nil {
		checks["mysql"] = st.MySQL.Ping
	}
	if st.Redis != nil {
		checks["redis"] = st.Redis.Ping
	}
	if st.RabbitMQ != nil {
		checks["rabbitmq"] = st.RabbitMQ.Ping
	}
	if st.MinIO != nil {
		checks["minio"] = st.MinIO.Ping
	}
	if st.Qdrant != nil {
		checks["qdrant"] = st.Qdrant.Ping
	}
	if embedder != nil {
		checks["embedding"] = embedder.Ping
	}

	h := &HealthHandler{checks: checks}
	if st.Qdrant != nil {
		h.vectorCount = st.Qdrant.CountPoints
	}
	return h
}

// dependencyStatus 单个依赖的探活结果
type dependencyStatus struct {
	Status string `json:"status"` // ok 或 error
	Error  string `json:"error,omitempty"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status         string                      `json:"status"` // ok 或 degraded
	Dependencies   map[string]dependencyStatus `json:"dependencies"`
	IndexedVectors *int64                      `json:"indexed_vectors,omitempty"`
	CheckedAt      time.Time                   `json:"checked_at"`
}

// HandleHealth 逐个依赖探活，任一失败整体降级并返回503
func (h *HealthHandler) HandleHealth(ctx context.Context, c *app.RequestContext) {
	response := HealthResponse{
		Status:       "ok",
		Dependencies: make(map[string]dependencyStatus, len(h.checks)),
		CheckedAt:    time.Now().UTC(),
	}

	for name, ping := range h.checks {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := ping(checkCtx)
		cancel()

		if err != nil {
			response.Status = "degraded"
			response.Dependencies[name] = dependencyStatus{Status: "error", Error: err.Error()}
		} else {
			response.Dependencies[name] = dependencyStatus{Status: "ok"}
		}
	}

	if h.vectorCount != nil && response.Dependencies["qdrant"].Status == "ok" {
		countCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		count, err := h.vectorCount(countCtx)
		cancel()
		if err == nil {
			response.IndexedVectors = &count
		}
	}

	statusCode := consts.StatusOK
	if response.Status != "ok" {
		statusCode = consts.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}
