package router

import (
	"testing"

	"resume-screener/internal/api/handler"
	"resume-screener/internal/config"
	"resume-screener/internal/constants"
	"resume-screener/internal/storage"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/stretchr/testify/assert"
)

func newRouterEngine(t *testing.T, apiKey string) *route.Engine {
	t.Helper()

	// 存储依赖全部为nil: 健康检查跳过所有探活，返回ok
	emptyStorage := &storage.Storage{}
	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	RegisterRoutes(h, apiKey,
		handler.NewResumeHandler(&config.Config{}, emptyStorage),
		handler.NewSearchHandler(nil),
		handler.NewHealthHandler(emptyStorage, nil),
	)
	return h.Engine
}

// TestRouter_APIKeyRequired 测试开启认证后缺失或错误的密钥被拒绝
func TestRouter_APIKeyRequired(t *testing.T) {
	engine := newRouterEngine(t, "secret-key")

	resp := ut.PerformRequest(engine, "GET", "/api/v1/health", nil)
	assert.Equal(t, consts.StatusUnauthorized, resp.Result().StatusCode())

	resp = ut.PerformRequest(engine, "GET", "/api/v1/health", nil,
		ut.Header{Key: constants.APIKeyHeader, Value: "wrong-key"})
	assert.Equal(t, consts.StatusUnauthorized, resp.Result().StatusCode())
}

// TestRouter_APIKeyAccepted 测试正确密钥放行
func TestRouter_APIKeyAccepted(t *testing.T) {
	engine := newRouterEngine(t, "secret-key")

	resp := ut.PerformRequest(engine, "GET", "/api/v1/health", nil,
		ut.Header{Key: constants.APIKeyHeader, Value: "secret-key"})
	assert.Equal(t, consts.StatusOK, resp.Result().StatusCode())
}

// TestRouter_NoAPIKeyConfigured 测试未配置密钥时不启用认证
func TestRouter_NoAPIKeyConfigured(t *testing.T) {
	engine := newRouterEngine(t, "")

	resp := ut.PerformRequest(engine, "GET", "/api/v1/health", nil)
	assert.Equal(t, consts.StatusOK, resp.Result().StatusCode())
}
