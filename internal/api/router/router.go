package router

import (
	"context"

	"resume-screener/internal/api/handler"
	"resume-screener/internal/constants"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

// RegisterRoutes 注册API路由，/api/v1下的全部接口要求X-API-Key认证
func RegisterRoutes(
	h *server.Hertz,
	apiKey string,
	resumeHandler *handler.ResumeHandler,
	searchHandler *handler.SearchHandler,
	healthHandler *handler.HealthHandler,
) {
	api := h.Group("/api/v1")

	if apiKey != "" {
		api.Use(keyauth.New(
			keyauth.WithKeyLookUp("header:"+constants.APIKeyHeader, ""),
			keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
				return key == apiKey, nil
			}),
			keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
				c.JSON(consts.StatusUnauthorized, utils.H{"error": "无效或缺失的API密钥"})
				c.Abort()
			}),
		))
	}

	upload := api.Group("/upload")
	upload.POST("/resume", resumeHandler.HandleUpload)
	upload.GET("/status/:resume_id", resumeHandler.HandleStatus)

	api.POST("/search/", searchHandler.HandleSearch)

	resumes := api.Group("/resumes")
	resumes.GET("/", resumeHandler.HandleListResumes)
	resumes.GET("/:resume_id", resumeHandler.HandleGetResume)
	resumes.DELETE("/:resume_id", resumeHandler.HandleDeleteResume)

	api.GET("/health", healthHandler.HandleHealth)
}
