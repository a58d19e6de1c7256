package handler

import (
	"context"
	"strings"

	"resume-screener/internal/logger"
	"resume-screener/internal/processor"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// SearchHandler 语义检索接口
type SearchHandler struct {
	service *processor.SearchService
}

// NewSearchHandler 创建检索处理器
func NewSearchHandler(service *processor.SearchService) *SearchHandler {
	return &SearchHandler{service: service}
}

// SearchRequest 检索请求体
// MinSimilarity为指针以区分"未提供"和"显式0"
type SearchRequest struct {
	Query         string   `json:"query"`
	TopK          int      `json:"top_k"`
	MinSimilarity *float32 `json:"min_similarity"`
}

// HandleSearch 处理岗位描述检索请求
func (h *SearchHandler) HandleSearch(ctx context.Context, c *app.RequestContext) {
	var req SearchRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体不是合法的JSON"})
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "query不能为空"})
		return
	}
	if req.TopK < 0 {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "top_k不能为负数"})
		return
	}
	// 大于1的阈值合法，只是不会命中任何结果
	if req.MinSimilarity != nil && *req.MinSimilarity < 0 {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "min_similarity不能为负数"})
		return
	}

	response, err := h.service.Search(ctx, req.Query, req.TopK, req.MinSimilarity)
	if err != nil {
		logger.Error().Err(err).Msg("检索请求失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "检索失败"})
		return
	}

	c.JSON(consts.StatusOK, response)
}
