package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"resume-screener/internal/constants"
	"resume-screener/internal/logger"
	"resume-screener/internal/storage"
	"resume-screener/internal/storage/models"
	"resume-screener/internal/tracing"
	"resume-screener/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var searchTracer = otel.Tracer("resume-screener/processor/search")

// ResumeLookup 按ID批量取简历记录，窄化自storage.ResumeStore
type ResumeLookup interface {
	GetResumesByIDs(ctx context.Context, resumeIDs []string) (map[string]*models.Resume, error)
}

// SearchService 语义检索: 向量化JD -> 向量库检索 -> MySQL补全元数据
type SearchService struct {
	embedder TextEmbedder
	vectors  VectorIndex
	store    ResumeLookup

	defaultTopK          int
	defaultMinSimilarity float32
	maxQueryChars        int
}

// SearchResponse 一次检索的完整结果
type SearchResponse struct {
	Query         string              `json:"query"`
	Matches       []types.SearchMatch `json:"matches"`
	TotalMatches  int                 `json:"total_matches"`
	SearchTimeMS  int64               `json:"search_time_ms"`
	TopK          int                 `json:"top_k"`
	MinSimilarity float32             `json:"min_similarity"`
}

// NewSearchService 创建检索服务
func NewSearchService(embedder TextEmbedder, vectors VectorIndex, store ResumeLookup,
	defaultTopK int, defaultMinSimilarity float32, maxQueryChars int) (*SearchService, error) {
	if embedder == nil || vectors == nil || store == nil {
		return nil, fmt.Errorf("检索服务依赖不完整")
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	if maxQueryChars <= 0 {
		maxQueryChars = 2000
	}
	return &SearchService{
		embedder:             embedder,
		vectors:              vectors,
		store:                store,
		defaultTopK:          defaultTopK,
		defaultMinSimilarity: defaultMinSimilarity,
		maxQueryChars:        maxQueryChars,
	}, nil
}

// Search 以岗位描述为查询执行语义检索
// topK<=0使用默认值；minSimilarity<0使用默认值，显式0表示不过滤
func (s *SearchService) Search(ctx context.Context, query string, topK int, minSimilarity *float32) (*SearchResponse, error) {
	ctx, span := searchTracer.Start(ctx, "SearchService.Search",
		trace.WithAttributes(attribute.Int("search.top_k", topK)))
	defer span.End()

	startTime := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		err := fmt.Errorf("查询文本不能为空")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	// 超长JD截断后再向量化
	truncatedQuery := query
	if runes := []rune(query); len(runes) > s.maxQueryChars {
		truncatedQuery = string(runes[:s.maxQueryChars])
		span.SetAttributes(attribute.Bool("search.query_truncated", true))
	}

	if topK <= 0 {
		topK = s.defaultTopK
	}
	minScore := s.defaultMinSimilarity
	if minSimilarity != nil {
		minScore = *minSimilarity
	}

	span.SetAttributes(
		attribute.String("search.query", tracing.SafeQueryText(truncatedQuery)),
		attribute.Int("search.effective_top_k", topK),
		attribute.Float64("search.min_similarity", float64(minScore)),
	)

	embeddings, err := s.embedder.EmbedStrings(ctx, []string{truncatedQuery})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		err := fmt.Errorf("查询向量化返回空结果")
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}

	hits, err := s.vectors.SearchSimilarResumes(ctx, embeddings[0], topK, minScore)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	matches := s.hydrateMatches(ctx, hits)

	// 按相似度降序
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	response := &SearchResponse{
		Query:         query,
		Matches:       matches,
		TotalMatches:  len(matches),
		SearchTimeMS:  time.Since(startTime).Milliseconds(),
		TopK:          topK,
		MinSimilarity: minScore,
	}

	span.SetAttributes(attribute.Int("search.matches", len(matches)))
	span.SetStatus(codes.Ok, "")
	return response, nil
}

// hydrateMatches 用MySQL记录补全向量命中，跳过缺失或非processed状态的记录
// 向量库与文档库不一致属于需要告警的数据问题，只记录日志不影响其余结果
func (s *SearchService) hydrateMatches(ctx context.Context, hits []storage.SearchResult) []types.SearchMatch {
	if len(hits) == 0 {
		return []types.SearchMatch{}
	}

	scoreByResumeID := make(map[string]float32, len(hits))
	resumeIDs := make([]string, 0, len(hits))
	for _, hit := range hits {
		resumeID, ok := hit.Payload["resume_id"].(string)
		if !ok || resumeID == "" {
			logger.Warn().Str("point_id", hit.ID).Msg("向量点payload缺少resume_id，跳过")
			continue
		}
		if _, exists := scoreByResumeID[resumeID]; !exists {
			resumeIDs = append(resumeIDs, resumeID)
		}
		scoreByResumeID[resumeID] = hit.Score
	}

	records, err := s.store.GetResumesByIDs(ctx, resumeIDs)
	if err != nil {
		logger.Error().Err(err).Int("ids", len(resumeIDs)).Msg("批量查询简历记录失败")
		return []types.SearchMatch{}
	}

	matches := make([]types.SearchMatch, 0, len(resumeIDs))
	for _, resumeID := range resumeIDs {
		record, found := records[resumeID]
		if !found {
			logger.Warn().Str("resume_id", resumeID).
				Msg("向量命中但文档库无记录，数据不一致")
			continue
		}
		if record.Status != constants.StatusProcessed {
			logger.Warn().Str("resume_id", resumeID).Str("status", record.Status).
				Msg("向量命中但简历非processed状态，跳过")
			continue
		}

		match := types.SearchMatch{
			ResumeID:   resumeID,
			Filename:   record.Filename,
			Score:      scoreByResumeID[resumeID],
			UploadDate: record.UploadDate,
		}

		var content types.ResumeContent
		if err := models.JSONToStruct(record.Content, &content); err == nil {
			match.Skills = content.Skills
			match.Summary = content.Summary
		}

		matches = append(matches, match)
	}
	return matches
}
