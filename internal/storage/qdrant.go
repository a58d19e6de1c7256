package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"resume-screener/internal/config"
	"resume-screener/internal/tracing"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var qdrantTracer = otel.Tracer("resume-screener/storage/qdrant")

// QdrantPointIDNamespace 固定命名空间，resume_id通过UUIDv5映射为确定性的点ID
// 同一简历重复处理时得到相同的点ID，upsert天然幂等
var QdrantPointIDNamespace = uuid.Must(uuid.FromString("91f4c62a-3a6b-4f0e-9d2c-58a7e1b4c5d6"))

// SearchResult 向量检索的一条命中
type SearchResult struct {
	ID      string                 `json:"id"`
	Score   float32                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// VectorIndex 向量索引接口
type VectorIndex interface {
	// UpsertResumeVector 以简历ID为键写入向量，返回点ID
	UpsertResumeVector(ctx context.Context, resumeID string, vector []float64, payload map[string]interface{}) (string, error)

	// SearchSimilarResumes 检索与查询向量最相近的简历
	SearchSimilarResumes(ctx context.Context, queryVector []float64, limit int, minScore float32) ([]SearchResult, error)

	// DeleteResumeVector 删除简历对应的向量点
	DeleteResumeVector(ctx context.Context, resumeID string) error

	// Ping 检查Qdrant连通性
	Ping(ctx context.Context) error
}

// 确保Qdrant实现了VectorIndex接口
var _ VectorIndex = (*Qdrant)(nil)

// Qdrant 通过HTTP API访问Qdrant向量数据库
type Qdrant struct {
	endpoint       string
	collectionName string
	vectorSize     int
	distanceMetric string
	apiKey         string
	httpClient     *http.Client
}

// QdrantOption Qdrant客户端配置选项
type QdrantOption func(*Qdrant)

// WithHTTPClient 使用自定义HTTP客户端
func WithHTTPClient(client *http.Client) QdrantOption {
	return func(q *Qdrant) {
		q.httpClient = client
	}
}

// WithDistanceMetric 设置距离度量，默认Cosine
func WithDistanceMetric(metric string) QdrantOption {
	return func(q *Qdrant) {
		q.distanceMetric = metric
	}
}

// NewQdrant 创建Qdrant客户端并确保集合存在
func NewQdrant(cfg *config.QdrantConfig, options ...QdrantOption) (*Qdrant, error) {
	if cfg == nil {
		return nil, fmt.Errorf("Qdrant配置不能为空")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("Qdrant endpoint不能为空")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("Qdrant向量维度必须大于0")
	}

	q := &Qdrant{
		endpoint:       cfg.Endpoint,
		collectionName: cfg.Collection,
		vectorSize:     cfg.Dimension,
		distanceMetric: "Cosine",
		apiKey:         cfg.APIKey,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}

	for _, option := range options {
		option(q)
	}

	if err := q.ensureCollectionExists(context.Background()); err != nil {
		return nil, fmt.Errorf("确保Qdrant集合存在失败: %w", err)
	}

	return q, nil
}

// ensureCollectionExists 检查集合是否存在，不存在则创建
func (q *Qdrant) ensureCollectionExists(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.EnsureCollection",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "qdrant"),
			attribute.String("db.collection", q.collectionName),
		),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/collections/%s", q.endpoint, q.collectionName), nil)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}
	q.setAuthHeader(req)

	resp, err := q.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("检查集合是否存在失败: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		err := fmt.Errorf("检查集合状态异常, 状态码: %d", resp.StatusCode)
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return err
	}

	return q.createCollection(ctx)
}

// createCollection 创建集合
func (q *Qdrant) createCollection(ctx context.Context) error {
	reqBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.vectorSize,
			"distance": q.distanceMetric,
		},
	}

	var result struct {
		Result bool    `json:"result"`
		Status string  `json:"status"`
		Time   float64 `json:"time"`
	}

	err := q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", q.collectionName), reqBody, &result)
	if err != nil {
		return fmt.Errorf("创建集合 %s 失败: %w", q.collectionName, err)
	}
	return nil
}

// PointIDForResume 计算简历对应的确定性点ID
func PointIDForResume(resumeID string) string {
	return uuid.NewV5(QdrantPointIDNamespace, resumeID).String()
}

// UpsertResumeVector 以简历ID为键upsert单个向量点
// 重复执行覆盖同一个点而不是追加新点
func (q *Qdrant) UpsertResumeVector(ctx context.Context, resumeID string, vector []float64, payload map[string]interface{}) (string, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.UpsertResumeVector",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "upsert_points"),
		attribute.String("db.collection", q.collectionName),
		attribute.String("resume.id", resumeID),
		attribute.Int("vector.size", len(vector)),
	)

	if len(vector) != q.vectorSize {
		err := fmt.Errorf("向量维度(%d)与配置维度(%d)不匹配", len(vector), q.vectorSize)
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return "", err
	}

	pointID := PointIDForResume(resumeID)

	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["resume_id"] = resumeID

	reqBody := map[string]interface{}{
		"points": []map[string]interface{}{
			{
				"id":      pointID,
				"vector":  vector,
				"payload": payload,
			},
		},
	}

	var result struct {
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
		Status string  `json:"status"`
		Time   float64 `json:"time"`
	}

	// wait=true保证写入对后续搜索立即可见
	err := q.doRequest(ctx, http.MethodPut,
		fmt.Sprintf("/collections/%s/points?wait=true", q.collectionName), reqBody, &result)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return "", err
	}

	span.SetAttributes(
		attribute.String("qdrant.point_id", pointID),
		attribute.String("qdrant.response_status", result.Status),
		attribute.Float64("qdrant.response_time", result.Time),
	)
	span.SetStatus(codes.Ok, "")
	return pointID, nil
}

// SearchSimilarResumes 检索与查询向量最相近的简历
// minScore为相似度下限，由Qdrant侧score_threshold过滤
func (q *Qdrant) SearchSimilarResumes(ctx context.Context, queryVector []float64, limit int, minScore float32) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.SearchSimilarResumes",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "search_vectors"),
		attribute.String("db.collection", q.collectionName),
		attribute.Int("search.limit", limit),
		attribute.Float64("search.min_score", float64(minScore)),
		attribute.Int("query_vector.size", len(queryVector)),
	)

	if len(queryVector) != q.vectorSize {
		err := fmt.Errorf("查询向量维度(%d)与配置维度(%d)不匹配", len(queryVector), q.vectorSize)
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, err
	}

	if limit <= 0 {
		limit = 10
	}

	searchReq := map[string]interface{}{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if minScore > 0 {
		searchReq["score_threshold"] = minScore
	}

	var result struct {
		Result []struct {
			ID      string                 `json:"id"`
			Score   float32                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
		Status string  `json:"status"`
		Time   float64 `json:"time"`
	}

	err := q.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/search", q.collectionName), searchReq, &result)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, err
	}

	searchResults := make([]SearchResult, 0, len(result.Result))
	for _, point := range result.Result {
		searchResults = append(searchResults, SearchResult{
			ID:      point.ID,
			Score:   point.Score,
			Payload: point.Payload,
		})
	}

	span.SetAttributes(
		attribute.Int("search.results.count", len(searchResults)),
		attribute.String("qdrant.response_status", result.Status),
		attribute.Float64("qdrant.response_time", result.Time),
	)
	span.SetStatus(codes.Ok, "")
	return searchResults, nil
}

// DeleteResumeVector 删除简历对应的向量点
func (q *Qdrant) DeleteResumeVector(ctx context.Context, resumeID string) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.DeleteResumeVector",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	pointID := PointIDForResume(resumeID)

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "delete_points"),
		attribute.String("db.collection", q.collectionName),
		attribute.String("resume.id", resumeID),
		attribute.String("qdrant.point_id", pointID),
	)

	reqBody := map[string]interface{}{
		"points": []string{pointID},
	}

	var result struct {
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
		Status string  `json:"status"`
		Time   float64 `json:"time"`
	}

	err := q.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/delete?wait=true", q.collectionName), reqBody, &result)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CountPoints 获取集合中的点数量
func (q *Qdrant) CountPoints(ctx context.Context) (int64, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.CountPoints",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "count_points"),
		attribute.String("db.collection", q.collectionName),
	)

	countReqBody := map[string]interface{}{
		"exact": true,
	}

	var result struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
		Status string  `json:"status"`
		Time   float64 `json:"time"`
	}

	err := q.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/count", q.collectionName), countReqBody, &result)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return 0, err
	}

	span.SetAttributes(attribute.Int64("qdrant.points.count", result.Result.Count))
	span.SetStatus(codes.Ok, "")
	return result.Result.Count, nil
}

// Ping 检查Qdrant连通性
func (q *Qdrant) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.endpoint+"/collections", nil)
	if err != nil {
		return err
	}
	q.setAuthHeader(req)

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant ping失败, 状态码: %d", resp.StatusCode)
	}
	return nil
}

func (q *Qdrant) setAuthHeader(req *http.Request) {
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
}

// doRequest 发送HTTP请求并解析JSON响应，带OTel追踪
func (q *Qdrant) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	ctx, span := qdrantTracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("net.peer.name", q.endpoint),
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", path),
	)

	var req *http.Request
	var err error

	if body != nil {
		jsonBody, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			tracing.RecordError(span, marshalErr, tracing.ErrorTypeVectorDB)
			return marshalErr
		}

		req, err = http.NewRequestWithContext(ctx, method, q.endpoint+path, bytes.NewBuffer(jsonBody))
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		span.SetAttributes(attribute.Int("http.request.body.size", len(jsonBody)))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, q.endpoint+path, nil)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
	}

	q.setAuthHeader(req)

	// 注入trace context
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return err
	}

	span.SetAttributes(attribute.Int("http.response.body.size", len(respBody)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("qdrant API error: status=%d, body=%s", resp.StatusCode, tracing.TruncateString(string(respBody), 200))
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return err
	}

	if result != nil && len(respBody) > 0 {
		if err = json.Unmarshal(respBody, result); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
