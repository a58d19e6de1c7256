package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"resume-screener/internal/constants"
	"resume-screener/internal/storage"
	"resume-screener/internal/storage/models"
	"resume-screener/internal/types"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSearchEmbedder 记录收到的查询文本
type fakeSearchEmbedder struct {
	vector  []float64
	err     error
	queries []string
}

func (f *fakeSearchEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	f.queries = append(f.queries, texts...)
	if f.err != nil {
		return nil, f.err
	}
	return [][]float64{f.vector}, nil
}

func (f *fakeSearchEmbedder) GetDimensions() int { return len(f.vector) }

// fakeSearchIndex 记录检索参数并返回预设命中
type fakeSearchIndex struct {
	hits     []storage.SearchResult
	err      error
	limit    int
	minScore float32
}

func (f *fakeSearchIndex) UpsertResumeVector(ctx context.Context, resumeID string, vector []float64, payload map[string]interface{}) (string, error) {
	return "", nil
}

func (f *fakeSearchIndex) SearchSimilarResumes(ctx context.Context, queryVector []float64, limit int, minScore float32) ([]storage.SearchResult, error) {
	f.limit = limit
	f.minScore = minScore
	return f.hits, f.err
}

func (f *fakeSearchIndex) DeleteResumeVector(ctx context.Context, resumeID string) error {
	return nil
}

// fakeResumeLookup 按ID返回预设记录
type fakeResumeLookup struct {
	records map[string]*models.Resume
}

func (f *fakeResumeLookup) GetResumesByIDs(ctx context.Context, resumeIDs []string) (map[string]*models.Resume, error) {
	result := make(map[string]*models.Resume)
	for _, id := range resumeIDs {
		if r, ok := f.records[id]; ok {
			result[id] = r
		}
	}
	return result, nil
}

func processedResume(t *testing.T, resumeID, filename string, skills []string) *models.Resume {
	t.Helper()
	content, err := models.StructToJSON(&types.ResumeContent{
		Skills:  skills,
		Summary: "候选人概况",
	})
	require.NoError(t, err)
	return &models.Resume{
		ResumeID:   resumeID,
		Filename:   filename,
		Status:     constants.StatusProcessed,
		UploadDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Content:    content,
	}
}

func hit(resumeID string, score float32) storage.SearchResult {
	return storage.SearchResult{
		ID:      "point-" + resumeID,
		Score:   score,
		Payload: map[string]interface{}{"resume_id": resumeID},
	}
}

func newSearchFixture(t *testing.T) (*SearchService, *fakeSearchEmbedder, *fakeSearchIndex, *fakeResumeLookup) {
	t.Helper()
	embedder := &fakeSearchEmbedder{vector: []float64{0.1, 0.2}}
	index := &fakeSearchIndex{}
	lookup := &fakeResumeLookup{records: map[string]*models.Resume{}}

	service, err := NewSearchService(embedder, index, lookup, 5, 0.7, 20)
	require.NoError(t, err)
	return service, embedder, index, lookup
}

// TestSearch_Success 测试检索命中补全元数据并按分数降序
func TestSearch_Success(t *testing.T) {
	service, _, index, lookup := newSearchFixture(t)
	lookup.records["r1"] = processedResume(t, "r1", "a.pdf", []string{"Go"})
	lookup.records["r2"] = processedResume(t, "r2", "b.pdf", []string{"Java"})
	index.hits = []storage.SearchResult{hit("r1", 0.81), hit("r2", 0.92)}

	resp, err := service.Search(context.Background(), "Go后端工程师", 0, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, resp.TotalMatches)
	require.Len(t, resp.Matches, 2)
	// 分数降序
	assert.Equal(t, "r2", resp.Matches[0].ResumeID)
	assert.Equal(t, "r1", resp.Matches[1].ResumeID)
	assert.Equal(t, "b.pdf", resp.Matches[0].Filename)
	assert.Equal(t, []string{"Java"}, resp.Matches[0].Skills)
	assert.Equal(t, "候选人概况", resp.Matches[0].Summary)
}

// TestSearch_EmptyQueryRejected 测试空查询直接报错
func TestSearch_EmptyQueryRejected(t *testing.T) {
	service, embedder, _, _ := newSearchFixture(t)

	_, err := service.Search(context.Background(), "   ", 0, nil)
	require.Error(t, err)
	assert.Empty(t, embedder.queries, "空查询不应触发向量化")
}

// TestSearch_Defaults 测试topK与minSimilarity缺省值
func TestSearch_Defaults(t *testing.T) {
	service, _, index, _ := newSearchFixture(t)

	resp, err := service.Search(context.Background(), "查询", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, index.limit)
	assert.Equal(t, 5, resp.TopK)
	assert.InDelta(t, 0.7, float64(index.minScore), 1e-6)
}

// TestSearch_ExplicitZeroMinSimilarity 测试显式传0表示不过滤，区别于未传
func TestSearch_ExplicitZeroMinSimilarity(t *testing.T) {
	service, _, index, _ := newSearchFixture(t)

	zero := float32(0)
	resp, err := service.Search(context.Background(), "查询", 3, &zero)
	require.NoError(t, err)
	assert.Equal(t, float32(0), index.minScore)
	assert.Equal(t, float32(0), resp.MinSimilarity)
	assert.Equal(t, 3, index.limit)
}

// TestSearch_QueryTruncation 测试超长查询按rune截断后向量化
func TestSearch_QueryTruncation(t *testing.T) {
	service, embedder, _, _ := newSearchFixture(t)

	long := strings.Repeat("岗", 50)
	resp, err := service.Search(context.Background(), long, 0, nil)
	require.NoError(t, err)

	require.Len(t, embedder.queries, 1)
	assert.Equal(t, 20, len([]rune(embedder.queries[0])), "向量化前应截断到maxQueryChars")
	assert.Equal(t, long, resp.Query, "响应中保留原始查询")
}

// TestSearch_SkipsInconsistentHits 测试跳过文档库缺失与非processed的命中
func TestSearch_SkipsInconsistentHits(t *testing.T) {
	service, _, index, lookup := newSearchFixture(t)
	lookup.records["r1"] = processedResume(t, "r1", "a.pdf", nil)

	failed := processedResume(t, "r3", "c.pdf", nil)
	failed.Status = constants.StatusFailed
	lookup.records["r3"] = failed

	index.hits = []storage.SearchResult{
		hit("r1", 0.9),
		hit("r2", 0.8), // 文档库无记录
		hit("r3", 0.7), // 非processed状态
		{ID: "point-x", Score: 0.6, Payload: map[string]interface{}{}}, // 缺resume_id
	}

	resp, err := service.Search(context.Background(), "查询", 10, nil)
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "r1", resp.Matches[0].ResumeID)
}

// TestSearch_EmbedderFailure 测试向量化失败时返回错误
func TestSearch_EmbedderFailure(t *testing.T) {
	service, embedder, _, _ := newSearchFixture(t)
	embedder.err = errors.New("rate limit")

	_, err := service.Search(context.Background(), "查询", 0, nil)
	assert.Error(t, err)
}

// TestSearch_VectorIndexFailure 测试向量检索失败时返回错误
func TestSearch_VectorIndexFailure(t *testing.T) {
	service, _, index, _ := newSearchFixture(t)
	index.err = errors.New("connection refused")

	_, err := service.Search(context.Background(), "查询", 0, nil)
	assert.Error(t, err)
}
