package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"resume-screener/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmbedder(t *testing.T, handler http.HandlerFunc) (*OpenAIEmbedder, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	embedder, err := NewOpenAIEmbedder(config.EmbeddingConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Model:      "text-embedding-3-small",
		Dimensions: 3,
	})
	require.NoError(t, err)
	return embedder, server
}

// TestOpenAIEmbedder_SingleText 测试单条文本以string形式发送
func TestOpenAIEmbedder_SingleText(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, isString := req["input"].(string)
		assert.True(t, isString, "单条文本应以string发送")
		assert.Equal(t, "text-embedding-3-small", req["model"])
		assert.Equal(t, float64(3), req["dimensions"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{"object": "embedding", "embedding": []float64{0.1, 0.2, 0.3}, "index": 0},
			},
			"model": "text-embedding-3-small",
		})
	})

	vectors, err := embedder.EmbedStrings(context.Background(), []string{"查询文本"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vectors[0])
}

// TestOpenAIEmbedder_ReorderByIndex 测试乱序响应按index归位
func TestOpenAIEmbedder_ReorderByIndex(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{"object": "embedding", "embedding": []float64{2, 2, 2}, "index": 1},
				{"object": "embedding", "embedding": []float64{1, 1, 1}, "index": 0},
			},
		})
	})

	vectors, err := embedder.EmbedStrings(context.Background(), []string{"第一块", "第二块"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float64{1, 1, 1}, vectors[0])
	assert.Equal(t, []float64{2, 2, 2}, vectors[1])
}

// TestOpenAIEmbedder_CountMismatch 测试结果数量与输入不一致时报错
func TestOpenAIEmbedder_CountMismatch(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{"object": "embedding", "embedding": []float64{1, 1, 1}, "index": 0},
			},
		})
	})

	_, err := embedder.EmbedStrings(context.Background(), []string{"第一块", "第二块"})
	assert.Error(t, err)
}

// TestOpenAIEmbedder_APIError 测试API错误响应透传
func TestOpenAIEmbedder_APIError(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"message": "rate limit exceeded",
				"type":    "rate_limit_error",
			},
		})
	})

	_, err := embedder.EmbedStrings(context.Background(), []string{"文本"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

// TestOpenAIEmbedder_EmptyInput 测试空输入直接返回空结果
func TestOpenAIEmbedder_EmptyInput(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("空输入不应发起HTTP请求")
	})

	vectors, err := embedder.EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

// TestNewOpenAIEmbedder_Validation 测试配置校验
func TestNewOpenAIEmbedder_Validation(t *testing.T) {
	_, err := NewOpenAIEmbedder(config.EmbeddingConfig{BaseURL: "http://x", Model: "m"})
	assert.Error(t, err)

	_, err = NewOpenAIEmbedder(config.EmbeddingConfig{APIKey: "k", Model: "m"})
	assert.Error(t, err)

	_, err = NewOpenAIEmbedder(config.EmbeddingConfig{APIKey: "k", BaseURL: "http://x"})
	assert.Error(t, err)
}

// TestOpenAIEmbedder_Ping 测试探活复用最小向量化请求
func TestOpenAIEmbedder_Ping(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{"object": "embedding", "embedding": []float64{0.1, 0.2, 0.3}, "index": 0},
			},
		})
	})
	assert.NoError(t, embedder.Ping(context.Background()))
}

// TestOpenAIEmbedder_PingUpstreamDown 测试上游不可用时探活报错
func TestOpenAIEmbedder_PingUpstreamDown(t *testing.T) {
	embedder, server := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	assert.Error(t, embedder.Ping(context.Background()))
}
