package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"resume-screener/internal/config"
	"resume-screener/internal/ratelimit"

	"github.com/cloudwego/eino/components/embedding"
)

// OpenAIEmbedder 通过OpenAI兼容的/embeddings端点生成文本向量
// 实现 cloudwego/eino embedding.Embedder 接口
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.TokenBucket
}

// NewOpenAIEmbedder 创建Embedder，QPM>0时启用令牌桶限流
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API密钥不能为空")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding base_url不能为空")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding模型名不能为空")
	}

	embedder := &OpenAIEmbedder{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	if cfg.QPM > 0 {
		embedder.limiter = ratelimit.NewTokenBucket(cfg.QPM, 0)
	}
	return embedder, nil
}

// GetDimensions 返回配置的向量维度
func (o *OpenAIEmbedder) GetDimensions() int {
	return o.dimensions
}

// Ping 用一条最小的向量化请求验证上游API可达
func (o *OpenAIEmbedder) Ping(ctx context.Context) error {
	_, err := o.EmbedStrings(ctx, []string{"ping"})
	return err
}

// openAIEmbeddingRequest OpenAI兼容的embedding请求
type openAIEmbeddingRequest struct {
	Input      interface{} `json:"input"` // string 或 []string
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions,omitempty"`
}

// openAIEmbeddingResponse OpenAI兼容的embedding响应
type openAIEmbeddingResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *openAIAPIError `json:"error,omitempty"`
}

type openAIAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// EmbedStrings 将文本批量转换为向量，实现 embedding.Embedder 接口
func (o *OpenAIEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	options := &embedding.Options{}
	embedding.GetCommonOptions(options, opts...)

	effectiveModel := o.model
	if options.Model != nil && *options.Model != "" {
		effectiveModel = *options.Model
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("等待embedding限流令牌失败: %w", err)
		}
	}

	var input interface{}
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	reqBody := openAIEmbeddingRequest{
		Input: input,
		Model: effectiveModel,
	}
	if o.dimensions > 0 {
		reqBody.Dimensions = o.dimensions
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化embedding请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送embedding请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取embedding响应失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr openAIEmbeddingResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("embedding API调用失败, 状态码: %d, 类型: %s, 错误: %s",
				resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("embedding API调用失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	var parsed openAIEmbeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("解析embedding响应JSON失败: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, fmt.Errorf("embedding API返回错误: 类型=%s, 消息=%s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding结果数量(%d)与输入文本数量(%d)不一致", len(parsed.Data), len(texts))
	}

	// API可能乱序返回，按Index归位
	embeddings := make([][]float64, len(texts))
	for _, entry := range parsed.Data {
		if entry.Index < 0 || entry.Index >= len(texts) {
			return nil, fmt.Errorf("embedding结果index越界: %d", entry.Index)
		}
		embeddings[entry.Index] = entry.Embedding
	}
	return embeddings, nil
}

// 确保OpenAIEmbedder实现了eino embedding.Embedder接口
var _ embedding.Embedder = (*OpenAIEmbedder)(nil)
