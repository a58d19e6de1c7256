package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"resume-screener/internal/config"
	"resume-screener/internal/ratelimit"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// OpenAIChatModel 通过OpenAI兼容的/chat/completions端点调用LLM
// 实现 model.ToolCallingChatModel 接口
type OpenAIChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature float64
	httpClient  *http.Client
	limiter     *ratelimit.TokenBucket
	boundTools  []openAITool
}

// NewOpenAIChatModel 创建聊天模型客户端
func NewOpenAIChatModel(cfg config.LLMConfig) (*OpenAIChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("LLM API密钥不能为空")
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, fmt.Errorf("LLM API URL不能为空")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("LLM模型名不能为空")
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	m := &OpenAIChatModel{
		apiKey:      cfg.APIKey,
		modelName:   cfg.Model,
		apiURL:      cfg.APIURL,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
	if cfg.QPM > 0 {
		m.limiter = ratelimit.NewTokenBucket(cfg.QPM, 0)
	}
	return m, nil
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"` // 固定为"function"
	Function openAIFunction `json:"function"`
}

type openAIChatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []*schema.Message `json:"messages"`
	Temperature float64           `json:"temperature,omitempty"`
	Tools       []openAITool      `json:"tools,omitempty"`
}

type openAIChatMessage struct {
	Role      string  `json:"role"`
	Content   *string `json:"content"`
	ToolCalls []struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls,omitempty"`
}

type openAIChatCompletionResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int               `json:"index"`
		Message      openAIChatMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
}

// Generate 实现 model.BaseChatModel 接口
func (m *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("等待LLM限流令牌失败: %w", err)
		}
	}

	reqPayload := openAIChatCompletionRequest{
		Model:       m.modelName,
		Messages:    messages,
		Temperature: m.temperature,
	}
	if len(m.boundTools) > 0 {
		reqPayload.Tools = m.boundTools
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("LLM API请求失败, 状态 %s: %s", httpResp.Status, string(bodyBytes))
	}

	var apiResp openAIChatCompletionResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("反序列化API响应失败: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("LLM API返回空choices")
	}

	apiMessage := apiResp.Choices[0].Message
	content := ""
	if apiMessage.Content != nil {
		content = *apiMessage.Content
	}

	result := &schema.Message{
		Role:    schema.RoleType(apiMessage.Role),
		Content: content,
	}
	if result.Role == "" {
		result.Role = schema.Assistant
	}

	if len(apiMessage.ToolCalls) > 0 {
		result.ToolCalls = make([]schema.ToolCall, len(apiMessage.ToolCalls))
		for i, tc := range apiMessage.ToolCalls {
			result.ToolCalls[i] = schema.ToolCall{
				ID: tc.ID,
				Function: schema.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
	}

	return result, nil
}

// Stream 实现 model.BaseChatModel 接口
// 结构化提取只用Generate，流式暂不支持
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("OpenAIChatModel的Stream方法未实现")
}

// BindTools 绑定工具定义
func (m *OpenAIChatModel) BindTools(tools []*schema.ToolInfo) error {
	m.boundTools = make([]openAITool, 0, len(tools))
	for _, toolInfo := range tools {
		if toolInfo == nil {
			continue
		}
		m.boundTools = append(m.boundTools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        toolInfo.Name,
				Description: toolInfo.Desc,
			},
		})
	}
	return nil
}

// WithTools 实现 model.ToolCallingChatModel 接口
func (m *OpenAIChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if err := m.BindTools(tools); err != nil {
		return nil, err
	}
	return m, nil
}

var _ model.ToolCallingChatModel = (*OpenAIChatModel)(nil)
