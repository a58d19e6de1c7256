package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"resume-screener/internal/config"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChatModel(t *testing.T, handler http.HandlerFunc) *OpenAIChatModel {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	chatModel, err := NewOpenAIChatModel(config.LLMConfig{
		APIKey:      "test-key",
		APIURL:      server.URL,
		Model:       "gpt-4o-mini",
		Temperature: 0.1,
	})
	require.NoError(t, err)
	return chatModel
}

// TestChatModel_Generate 测试请求构造与响应解析
func TestChatModel_Generate(t *testing.T) {
	chatModel := newTestChatModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req["model"])
		messages := req["messages"].([]interface{})
		assert.Len(t, messages, 2)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "chatcmpl-1",
			"choices": []map[string]interface{}{
				{
					"index": 0,
					"message": map[string]interface{}{
						"role":    "assistant",
						"content": "提取结果",
					},
					"finish_reason": "stop",
				},
			},
		})
	})

	response, err := chatModel.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("你是提取助手"),
		schema.UserMessage("简历全文"),
	})
	require.NoError(t, err)
	assert.Equal(t, schema.Assistant, response.Role)
	assert.Equal(t, "提取结果", response.Content)
}

// TestChatModel_GenerateNullContent 测试content为null时不崩溃（工具调用响应常见）
func TestChatModel_GenerateNullContent(t *testing.T) {
	chatModel := newTestChatModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{
						"id": "call-1",
						"type": "function",
						"function": {"name": "extract_resume", "arguments": "{\"skills\":[]}"}
					}]
				},
				"finish_reason": "tool_calls"
			}]
		}`))
	})

	response, err := chatModel.Generate(context.Background(), []*schema.Message{schema.UserMessage("文本")})
	require.NoError(t, err)
	assert.Empty(t, response.Content)
	require.Len(t, response.ToolCalls, 1)
	assert.Equal(t, "extract_resume", response.ToolCalls[0].Function.Name)
	assert.Equal(t, `{"skills":[]}`, response.ToolCalls[0].Function.Arguments)
}

// TestChatModel_EmptyChoices 测试空choices报错
func TestChatModel_EmptyChoices(t *testing.T) {
	chatModel := newTestChatModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	})

	_, err := chatModel.Generate(context.Background(), []*schema.Message{schema.UserMessage("文本")})
	assert.Error(t, err)
}

// TestChatModel_HTTPError 测试非200响应携带状态信息
func TestChatModel_HTTPError(t *testing.T) {
	chatModel := newTestChatModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	})

	_, err := chatModel.Generate(context.Background(), []*schema.Message{schema.UserMessage("文本")})
	require.Error(t, err)
	assert.True(t, IsRetryableError(err), "429应被判定为可重试")
}

// TestChatModel_BindTools 测试工具绑定后随请求发送
func TestChatModel_BindTools(t *testing.T) {
	var sentTools []interface{}
	chatModel := newTestChatModel(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		if tools, ok := req["tools"].([]interface{}); ok {
			sentTools = tools
		}
		w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`))
	})

	bound, err := chatModel.WithTools([]*schema.ToolInfo{
		{Name: "extract_resume", Desc: "提取简历结构化字段"},
	})
	require.NoError(t, err)

	_, err = bound.Generate(context.Background(), []*schema.Message{schema.UserMessage("文本")})
	require.NoError(t, err)

	require.Len(t, sentTools, 1)
	tool := sentTools[0].(map[string]interface{})
	assert.Equal(t, "function", tool["type"])
	fn := tool["function"].(map[string]interface{})
	assert.Equal(t, "extract_resume", fn["name"])
}

// TestNewOpenAIChatModel_Validation 测试配置校验
func TestNewOpenAIChatModel_Validation(t *testing.T) {
	_, err := NewOpenAIChatModel(config.LLMConfig{APIURL: "http://x", Model: "m"})
	assert.Error(t, err)

	_, err = NewOpenAIChatModel(config.LLMConfig{APIKey: "k", Model: "m"})
	assert.Error(t, err)

	_, err = NewOpenAIChatModel(config.LLMConfig{APIKey: "k", APIURL: "http://x"})
	assert.Error(t, err)
}
