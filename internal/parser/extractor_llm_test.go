package parser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChatModel 返回预设响应序列的模拟聊天模型
type fakeChatModel struct {
	responses []*schema.Message
	errs      []error
	calls     int
}

func (m *fakeChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	idx := m.calls
	m.calls++
	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return nil, errors.New("没有更多预设响应")
}

func (m *fakeChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("未实现")
}

func (m *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

const sampleLLMOutput = `{
  "skills": ["Go", "MySQL"],
  "experience": [
    {"company": "ACME公司", "position": "后端开发", "duration": "2020-2023", "description": "负责订单系统"}
  ],
  "education": [
    {"degree": "计算机科学学士", "institution": "某大学", "year": "2016-2020"}
  ],
  "contact_info": {"email": "zhangsan@example.com", "phone": "", "linkedin": ""},
  "summary": "后端工程师"
}`

// TestLLMExtractor_Extract 测试LLM提取结果的字段映射
func TestLLMExtractor_Extract(t *testing.T) {
	chatModel := &fakeChatModel{
		responses: []*schema.Message{schema.AssistantMessage(sampleLLMOutput, nil)},
	}
	extractor, err := NewLLMStructuredExtractor(chatModel)
	require.NoError(t, err)

	content, err := extractor.Extract(context.Background(), "张三的简历全文")
	require.NoError(t, err)

	assert.Equal(t, "张三的简历全文", content.Text)
	assert.Equal(t, []string{"Go", "MySQL"}, content.Skills)
	require.Len(t, content.Experience, 1)
	assert.Equal(t, "ACME公司", content.Experience[0].Company)
	assert.Equal(t, "负责订单系统", content.Experience[0].Description)
	require.Len(t, content.Education, 1)
	assert.Equal(t, "某大学", content.Education[0].Institution)
	assert.Equal(t, "zhangsan@example.com", content.ContactInfo.Email)
	assert.Equal(t, "后端工程师", content.Summary)
}

// TestLLMExtractor_ExtractFromCodeBlock 测试LLM响应带markdown代码块
func TestLLMExtractor_ExtractFromCodeBlock(t *testing.T) {
	wrapped := "提取结果如下：\n```json\n" + sampleLLMOutput + "\n```"
	chatModel := &fakeChatModel{
		responses: []*schema.Message{schema.AssistantMessage(wrapped, nil)},
	}
	extractor, err := NewLLMStructuredExtractor(chatModel)
	require.NoError(t, err)

	content, err := extractor.Extract(context.Background(), "简历全文")
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "MySQL"}, content.Skills)
}

// TestLLMExtractor_RetryOnRetryableError 测试可重试错误后恢复
func TestLLMExtractor_RetryOnRetryableError(t *testing.T) {
	chatModel := &fakeChatModel{
		errs:      []error{errors.New("request timeout"), nil},
		responses: []*schema.Message{nil, schema.AssistantMessage(sampleLLMOutput, nil)},
	}
	extractor, err := NewLLMStructuredExtractor(chatModel,
		WithRetryPolicy(3, time.Millisecond))
	require.NoError(t, err)

	content, err := extractor.Extract(context.Background(), "简历全文")
	require.NoError(t, err)
	assert.Equal(t, 2, chatModel.calls)
	assert.Equal(t, []string{"Go", "MySQL"}, content.Skills)
}

// TestLLMExtractor_NoRetryOnPermanentError 测试不可重试错误立即失败
func TestLLMExtractor_NoRetryOnPermanentError(t *testing.T) {
	chatModel := &fakeChatModel{
		errs: []error{errors.New("invalid api key")},
	}
	extractor, err := NewLLMStructuredExtractor(chatModel,
		WithRetryPolicy(3, time.Millisecond))
	require.NoError(t, err)

	_, err = extractor.Extract(context.Background(), "简历全文")
	require.Error(t, err)
	assert.Equal(t, 1, chatModel.calls)
}

// TestLLMExtractor_EmptyText 测试空文本直接报错
func TestLLMExtractor_EmptyText(t *testing.T) {
	extractor, err := NewLLMStructuredExtractor(&fakeChatModel{})
	require.NoError(t, err)

	_, err = extractor.Extract(context.Background(), "   ")
	assert.Error(t, err)
}

// TestExtractJSON 测试从各种响应格式中提取JSON
func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "纯JSON",
			input: `{"skills": ["Go"]}`,
			want:  `{"skills": ["Go"]}`,
		},
		{
			name:  "json代码块",
			input: "```json\n{\"skills\": []}\n```",
			want:  `{"skills": []}`,
		},
		{
			name:  "无语言标注的代码块",
			input: "```\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "JSON前后带解释文字",
			input: `好的，结果是 {"a": {"b": 2}} 以上。`,
			want:  `{"a": {"b": 2}}`,
		},
		{
			name:  "字符串值中含花括号",
			input: `{"summary": "喜欢用{花括号}写注释"}`,
			want:  `{"summary": "喜欢用{花括号}写注释"}`,
		},
		{
			name:    "空响应",
			input:   "   ",
			wantErr: true,
		},
		{
			name:    "没有JSON对象",
			input:   "抱歉，我无法处理这个请求",
			wantErr: true,
		},
		{
			name:    "花括号不闭合",
			input:   `{"a": 1`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestIsRetryableError 测试可重试错误判定
func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(errors.New("context deadline exceeded")))
	assert.True(t, IsRetryableError(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsRetryableError(errors.New("HTTP 429 Too Many Requests")))
	assert.True(t, IsRetryableError(errors.New("502 Bad Gateway")))
	assert.True(t, IsRetryableError(errors.New("服务器繁忙，请稍后再试")))
	assert.False(t, IsRetryableError(errors.New("invalid api key")))
	assert.False(t, IsRetryableError(errors.New("json解析失败")))
}
