package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"resume-screener/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// LLMStructuredExtractor 使用LLM从简历文本中提取结构化字段
type LLMStructuredExtractor struct {
	llmModel       model.ToolCallingChatModel
	maxAttempts    int
	initialBackoff time.Duration
	logger         *log.Logger
}

// LLMExtractorOption 配置选项
type LLMExtractorOption func(*LLMStructuredExtractor)

// WithExtractorLogger 配置自定义日志记录器
func WithExtractorLogger(logger *log.Logger) LLMExtractorOption {
	return func(e *LLMStructuredExtractor) {
		e.logger = logger
	}
}

// WithRetryPolicy 配置重试次数与初始退避时间
func WithRetryPolicy(maxAttempts int, initialBackoff time.Duration) LLMExtractorOption {
	return func(e *LLMStructuredExtractor) {
		if maxAttempts > 0 {
			e.maxAttempts = maxAttempts
		}
		if initialBackoff > 0 {
			e.initialBackoff = initialBackoff
		}
	}
}

// NewLLMStructuredExtractor 创建LLM结构化提取器
func NewLLMStructuredExtractor(llmModel model.ToolCallingChatModel, options ...LLMExtractorOption) (*LLMStructuredExtractor, error) {
	if llmModel == nil {
		return nil, fmt.Errorf("LLM模型不能为空")
	}

	extractor := &LLMStructuredExtractor{
		llmModel:       llmModel,
		maxAttempts:    3,
		initialBackoff: 2 * time.Second,
		logger:         log.New(os.Stderr, "[结构化提取] ", log.LstdFlags),
	}

	for _, option := range options {
		option(extractor)
	}

	return extractor, nil
}

// llmResumeFields LLM输出的JSON结构
type llmResumeFields struct {
	Skills     []string `json:"skills"`
	Experience []struct {
		Company     string `json:"company"`
		Position    string `json:"position"`
		Duration    string `json:"duration"`
		Description string `json:"description"`
	} `json:"experience"`
	Education []struct {
		Degree      string `json:"degree"`
		Institution string `json:"institution"`
		Year        string `json:"year"`
	} `json:"education"`
	ContactInfo struct {
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		LinkedIn string `json:"linkedin"`
	} `json:"contact_info"`
	Summary string `json:"summary"`
}

const extractSystemPrompt = `你是一个专业的简历信息提取助手。请从用户提供的简历文本中提取结构化信息，并严格按照以下JSON格式输出，不要输出任何额外的解释文字：

{
  "skills": ["技能1", "技能2"],
  "experience": [
    {"company": "公司名", "position": "职位", "duration": "时间段", "description": "职责描述"}
  ],
  "education": [
    {"degree": "学位", "institution": "学校", "year": "年份"}
  ],
  "contact_info": {"email": "邮箱", "phone": "电话", "linkedin": "LinkedIn链接"},
  "summary": "不超过三句话的候选人概况"
}

要求：
1. 所有字段缺失时使用空字符串或空数组，不要编造信息
2. experience按时间从近到远排序
3. skills去重，保留原文中的写法
4. 输出必须是合法的JSON

示例输入：
张三，高级后端工程师。熟悉Go、MySQL、Redis。2020-2023在ACME公司担任后端开发，负责订单系统。2016-2020就读于某大学计算机科学学士。邮箱 zhangsan@example.com。

示例输出：
{
  "skills": ["Go", "MySQL", "Redis"],
  "experience": [
    {"company": "ACME公司", "position": "后端开发", "duration": "2020-2023", "description": "负责订单系统"}
  ],
  "education": [
    {"degree": "计算机科学学士", "institution": "某大学", "year": "2016-2020"}
  ],
  "contact_info": {"email": "zhangsan@example.com", "phone": "", "linkedin": ""},
  "summary": "具有多年后端开发经验的高级工程师，熟悉Go技术栈。"
}`

// Extract 从简历文本提取结构化内容
// 调用LLM失败时带指数退避重试，超过次数后返回错误由上层降级处理
func (e *LLMStructuredExtractor) Extract(ctx context.Context, text string) (*types.ResumeContent, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("简历文本为空")
	}

	messages := []*schema.Message{
		schema.SystemMessage(extractSystemPrompt),
		schema.UserMessage(text),
	}

	response, err := e.callLLM(ctx, messages)
	if err != nil {
		return nil, err
	}

	jsonStr, err := extractJSON(response.Content)
	if err != nil {
		return nil, fmt.Errorf("从LLM响应中提取JSON失败: %w", err)
	}

	var fields llmResumeFields
	if err := json.Unmarshal([]byte(jsonStr), &fields); err != nil {
		return nil, fmt.Errorf("解析LLM提取结果失败: %w", err)
	}

	content := &types.ResumeContent{
		Text:    text,
		Skills:  fields.Skills,
		Summary: fields.Summary,
		ContactInfo: types.ContactInfo{
			Email:    fields.ContactInfo.Email,
			Phone:    fields.ContactInfo.Phone,
			LinkedIn: fields.ContactInfo.LinkedIn,
		},
	}
	if content.Skills == nil {
		content.Skills = []string{}
	}

	content.Experience = make([]types.ExperienceEntry, 0, len(fields.Experience))
	for _, exp := range fields.Experience {
		content.Experience = append(content.Experience, types.ExperienceEntry{
			Company:     exp.Company,
			Position:    exp.Position,
			Duration:    exp.Duration,
			Description: exp.Description,
		})
	}

	content.Education = make([]types.EducationEntry, 0, len(fields.Education))
	for _, edu := range fields.Education {
		content.Education = append(content.Education, types.EducationEntry{
			Degree:      edu.Degree,
			Institution: edu.Institution,
			Year:        edu.Year,
		})
	}

	return content, nil
}

// callLLM 调用LLM并在可重试错误时指数退避重试
func (e *LLMStructuredExtractor) callLLM(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	var lastErr error
	backoff := e.initialBackoff

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		response, err := e.llmModel.Generate(ctx, messages)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !IsRetryableError(err) || attempt == e.maxAttempts {
			break
		}

		e.logger.Printf("LLM调用失败 (第%d/%d次): %v, %s后重试", attempt, e.maxAttempts, err, backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("LLM调用在%d次尝试后仍然失败: %w", e.maxAttempts, lastErr)
}

var jsonBlockRegex = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// extractJSON 从LLM响应文本中提取JSON
// 优先匹配```json代码块，失败后回退到花括号配对
func extractJSON(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("LLM响应为空")
	}

	if matches := jsonBlockRegex.FindStringSubmatch(content); len(matches) > 1 {
		candidate := strings.TrimSpace(matches[1])
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	start := strings.Index(content, "{")
	if start < 0 {
		return "", fmt.Errorf("响应中未找到JSON对象")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					candidate := content[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, nil
					}
					return "", fmt.Errorf("提取的JSON片段无效")
				}
			}
		}
	}

	return "", fmt.Errorf("响应中JSON对象不完整")
}

// IsRetryableError 判断错误是否值得重试（超时、限流、连接类错误）
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryableSubstrings := []string{
		"timeout",
		"deadline exceeded",
		"connection reset",
		"eof",
		"connection refused",
		"429",
		"rate limit",
		"too many requests",
		"no such host",
		"internal server error",
		"bad gateway",
		"service unavailable",
		"gateway timeout",
		"服务器繁忙",
		"请求超过限额",
	}
	for _, substr := range retryableSubstrings {
		if strings.Contains(errStr, substr) {
			return true
		}
	}
	return false
}
