package parser

import (
	"context"
	"regexp"
	"strings"

	"resume-screener/internal/types"
)

// RegexStructuredExtractor 基于正则与词表的降级提取器
// LLM不可用时保证流水线仍能产出基本结构化字段
type RegexStructuredExtractor struct {
	skillVocabulary []string
}

var (
	emailRegex    = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRegex    = regexp.MustCompile(`(?:\+?\d{1,3}[\s\-]?)?(?:\(\d{2,4}\)[\s\-]?)?\d{3,4}[\s\-]?\d{3,4}(?:[\s\-]?\d{3,4})?`)
	linkedinRegex = regexp.MustCompile(`(?i)linkedin\.com/in/[a-zA-Z0-9\-_%]+`)
)

// defaultSkillVocabulary 常见技术技能词表，匹配时忽略大小写
var defaultSkillVocabulary = []string{
	"Go", "Golang", "Java", "Python", "C++", "C#", "JavaScript", "TypeScript",
	"Rust", "Ruby", "PHP", "Kotlin", "Swift", "Scala", "SQL",
	"MySQL", "PostgreSQL", "MongoDB", "Redis", "Elasticsearch", "Kafka",
	"RabbitMQ", "Docker", "Kubernetes", "AWS", "GCP", "Azure",
	"Linux", "Git", "CI/CD", "gRPC", "GraphQL", "REST",
	"React", "Vue", "Angular", "Node.js", "Spring", "Django", "Flask",
	"TensorFlow", "PyTorch", "Machine Learning", "Deep Learning", "NLP",
}

// RegexExtractorOption 配置选项
type RegexExtractorOption func(*RegexStructuredExtractor)

// WithSkillVocabulary 使用自定义技能词表
func WithSkillVocabulary(vocabulary []string) RegexExtractorOption {
	return func(e *RegexStructuredExtractor) {
		if len(vocabulary) > 0 {
			e.skillVocabulary = vocabulary
		}
	}
}

// NewRegexStructuredExtractor 创建降级提取器
func NewRegexStructuredExtractor(options ...RegexExtractorOption) *RegexStructuredExtractor {
	extractor := &RegexStructuredExtractor{
		skillVocabulary: defaultSkillVocabulary,
	}
	for _, option := range options {
		option(extractor)
	}
	return extractor
}

// Extract 从简历文本提取基本结构化内容
// 只填充能可靠识别的字段，experience/education留空
func (e *RegexStructuredExtractor) Extract(ctx context.Context, text string) (*types.ResumeContent, error) {
	content := &types.ResumeContent{
		Text:       text,
		Skills:     e.matchSkills(text),
		Experience: []types.ExperienceEntry{},
		Education:  []types.EducationEntry{},
		Summary:    buildSummary(text),
	}

	if email := emailRegex.FindString(text); email != "" {
		content.ContactInfo.Email = email
	}
	if phone := phoneRegex.FindString(text); phone != "" {
		content.ContactInfo.Phone = strings.TrimSpace(phone)
	}
	if linkedin := linkedinRegex.FindString(text); linkedin != "" {
		content.ContactInfo.LinkedIn = linkedin
	}

	return content, nil
}

// matchSkills 按词表匹配技能，保留词表中的规范写法并去重
func (e *RegexStructuredExtractor) matchSkills(text string) []string {
	lowerText := strings.ToLower(text)
	seen := make(map[string]bool)
	skills := []string{}

	for _, skill := range e.skillVocabulary {
		key := strings.ToLower(skill)
		if seen[key] {
			continue
		}
		if containsWord(lowerText, key) {
			seen[key] = true
			skills = append(skills, skill)
		}
	}
	return skills
}

// containsWord 检查文本是否包含完整的词（避免"Go"匹配到"Google"）
func containsWord(text, word string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], word)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(word)

		startOK := start == 0 || !isWordChar(text[start-1])
		endOK := end == len(text) || !isWordChar(text[end])
		if startOK && endOK {
			return true
		}
		idx = start + 1
		if idx >= len(text) {
			return false
		}
	}
}

func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// buildSummary 截取文本开头作为摘要
func buildSummary(text string) string {
	const maxSummaryRunes = 200

	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= maxSummaryRunes {
		return trimmed
	}
	return string(runes[:maxSummaryRunes])
}
