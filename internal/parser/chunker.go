package parser

import (
	"fmt"
	"strings"

	"resume-screener/internal/types"
)

// ChunkTypeText/Skills/Experience 分块类型
const (
	ChunkTypeText       = "text"
	ChunkTypeSkills     = "skills"
	ChunkTypeExperience = "experience"
)

// Chunker 将结构化简历内容切分为待向量化的文本块
type Chunker struct {
	chunkSize    int // 单个文本块的最大rune数
	chunkOverlap int // 相邻文本块的重叠rune数
}

// NewChunker 创建分块器，参数非法时使用默认值(1000/200)
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// BuildChunks 生成简历的全部文本块:
//   - 全文按chunkSize/chunkOverlap滑动切分
//   - 技能单独一块（存在时）
//   - 最近三段工作经历各一块（存在时）
func (c *Chunker) BuildChunks(content *types.ResumeContent) []types.ResumeChunk {
	if content == nil {
		return nil
	}

	var chunks []types.ResumeChunk

	for _, piece := range c.splitText(content.Text) {
		chunks = append(chunks, types.ResumeChunk{
			Type:    ChunkTypeText,
			Content: piece,
		})
	}

	if len(content.Skills) > 0 {
		chunks = append(chunks, types.ResumeChunk{
			Type:    ChunkTypeSkills,
			Content: "技能: " + strings.Join(content.Skills, ", "),
		})
	}

	experience := content.Experience
	if len(experience) > 3 {
		experience = experience[:3]
	}
	for _, exp := range experience {
		text := formatExperience(exp)
		if text == "" {
			continue
		}
		chunks = append(chunks, types.ResumeChunk{
			Type:    ChunkTypeExperience,
			Content: text,
		})
	}

	return chunks
}

// splitText 将长文本按rune滑动窗口切分
func (c *Chunker) splitText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= c.chunkSize {
		return []string{text}
	}

	step := c.chunkSize - c.chunkOverlap
	var pieces []string
	for start := 0; start < len(runes); start += step {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			pieces = append(pieces, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return pieces
}

// formatExperience 将一段工作经历格式化为单行文本
func formatExperience(exp types.ExperienceEntry) string {
	var parts []string
	if exp.Position != "" {
		parts = append(parts, exp.Position)
	}
	if exp.Company != "" {
		parts = append(parts, exp.Company)
	}
	if exp.Duration != "" {
		parts = append(parts, exp.Duration)
	}
	head := strings.Join(parts, " @ ")
	if exp.Description != "" {
		if head == "" {
			return exp.Description
		}
		return fmt.Sprintf("%s: %s", head, exp.Description)
	}
	return head
}
