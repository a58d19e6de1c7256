package parser

import (
	"strings"
	"testing"

	"resume-screener/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestChunker_ShortTextSingleChunk 测试短文本只产出一个text块
func TestChunker_ShortTextSingleChunk(t *testing.T) {
	chunker := NewChunker(1000, 200)

	content := &types.ResumeContent{Text: "一段很短的简历文本"}
	chunks := chunker.BuildChunks(content)

	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkTypeText, chunks[0].Type)
	assert.Equal(t, "一段很短的简历文本", chunks[0].Content)
}

// TestChunker_SlidingWindow 测试长文本滑动窗口切分与重叠
func TestChunker_SlidingWindow(t *testing.T) {
	chunker := NewChunker(10, 2)

	// 25个字符, 步长8: [0,10) [8,18) [16,25)
	text := "abcdefghijklmnopqrstuvwxy"
	content := &types.ResumeContent{Text: text}
	chunks := chunker.BuildChunks(content)

	require.Len(t, chunks, 3)
	assert.Equal(t, "abcdefghij", chunks[0].Content)
	assert.Equal(t, "ijklmnopqr", chunks[1].Content)
	assert.Equal(t, "qrstuvwxy", chunks[2].Content)
	for _, chunk := range chunks {
		assert.Equal(t, ChunkTypeText, chunk.Type)
	}
}

// TestChunker_SkillsChunk 测试技能块的拼接格式
func TestChunker_SkillsChunk(t *testing.T) {
	chunker := NewChunker(1000, 200)

	content := &types.ResumeContent{
		Text:   "正文",
		Skills: []string{"Go", "MySQL", "Redis"},
	}
	chunks := chunker.BuildChunks(content)

	require.Len(t, chunks, 2)
	assert.Equal(t, ChunkTypeSkills, chunks[1].Type)
	assert.Equal(t, "技能: Go, MySQL, Redis", chunks[1].Content)
}

// TestChunker_ExperienceTopThree 测试最多取最近三段工作经历
func TestChunker_ExperienceTopThree(t *testing.T) {
	chunker := NewChunker(1000, 200)

	content := &types.ResumeContent{
		Text: "正文",
		Experience: []types.ExperienceEntry{
			{Company: "A公司", Position: "后端", Duration: "2023-2024", Description: "订单系统"},
			{Company: "B公司", Position: "后端", Duration: "2021-2023"},
			{Company: "C公司", Position: "实习", Duration: "2020-2021"},
			{Company: "D公司", Position: "实习", Duration: "2019-2020"},
		},
	}
	chunks := chunker.BuildChunks(content)

	var expChunks []types.ResumeChunk
	for _, chunk := range chunks {
		if chunk.Type == ChunkTypeExperience {
			expChunks = append(expChunks, chunk)
		}
	}
	require.Len(t, expChunks, 3)
	assert.Equal(t, "后端 @ A公司 @ 2023-2024: 订单系统", expChunks[0].Content)
	assert.Equal(t, "后端 @ B公司 @ 2021-2023", expChunks[1].Content)
	assert.True(t, strings.Contains(expChunks[2].Content, "C公司"))
}

// TestChunker_NilContent 测试nil输入
func TestChunker_NilContent(t *testing.T) {
	chunker := NewChunker(1000, 200)
	assert.Nil(t, chunker.BuildChunks(nil))
}

// TestChunker_EmptyText 测试空文本不产出text块
func TestChunker_EmptyText(t *testing.T) {
	chunker := NewChunker(1000, 200)

	content := &types.ResumeContent{
		Text:   "   ",
		Skills: []string{"Go"},
	}
	chunks := chunker.BuildChunks(content)
	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkTypeSkills, chunks[0].Type)
}

// TestChunker_InvalidParamsFallback 测试非法参数回退默认值
func TestChunker_InvalidParamsFallback(t *testing.T) {
	chunker := NewChunker(0, -1)

	// 默认chunkSize为1000, 恰好1000个rune应只有一块
	content := &types.ResumeContent{Text: strings.Repeat("字", 1000)}
	chunks := chunker.BuildChunks(content)
	require.Len(t, chunks, 1)

	// 超出后应切分为多块
	content = &types.ResumeContent{Text: strings.Repeat("字", 1001)}
	chunks = chunker.BuildChunks(content)
	assert.Greater(t, len(chunks), 1)
}
