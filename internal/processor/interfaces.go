package processor

import (
	"context"

	"resume-screener/internal/storage"
	"resume-screener/internal/types"

	"github.com/cloudwego/eino/components/embedding"
)

// PDFExtractor PDF文本提取接口
type PDFExtractor interface {
	// ExtractTextFromBytes 从字节数组提取文本和元数据
	ExtractTextFromBytes(ctx context.Context, data []byte, uri string) (string, map[string]interface{}, error)
}

// StructuredExtractor 从纯文本中提取结构化简历字段
// LLM实现与正则降级实现共用此接口
type StructuredExtractor interface {
	Extract(ctx context.Context, text string) (*types.ResumeContent, error)
}

// ResumeChunker 将结构化内容切分为待向量化的文本块
type ResumeChunker interface {
	BuildChunks(content *types.ResumeContent) []types.ResumeChunk
}

// TextEmbedder 文本向量化接口 (符合 cloudwego/eino 规范)
type TextEmbedder interface {
	// EmbedStrings 将文本转换为向量表示
	EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error)

	// GetDimensions 返回嵌入向量的维度
	GetDimensions() int
}

// VectorIndex 向量索引接口，窄化自storage.VectorIndex便于测试替身
type VectorIndex interface {
	UpsertResumeVector(ctx context.Context, resumeID string, vector []float64, payload map[string]interface{}) (string, error)
	SearchSimilarResumes(ctx context.Context, queryVector []float64, limit int, minScore float32) ([]storage.SearchResult, error)
	DeleteResumeVector(ctx context.Context, resumeID string) error
}

// ObjectFetcher 原始文件读取接口
type ObjectFetcher interface {
	GetResume(ctx context.Context, objectKey string) ([]byte, error)
}
