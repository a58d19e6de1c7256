package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
)

// EinoPDFExtractor 使用Eino PDF Parser提取文本
type EinoPDFExtractor struct {
	parser *pdf.PDFParser
	logger *log.Logger
}

// EinoPDFOption PDF提取器的配置选项
type EinoPDFOption func(*EinoPDFExtractor)

// WithEinoLogger 配置自定义日志记录器
func WithEinoLogger(logger *log.Logger) EinoPDFOption {
	return func(e *EinoPDFExtractor) {
		e.logger = logger
	}
}

// NewEinoPDFExtractor 初始化Eino PDF文本提取器
// ToPages为false，整个文档作为单个连续文本返回
func NewEinoPDFExtractor(ctx context.Context, options ...EinoPDFOption) (*EinoPDFExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{
		ToPages: false,
	})
	if err != nil {
		return nil, fmt.Errorf("创建Eino PDF parser失败: %w", err)
	}

	extractor := &EinoPDFExtractor{
		parser: p,
		logger: log.New(os.Stderr, "[PDF解析器] ", log.LstdFlags),
	}

	for _, option := range options {
		option(extractor)
	}

	return extractor, nil
}

// ExtractTextFromBytes 从字节数组提取文本内容和元数据
func (e *EinoPDFExtractor) ExtractTextFromBytes(ctx context.Context, data []byte, uri string) (string, map[string]interface{}, error) {
	return e.ExtractTextFromReader(ctx, bytes.NewReader(data), uri)
}

// ExtractTextFromReader 从io.Reader中提取文本
func (e *EinoPDFExtractor) ExtractTextFromReader(ctx context.Context, reader io.Reader, uri string) (string, map[string]interface{}, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	docs, err := e.parser.Parse(ctx, reader,
		einoParser.WithURI(uri),
	)

	duration := time.Since(startTime)
	if err != nil {
		e.logger.Printf("PDF提取失败 (URI: %s): %v (用时 %.2f秒)", uri, err, duration.Seconds())
		return "", nil, fmt.Errorf("eino PDF parser解析 %s 失败: %w", uri, err)
	}

	if len(docs) == 0 {
		return "", nil, fmt.Errorf("eino PDF parser对 %s 未返回任何文档", uri)
	}

	// ToPages=false时通常只有一个文档，多个时拼接
	var fullContent string
	for i, doc := range docs {
		fullContent += doc.Content
		if i < len(docs)-1 {
			fullContent += "\n\n"
		}
	}

	metadata := make(map[string]interface{})
	if docs[0].MetaData != nil {
		for k, v := range docs[0].MetaData {
			metadata[k] = v
		}
	}
	metadata["document_count"] = len(docs)
	metadata["text_length"] = len(fullContent)
	metadata["processing_duration_ms"] = duration.Milliseconds()

	e.logger.Printf("PDF提取完成 (URI: %s): %d 个字符 (用时 %.2f秒)", uri, len(fullContent), duration.Seconds())
	return fullContent, metadata, nil
}
