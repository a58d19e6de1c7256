package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// TikaPDFExtractor 基于Apache Tika Server的PDF解析器
// 作为Eino parser之外的可配置替代方案 (pipeline.pdf_extractor: tika)
type TikaPDFExtractor struct {
	ServerURL string
	Client    *http.Client

	extractMinimalMetadata bool
	logger                 *log.Logger
}

// TikaOption 配置选项函数
type TikaOption func(*TikaPDFExtractor)

// WithMinimalMetadata 配置是否提取精简的关键元数据
func WithMinimalMetadata(extract bool) TikaOption {
	return func(e *TikaPDFExtractor) {
		e.extractMinimalMetadata = extract
	}
}

// WithTikaLogger 配置自定义日志记录器
func WithTikaLogger(logger *log.Logger) TikaOption {
	return func(e *TikaPDFExtractor) {
		e.logger = logger
	}
}

// WithTimeout 配置HTTP客户端超时时间
func WithTimeout(timeout time.Duration) TikaOption {
	return func(e *TikaPDFExtractor) {
		e.Client.Timeout = timeout
	}
}

// NewTikaPDFExtractor 创建Tika PDF解析器
func NewTikaPDFExtractor(serverURL string, options ...TikaOption) *TikaPDFExtractor {
	extractor := &TikaPDFExtractor{
		ServerURL:              serverURL,
		Client:                 &http.Client{Timeout: 60 * time.Second},
		extractMinimalMetadata: true,
		logger:                 log.New(os.Stderr, "[TikaPDF] ", log.LstdFlags),
	}

	for _, option := range options {
		option(extractor)
	}

	return extractor
}

// ExtractTextFromReader 从io.Reader提取文本内容
func (e *TikaPDFExtractor) ExtractTextFromReader(ctx context.Context, reader io.Reader, uri string) (string, map[string]interface{}, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", nil, fmt.Errorf("读取PDF内容失败: %w", err)
	}
	return e.ExtractTextFromBytes(ctx, data, uri)
}

// ExtractTextFromBytes 从字节数组提取文本内容
func (e *TikaPDFExtractor) ExtractTextFromBytes(ctx context.Context, data []byte, uri string) (string, map[string]interface{}, error) {
	startTime := time.Now()

	metadata := map[string]interface{}{
		"source_uri": uri,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.ServerURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", metadata, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Accept", "text/plain")
	if uri != "" {
		req.Header.Set("X-Tika-Resource-Name", uri)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return "", metadata, fmt.Errorf("请求Tika服务器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", metadata, fmt.Errorf("tika服务器返回错误状态码: %d", resp.StatusCode)
	}

	textBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", metadata, fmt.Errorf("读取Tika响应失败: %w", err)
	}

	text := string(textBytes)
	metadata["text_length"] = len(text)
	metadata["processing_duration_ms"] = time.Since(startTime).Milliseconds()

	if e.extractMinimalMetadata {
		if rawMetadata, err := e.extractMetadata(ctx, data, uri); err == nil {
			for k, v := range rawMetadata {
				if isImportantMetadata(k) {
					metadata[k] = v
				}
			}
		} else {
			e.logger.Printf("元数据提取失败: %v, 继续使用基本元数据", err)
		}
	}

	return text, metadata, nil
}

// 判断元数据字段是否重要
func isImportantMetadata(key string) bool {
	importantKeys := map[string]bool{
		"pdf:PDFVersion":  true,
		"xmpTPg:NPages":   true,
		"dcterms:created": true,
		"language":        true,
		"dc:title":        true,
		"Content-Type":    true,
	}
	return importantKeys[key]
}

// extractMetadata 提取文档元数据
func (e *TikaPDFExtractor) extractMetadata(ctx context.Context, data []byte, uri string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.ServerURL+"/meta", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Accept", "application/json")
	if uri != "" {
		req.Header.Set("X-Tika-Resource-Name", uri)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求Tika服务器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tika服务器返回错误状态码: %d", resp.StatusCode)
	}

	metadataBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取Tika响应失败: %w", err)
	}

	var metadata map[string]interface{}
	if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
		return nil, fmt.Errorf("解析元数据JSON失败: %w", err)
	}
	return metadata, nil
}
