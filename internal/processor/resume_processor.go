package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"resume-screener/internal/logger"
	"resume-screener/internal/parser"
	"resume-screener/internal/storage"
	"resume-screener/internal/storage/models"
	"resume-screener/internal/tracing"
	"resume-screener/internal/types"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var processorTracer = otel.Tracer("resume-screener/processor")

// ResumeProcessor 消费上传事件并执行完整处理流水线:
// 取原始文件 -> 提取文本 -> 结构化提取(LLM降级到正则) -> 分块 -> 向量化 -> 写向量库 -> 落库
type ResumeProcessor struct {
	store     storage.ResumeStore
	objects   ObjectFetcher
	extractor PDFExtractor
	llm       StructuredExtractor
	fallback  StructuredExtractor
	chunker   ResumeChunker
	embedder  TextEmbedder
	vectors   VectorIndex

	maxAttempts    int
	initialBackoff time.Duration
	messageTimeout time.Duration
}

// ProcessorOption 配置选项
type ProcessorOption func(*ResumeProcessor)

// WithRetryPolicy 配置外部调用的重试次数与初始退避时间
func WithRetryPolicy(maxAttempts int, initialBackoff time.Duration) ProcessorOption {
	return func(p *ResumeProcessor) {
		if maxAttempts > 0 {
			p.maxAttempts = maxAttempts
		}
		if initialBackoff > 0 {
			p.initialBackoff = initialBackoff
		}
	}
}

// WithMessageTimeout 配置单条消息的处理超时
func WithMessageTimeout(timeout time.Duration) ProcessorOption {
	return func(p *ResumeProcessor) {
		if timeout > 0 {
			p.messageTimeout = timeout
		}
	}
}

// NewResumeProcessor 创建处理器
func NewResumeProcessor(
	store storage.ResumeStore,
	objects ObjectFetcher,
	extractor PDFExtractor,
	llm StructuredExtractor,
	fallback StructuredExtractor,
	chunker ResumeChunker,
	embedder TextEmbedder,
	vectors VectorIndex,
	options ...ProcessorOption,
) (*ResumeProcessor, error) {
	if store == nil || objects == nil || extractor == nil || chunker == nil || embedder == nil || vectors == nil {
		return nil, fmt.Errorf("处理器依赖不完整")
	}
	if llm == nil && fallback == nil {
		return nil, fmt.Errorf("至少需要一个结构化提取器")
	}

	p := &ResumeProcessor{
		store:          store,
		objects:        objects,
		extractor:      extractor,
		llm:            llm,
		fallback:       fallback,
		chunker:        chunker,
		embedder:       embedder,
		vectors:        vectors,
		maxAttempts:    3,
		initialBackoff: 2 * time.Second,
		messageTimeout: 5 * time.Minute,
	}
	for _, option := range options {
		option(p)
	}
	return p, nil
}

// HandleMessage 消费一条队列消息，返回true表示ack，false表示nack重新入队
func (p *ResumeProcessor) HandleMessage(body []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.messageTimeout)
	defer cancel()

	var msg storage.ResumeUploadedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		// 无法解析的消息重投也不会成功，直接ack丢弃
		logger.Error().Err(err).Str("body", tracing.TruncateString(string(body), 200)).
			Msg("解析简历上传消息失败，丢弃")
		return true
	}
	if msg.ResumeID == "" || msg.ObjectKey == "" {
		logger.Error().Str("resume_id", msg.ResumeID).Str("object_key", msg.ObjectKey).
			Msg("简历上传消息缺少必需字段，丢弃")
		return true
	}

	return p.ProcessResume(ctx, &msg)
}

// ProcessResume 执行一条简历的完整处理流程
// 返回true表示消息可以确认（成功或已进入终态），false表示需要重新投递
func (p *ResumeProcessor) ProcessResume(ctx context.Context, msg *storage.ResumeUploadedMessage) bool {
	ctx, span := processorTracer.Start(ctx, "ResumeProcessor.ProcessResume",
		trace.WithAttributes(
			attribute.String("resume.id", msg.ResumeID),
			attribute.String("resume.object_key", msg.ObjectKey),
		),
	)
	defer span.End()

	startTime := time.Now()
	lg := logger.Logger.With().Str("resume_id", msg.ResumeID).Logger()

	// 状态前移到processing，重复投递时终态记录直接跳过
	if err := p.store.MarkProcessing(ctx, msg.ResumeID); err != nil {
		switch {
		case errors.Is(err, storage.ErrAlreadyTerminal):
			lg.Info().Msg("简历已处于终态，跳过重复投递")
			span.SetStatus(codes.Ok, "already terminal")
			return true
		case errors.Is(err, storage.ErrResumeNotFound):
			lg.Error().Msg("简历记录不存在，丢弃消息")
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return true
		default:
			lg.Error().Err(err).Msg("标记processing状态失败，消息重新入队")
			tracing.RecordQueueNack(span, msg.ResumeID, err.Error())
			return false
		}
	}

	// 读取原始文件
	var pdfData []byte
	err := p.retryCall(ctx, "fetch_object", func() error {
		var fetchErr error
		pdfData, fetchErr = p.objects.GetResume(ctx, msg.ObjectKey)
		return fetchErr
	})
	if err != nil {
		return p.failResume(ctx, span, &lg, msg.ResumeID, fmt.Sprintf("读取原始文件失败: %v", err))
	}

	// 提取文本，PDF损坏属于终态失败
	text, extractMeta, err := p.extractor.ExtractTextFromBytes(ctx, pdfData, msg.Filename)
	if err != nil {
		return p.failResume(ctx, span, &lg, msg.ResumeID, fmt.Sprintf("PDF文本提取失败: %v", err))
	}
	if strings.TrimSpace(text) == "" {
		return p.failResume(ctx, span, &lg, msg.ResumeID, "PDF中未提取到任何文本")
	}
	span.SetAttributes(attribute.String("resume.text_preview", tracing.SafeResumeContent(text)))

	// 结构化提取，LLM失败时降级到正则提取器，降级结果视为成功
	content, err := p.extractStructured(ctx, &lg, text)
	if err != nil {
		return p.failResume(ctx, span, &lg, msg.ResumeID, fmt.Sprintf("结构化提取失败: %v", err))
	}

	// 分块
	chunks := p.chunker.BuildChunks(content)
	if len(chunks) == 0 {
		return p.failResume(ctx, span, &lg, msg.ResumeID, "分块结果为空")
	}

	// 向量化
	chunkTexts := make([]string, len(chunks))
	for i, chunk := range chunks {
		chunkTexts[i] = chunk.Content
	}

	var embeddings [][]float64
	err = p.retryCall(ctx, "embed_chunks", func() error {
		var embedErr error
		embeddings, embedErr = p.embedder.EmbedStrings(ctx, chunkTexts)
		return embedErr
	})
	if err != nil {
		return p.failResume(ctx, span, &lg, msg.ResumeID, fmt.Sprintf("向量化失败: %v", err))
	}

	avgVector, err := averageVectors(embeddings, p.embedder.GetDimensions())
	if err != nil {
		return p.failResume(ctx, span, &lg, msg.ResumeID, fmt.Sprintf("向量聚合失败: %v", err))
	}

	// 向量最后写入，保证失败时向量库中不会留下孤儿点
	payload := map[string]interface{}{
		"filename":    msg.Filename,
		"skills":      content.Skills,
		"upload_date": msg.UploadDate.Format(time.RFC3339),
	}
	var vectorID string
	err = p.retryCall(ctx, "upsert_vector", func() error {
		var upsertErr error
		vectorID, upsertErr = p.vectors.UpsertResumeVector(ctx, msg.ResumeID, avgVector, payload)
		return upsertErr
	})
	if err != nil {
		return p.failResume(ctx, span, &lg, msg.ResumeID, fmt.Sprintf("向量写入失败: %v", err))
	}

	// 落库
	fileMeta := types.FileMetadata{
		FileSize:          msg.FileSize,
		Pages:             extractPageCount(extractMeta),
		ProcessingSeconds: time.Since(startTime).Seconds(),
		ExtractedAt:       time.Now().UTC(),
	}

	contentJSON, err := models.StructToJSON(content)
	if err != nil {
		return p.failResume(ctx, span, &lg, msg.ResumeID, fmt.Sprintf("序列化结构化内容失败: %v", err))
	}
	metaJSON, err := models.StructToJSON(fileMeta)
	if err != nil {
		return p.failResume(ctx, span, &lg, msg.ResumeID, fmt.Sprintf("序列化文件元数据失败: %v", err))
	}

	fields := map[string]interface{}{
		"content":       contentJSON,
		"file_metadata": metaJSON,
		"vector_id":     vectorID,
		"search_text":   buildSearchText(content),
	}
	if err := p.store.MarkProcessed(ctx, msg.ResumeID, fields); err != nil {
		if errors.Is(err, storage.ErrAlreadyTerminal) {
			// 并发重复投递时另一个消费者先完成，向量写入本身幂等
			lg.Info().Msg("简历已被其他消费者处理完成")
			span.SetStatus(codes.Ok, "")
			return true
		}
		lg.Error().Err(err).Msg("标记processed状态失败，消息重新入队")
		tracing.RecordQueueNack(span, msg.ResumeID, err.Error())
		return false
	}

	lg.Info().
		Int("chunks", len(chunks)).
		Int("skills", len(content.Skills)).
		Str("vector_id", vectorID).
		Float64("seconds", time.Since(startTime).Seconds()).
		Msg("简历处理完成")
	span.SetAttributes(
		attribute.Int("resume.chunks", len(chunks)),
		attribute.String("resume.vector_id", vectorID),
	)
	span.SetStatus(codes.Ok, "")
	return true
}

// extractStructured 先用LLM提取，失败时降级到正则提取器
func (p *ResumeProcessor) extractStructured(ctx context.Context, lg *zerolog.Logger, text string) (*types.ResumeContent, error) {
	if p.llm != nil {
		content, err := p.llm.Extract(ctx, text)
		if err == nil {
			return content, nil
		}
		lg.Warn().Err(err).Msg("LLM结构化提取失败，降级到正则提取")
		if p.fallback == nil {
			return nil, err
		}
	}
	return p.fallback.Extract(ctx, text)
}

// failResume 将简历标记为failed并记录错误，返回true让消息确认
func (p *ResumeProcessor) failResume(ctx context.Context, span trace.Span, lg *zerolog.Logger, resumeID, errMsg string) bool {
	lg.Error().Str("error_message", errMsg).Msg("简历处理失败")
	tracing.RecordError(span, errors.New(errMsg), tracing.ErrorTypeInternal)

	if err := p.store.MarkFailed(ctx, resumeID, errMsg); err != nil {
		if errors.Is(err, storage.ErrAlreadyTerminal) {
			return true
		}
		lg.Error().Err(err).Msg("标记failed状态失败，消息重新入队")
		return false
	}
	return true
}

// retryCall 对可重试错误执行指数退避重试
func (p *ResumeProcessor) retryCall(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	backoff := p.initialBackoff

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !parser.IsRetryableError(lastErr) || attempt == p.maxAttempts {
			return lastErr
		}

		logger.Warn().Err(lastErr).Str("operation", operation).
			Int("attempt", attempt).Int("max_attempts", p.maxAttempts).
			Dur("backoff", backoff).Msg("操作失败，退避后重试")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

// averageVectors 将多个分块向量按维度取均值，得到简历级单一向量
func averageVectors(embeddings [][]float64, expectedDim int) ([]float64, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("没有可聚合的向量")
	}

	dim := len(embeddings[0])
	if dim == 0 {
		return nil, fmt.Errorf("向量维度为0")
	}
	if expectedDim > 0 && dim != expectedDim {
		return nil, fmt.Errorf("向量维度(%d)与期望维度(%d)不一致", dim, expectedDim)
	}

	avg := make([]float64, dim)
	for _, vec := range embeddings {
		if len(vec) != dim {
			return nil, fmt.Errorf("向量维度不一致: %d != %d", len(vec), dim)
		}
		for i, v := range vec {
			avg[i] += v
		}
	}
	n := float64(len(embeddings))
	for i := range avg {
		avg[i] /= n
	}
	return avg, nil
}

// buildSearchText 拼接全文检索列: 原文+技能+摘要
func buildSearchText(content *types.ResumeContent) string {
	var parts []string
	if content.Text != "" {
		parts = append(parts, content.Text)
	}
	if len(content.Skills) > 0 {
		parts = append(parts, strings.Join(content.Skills, " "))
	}
	if content.Summary != "" {
		parts = append(parts, content.Summary)
	}
	return strings.Join(parts, "\n")
}

// extractPageCount 从提取器元数据中解析页数，Tika使用xmpTPg:NPages键
func extractPageCount(metadata map[string]interface{}) int {
	if metadata == nil {
		return 0
	}
	for _, key := range []string{"xmpTPg:NPages", "pages", "page_count"} {
		if v, ok := metadata[key]; ok {
			switch n := v.(type) {
			case int:
				return n
			case float64:
				return int(n)
			case string:
				var parsed int
				if _, err := fmt.Sscanf(n, "%d", &parsed); err == nil {
					return parsed
				}
			}
		}
	}
	return 0
}
