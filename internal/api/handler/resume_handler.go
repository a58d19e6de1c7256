package handler

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"resume-screener/internal/config"
	"resume-screener/internal/constants"
	"resume-screener/internal/logger"
	"resume-screener/internal/storage"
	"resume-screener/internal/storage/models"
	"resume-screener/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
)

// 下载链接有效期
const downloadURLExpiry = 15 * time.Minute

// resumeStore 简历记录的持久化操作
type resumeStore interface {
	CreateResume(ctx context.Context, resume *models.Resume) error
	GetResumeByID(ctx context.Context, resumeID string) (*models.Resume, error)
	ListResumes(ctx context.Context, skip, limit int, status string) ([]*models.Resume, int64, error)
	DeleteResume(ctx context.Context, resumeID string) error
}

// objectStore 原始简历文件的对象存储操作
type objectStore interface {
	UploadResumeStreaming(ctx context.Context, resumeID, fileExt string, reader io.Reader, fileSize int64) (string, string, error)
	DeleteResume(ctx context.Context, objectKey string) error
	GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// fileDeduper 文件MD5去重登记
type fileDeduper interface {
	IsDuplicateFile(ctx context.Context, md5Hex string) (bool, error)
	GetResumeIDByMD5(ctx context.Context, md5Hex string) (string, error)
	RegisterFileMD5(ctx context.Context, md5Hex, resumeID string) error
	RemoveFileMD5(ctx context.Context, md5Hex string) error
}

// eventPublisher 上传事件发布
type eventPublisher interface {
	PublishJSON(ctx context.Context, exchangeName, routingKey string, data interface{}, persistent bool) error
}

// vectorRemover 向量点删除
type vectorRemover interface {
	DeleteResumeVector(ctx context.Context, resumeID string) error
}

// ResumeHandler 简历上传与生命周期管理
type ResumeHandler struct {
	cfg     *config.Config
	store   resumeStore
	objects objectStore
	dedupe  fileDeduper
	events  eventPublisher
	vectors vectorRemover
}

// NewResumeHandler 创建简历处理器。逐字段判空，避免把nil具体指针装进接口
func NewResumeHandler(cfg *config.Config, st *storage.Storage) *ResumeHandler {
	h := &ResumeHandler{cfg: cfg}
	if st.MySQL != nil {
		h.store = st.MySQL
	}
	if st.MinIO != nil {
		h.objects = st.MinIO
	}
	if st.Redis != nil {
		h.dedupe = st.Redis
	}
	if st.RabbitMQ != nil {
		h.events = st.RabbitMQ
	}
	if st.Qdrant != nil {
		h.vectors = st.Qdrant
	}
	return h
}

// UploadResponse 上传接口响应
type UploadResponse struct {
	ResumeID   string    `json:"resume_id"`
	Filename   string    `json:"filename"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	UploadDate time.Time `json:"upload_date"`
}

// HandleUpload 处理简历上传: 校验 -> 去重 -> 存对象 -> 建记录 -> 发消息
func (h *ResumeHandler) HandleUpload(ctx context.Context, c *app.RequestContext) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "缺少file字段"})
		return
	}

	filename := fileHeader.Filename
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".pdf" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "只接受PDF文件"})
		return
	}

	maxBytes := int64(h.cfg.Upload.MaxFileSizeMB) * 1024 * 1024
	if fileHeader.Size <= 0 {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "文件为空"})
		return
	}
	if fileHeader.Size > maxBytes {
		c.JSON(consts.StatusRequestEntityTooLarge, utils.H{
			"error": fmt.Sprintf("文件大小超过%dMB限制", h.cfg.Upload.MaxFileSizeMB),
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "打开上传文件失败"})
		return
	}
	defer file.Close()

	// MD5去重检查需要在对象上传前完成，文件大小有上限，整体读入内存
	fileBytes := make([]byte, 0, fileHeader.Size)
	buf := bytes.NewBuffer(fileBytes)
	if _, err := buf.ReadFrom(file); err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "读取上传文件失败"})
		return
	}
	data := buf.Bytes()

	md5Sum := md5.Sum(data)
	md5Hex := hex.EncodeToString(md5Sum[:])

	duplicate, err := h.dedupe.IsDuplicateFile(ctx, md5Hex)
	if err != nil {
		logger.Error().Err(err).Str("md5", md5Hex).Msg("查询文件MD5去重集合失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "去重检查失败"})
		return
	}
	if duplicate {
		existingID, err := h.dedupe.GetResumeIDByMD5(ctx, md5Hex)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Err(err).Str("md5", md5Hex).Msg("查询重复文件对应的简历ID失败")
		}
		logger.Info().Str("md5", md5Hex).Str("filename", filename).
			Str("existing_resume_id", existingID).Msg("检测到重复文件，拒绝上传")
		c.JSON(consts.StatusConflict, utils.H{
			"error":              "相同内容的简历已存在",
			"existing_resume_id": existingID,
		})
		return
	}

	uuidV7, err := uuid.NewV7()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "生成简历ID失败"})
		return
	}
	resumeID := uuidV7.String()
	uploadDate := time.Now().UTC()

	objectKey, _, err := h.objects.UploadResumeStreaming(ctx, resumeID, ext,
		bytes.NewReader(data), int64(len(data)))
	if err != nil {
		logger.Error().Err(err).Str("resume_id", resumeID).Msg("上传简历到MinIO失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "存储简历文件失败"})
		return
	}

	record := &models.Resume{
		ResumeID:   resumeID,
		Filename:   filename,
		Status:     constants.StatusUploaded,
		UploadDate: uploadDate,
		ObjectKey:  objectKey,
		ContentMD5: md5Hex,
	}
	if err := h.store.CreateResume(ctx, record); err != nil {
		logger.Error().Err(err).Str("resume_id", resumeID).Msg("创建简历记录失败")
		// 记录没建成，已上传的对象不回收会变成孤儿
		if delErr := h.objects.DeleteResume(ctx, objectKey); delErr != nil {
			logger.Warn().Err(delErr).Str("resume_id", resumeID).
				Str("object_key", objectKey).Msg("回滚清理已上传对象失败")
		}
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "创建简历记录失败"})
		return
	}

	if err := h.dedupe.RegisterFileMD5(ctx, md5Hex, resumeID); err != nil {
		// 去重登记失败不阻塞上传，后续相同文件会重复入库
		logger.Warn().Err(err).Str("md5", md5Hex).Str("resume_id", resumeID).
			Msg("登记文件MD5失败")
	}

	message := storage.ResumeUploadedMessage{
		ResumeID:   resumeID,
		ObjectKey:  objectKey,
		Filename:   filename,
		FileSize:   int64(len(data)),
		ContentMD5: md5Hex,
		UploadDate: uploadDate,
	}
	if err := h.events.PublishJSON(ctx,
		h.cfg.RabbitMQ.ResumeExchange, h.cfg.RabbitMQ.UploadedRoutingKey,
		message, true); err != nil {
		logger.Error().Err(err).Str("resume_id", resumeID).Msg("发布简历上传消息失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "简历已保存但入队失败，请稍后重试"})
		return
	}

	logger.Info().Str("resume_id", resumeID).Str("filename", filename).
		Int("size", len(data)).Msg("简历上传成功")
	c.JSON(consts.StatusOK, UploadResponse{
		ResumeID:   resumeID,
		Filename:   filename,
		Status:     constants.StatusUploaded,
		Message:    "上传成功，已进入处理队列",
		UploadDate: uploadDate,
	})
}

// HandleStatus 查询处理状态
func (h *ResumeHandler) HandleStatus(ctx context.Context, c *app.RequestContext) {
	resumeID := c.Param("resume_id")
	record, err := h.store.GetResumeByID(ctx, resumeID)
	if err != nil {
		if errors.Is(err, storage.ErrResumeNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "简历不存在"})
			return
		}
		logger.Error().Err(err).Str("resume_id", resumeID).Msg("查询简历状态失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询简历状态失败"})
		return
	}

	resp := utils.H{
		"resume_id":   record.ResumeID,
		"status":      record.Status,
		"filename":    record.Filename,
		"upload_date": record.UploadDate,
		"updated_at":  record.UpdatedAt,
	}
	if constants.TerminalStatuses[record.Status] {
		resp["processing_seconds"] = processingSeconds(record)
	}
	if record.Status == constants.StatusFailed && record.ErrorMessage != "" {
		resp["error_message"] = record.ErrorMessage
	}
	c.JSON(consts.StatusOK, resp)
}

// processingSeconds 优先取流水线记录的真实处理耗时，不含排队等待；
// 元信息缺失时退回记录时间差
func processingSeconds(record *models.Resume) float64 {
	if len(record.FileMetadata) > 0 {
		var meta types.FileMetadata
		if err := models.JSONToStruct(record.FileMetadata, &meta); err == nil && meta.ProcessingSeconds > 0 {
			return meta.ProcessingSeconds
		}
	}
	return record.UpdatedAt.Sub(record.UploadDate).Seconds()
}

// resumeDetail 详情接口响应
type resumeDetail struct {
	ResumeID     string               `json:"resume_id"`
	Filename     string               `json:"filename"`
	Status       string               `json:"status"`
	UploadDate   time.Time            `json:"upload_date"`
	Content      *types.ResumeContent `json:"content,omitempty"`
	FileMetadata *types.FileMetadata  `json:"file_metadata,omitempty"`
	DownloadURL  string               `json:"download_url,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
}

// HandleGetResume 获取简历详情（含结构化内容与原始文件下载链接）
func (h *ResumeHandler) HandleGetResume(ctx context.Context, c *app.RequestContext) {
	resumeID := c.Param("resume_id")
	record, err := h.store.GetResumeByID(ctx, resumeID)
	if err != nil {
		if errors.Is(err, storage.ErrResumeNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "简历不存在"})
			return
		}
		logger.Error().Err(err).Str("resume_id", resumeID).Msg("查询简历详情失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询简历详情失败"})
		return
	}

	detail := resumeDetail{
		ResumeID:     record.ResumeID,
		Filename:     record.Filename,
		Status:       record.Status,
		UploadDate:   record.UploadDate,
		ErrorMessage: record.ErrorMessage,
	}
	if len(record.Content) > 0 {
		var content types.ResumeContent
		if err := models.JSONToStruct(record.Content, &content); err == nil {
			detail.Content = &content
		}
	}
	if len(record.FileMetadata) > 0 {
		var meta types.FileMetadata
		if err := models.JSONToStruct(record.FileMetadata, &meta); err == nil {
			detail.FileMetadata = &meta
		}
	}
	if h.objects != nil && record.ObjectKey != "" {
		url, err := h.objects.GetPresignedURL(ctx, record.ObjectKey, downloadURLExpiry)
		if err != nil {
			logger.Warn().Err(err).Str("resume_id", resumeID).Msg("生成下载链接失败")
		} else {
			detail.DownloadURL = url
		}
	}
	c.JSON(consts.StatusOK, detail)
}

// HandleListResumes 分页列出简历，支持按状态过滤
func (h *ResumeHandler) HandleListResumes(ctx context.Context, c *app.RequestContext) {
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	status := c.Query("status")

	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if status != "" && !isKnownStatus(status) {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "未知的status过滤值"})
		return
	}

	records, total, err := h.store.ListResumes(ctx, skip, limit, status)
	if err != nil {
		logger.Error().Err(err).Msg("列出简历失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "列出简历失败"})
		return
	}

	items := make([]utils.H, 0, len(records))
	for _, record := range records {
		items = append(items, utils.H{
			"resume_id":   record.ResumeID,
			"filename":    record.Filename,
			"status":      record.Status,
			"upload_date": record.UploadDate,
		})
	}
	c.JSON(consts.StatusOK, utils.H{
		"total":   total,
		"skip":    skip,
		"limit":   limit,
		"resumes": items,
	})
}

// HandleDeleteResume 删除简历: 向量点、原始文件、MD5登记、数据库记录
func (h *ResumeHandler) HandleDeleteResume(ctx context.Context, c *app.RequestContext) {
	resumeID := c.Param("resume_id")
	record, err := h.store.GetResumeByID(ctx, resumeID)
	if err != nil {
		if errors.Is(err, storage.ErrResumeNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "简历不存在"})
			return
		}
		logger.Error().Err(err).Str("resume_id", resumeID).Msg("查询待删除简历失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询简历失败"})
		return
	}

	// 向量先删，残留向量会出现在检索结果里
	if record.VectorID != "" {
		if err := h.vectors.DeleteResumeVector(ctx, resumeID); err != nil {
			logger.Error().Err(err).Str("resume_id", resumeID).Msg("删除向量点失败")
			c.JSON(consts.StatusInternalServerError, utils.H{"error": "删除向量数据失败"})
			return
		}
	}

	if record.ObjectKey != "" {
		if err := h.objects.DeleteResume(ctx, record.ObjectKey); err != nil {
			logger.Warn().Err(err).Str("resume_id", resumeID).
				Str("object_key", record.ObjectKey).Msg("删除原始文件失败，继续删除记录")
		}
	}

	if record.ContentMD5 != "" {
		if err := h.dedupe.RemoveFileMD5(ctx, record.ContentMD5); err != nil {
			logger.Warn().Err(err).Str("resume_id", resumeID).Msg("清理MD5登记失败")
		}
	}

	if err := h.store.DeleteResume(ctx, resumeID); err != nil {
		logger.Error().Err(err).Str("resume_id", resumeID).Msg("删除简历记录失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "删除简历记录失败"})
		return
	}

	logger.Info().Str("resume_id", resumeID).Msg("简历已删除")
	c.JSON(consts.StatusOK, utils.H{"resume_id": resumeID, "deleted": true})
}

func isKnownStatus(status string) bool {
	switch status {
	case constants.StatusUploaded, constants.StatusProcessing,
		constants.StatusProcessed, constants.StatusFailed:
		return true
	}
	return false
}
