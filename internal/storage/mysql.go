package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"resume-screener/internal/config"
	"resume-screener/internal/constants"
	"resume-screener/internal/storage/models"
	"resume-screener/internal/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("resume-screener/storage/mysql")

// ErrResumeNotFound 简历记录不存在
var ErrResumeNotFound = errors.New("resume not found")

// GormTracingPlugin 是一个GORM插件，向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}

	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}

	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}

	return nil
}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}

		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		}

		newCtx, span := p.tracer.Start(ctx, spanName, opts...)
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

type gormSpanKey struct{}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(
			attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
			attribute.String("db.statement", tracing.SafeSQL(db.Statement.SQL.String())),
		)

		// ErrRecordNotFound 是业务正常情况，不作为错误上报
		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				span.SetAttributes(
					attribute.String("error.type", "database_error"),
					attribute.String("error.message", db.Error.Error()),
				)
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// ResumeStore 简历文档库接口
type ResumeStore interface {
	CreateResume(ctx context.Context, resume *models.Resume) error
	GetResumeByID(ctx context.Context, resumeID string) (*models.Resume, error)
	GetResumesByIDs(ctx context.Context, resumeIDs []string) (map[string]*models.Resume, error)
	ListResumes(ctx context.Context, skip, limit int, status string) ([]*models.Resume, int64, error)
	MarkProcessing(ctx context.Context, resumeID string) error
	MarkProcessed(ctx context.Context, resumeID string, fields map[string]interface{}) error
	MarkFailed(ctx context.Context, resumeID string, errMsg string) error
	DeleteResume(ctx context.Context, resumeID string) error
	Ping(ctx context.Context) error
}

// 确保MySQL实现了ResumeStore接口
var _ ResumeStore = (*MySQL)(nil)

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并自动迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	case 4:
		logLevel = logger.Info
	default:
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{
		db:  db,
		cfg: cfg,
	}

	tracingPlugin := NewGormTracingPlugin(cfg.Database)
	if err := db.Use(tracingPlugin); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := m.autoMigrateSchema(); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构，迁移期间静默SQL日志
func (m *MySQL) autoMigrateSchema() error {
	currentLogger := m.db.Logger

	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	err := silentDB.AutoMigrate(
		&models.Resume{},
	)

	m.db = m.db.Session(&gorm.Session{Logger: currentLogger})
	return err
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 检查数据库连通性
func (m *MySQL) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateResume 创建简历记录，初始状态由调用方设置（通常为 uploaded）
func (m *MySQL) CreateResume(ctx context.Context, resume *models.Resume) error {
	if resume.ResumeID == "" {
		return fmt.Errorf("resume_id 不能为空")
	}
	if resume.Status == "" {
		resume.Status = constants.StatusUploaded
	}
	return m.db.WithContext(ctx).Create(resume).Error
}

// GetResumeByID 通过ID获取简历记录
func (m *MySQL) GetResumeByID(ctx context.Context, resumeID string) (*models.Resume, error) {
	var resume models.Resume
	err := m.db.WithContext(ctx).Where("resume_id = ?", resumeID).First(&resume).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResumeNotFound
		}
		return nil, fmt.Errorf("查询简历记录失败: %w", err)
	}
	return &resume, nil
}

// GetResumesByIDs 批量获取简历记录，返回以resume_id为键的map（缺失的ID不报错，由调用方决定如何处理）
func (m *MySQL) GetResumesByIDs(ctx context.Context, resumeIDs []string) (map[string]*models.Resume, error) {
	result := make(map[string]*models.Resume, len(resumeIDs))
	if len(resumeIDs) == 0 {
		return result, nil
	}

	var resumes []*models.Resume
	err := m.db.WithContext(ctx).Where("resume_id IN ?", resumeIDs).Find(&resumes).Error
	if err != nil {
		return nil, fmt.Errorf("批量查询简历记录失败: %w", err)
	}

	for _, r := range resumes {
		result[r.ResumeID] = r
	}
	return result, nil
}

// ListResumes 分页查询简历列表，status为空时不过滤
func (m *MySQL) ListResumes(ctx context.Context, skip, limit int, status string) ([]*models.Resume, int64, error) {
	if limit <= 0 {
		limit = 10
	}
	if skip < 0 {
		skip = 0
	}

	query := m.db.WithContext(ctx).Model(&models.Resume{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计简历总数失败: %w", err)
	}

	var resumes []*models.Resume
	err := query.Order("upload_date DESC").Offset(skip).Limit(limit).Find(&resumes).Error
	if err != nil {
		return nil, 0, fmt.Errorf("分页查询简历失败: %w", err)
	}

	return resumes, total, nil
}

// MarkProcessing 将记录从 uploaded 推进到 processing
// WHERE条件带上当前状态，保证状态只能单向推进；重复投递时记录已处于
// processing 或终态，影响行数为0，调用方据此跳过
func (m *MySQL) MarkProcessing(ctx context.Context, resumeID string) error {
	result := m.db.WithContext(ctx).Model(&models.Resume{}).
		Where("resume_id = ? AND status IN ?", resumeID, []string{constants.StatusUploaded, constants.StatusProcessing}).
		Updates(map[string]interface{}{
			"status":     constants.StatusProcessing,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("更新状态为processing失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// 记录不存在，或已处于终态
		var count int64
		m.db.WithContext(ctx).Model(&models.Resume{}).Where("resume_id = ?", resumeID).Count(&count)
		if count == 0 {
			return ErrResumeNotFound
		}
		return ErrAlreadyTerminal
	}
	return nil
}

// ErrAlreadyTerminal 记录已处于终态，重复投递时返回
var ErrAlreadyTerminal = errors.New("resume already in terminal status")

// MarkProcessed 将记录推进到 processed 并写入提取结果
// fields 包含 content/file_metadata/vector_id/search_text 等列
func (m *MySQL) MarkProcessed(ctx context.Context, resumeID string, fields map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":        constants.StatusProcessed,
		"error_message": "",
		"updated_at":    time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	result := m.db.WithContext(ctx).Model(&models.Resume{}).
		Where("resume_id = ? AND status = ?", resumeID, constants.StatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("更新状态为processed失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// MarkFailed 将记录推进到 failed 并保存错误信息
func (m *MySQL) MarkFailed(ctx context.Context, resumeID string, errMsg string) error {
	result := m.db.WithContext(ctx).Model(&models.Resume{}).
		Where("resume_id = ? AND status = ?", resumeID, constants.StatusProcessing).
		Updates(map[string]interface{}{
			"status":        constants.StatusFailed,
			"error_message": errMsg,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("更新状态为failed失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// DeleteResume 删除简历记录
func (m *MySQL) DeleteResume(ctx context.Context, resumeID string) error {
	result := m.db.WithContext(ctx).Where("resume_id = ?", resumeID).Delete(&models.Resume{})
	if result.Error != nil {
		return fmt.Errorf("删除简历记录失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrResumeNotFound
	}
	return nil
}
