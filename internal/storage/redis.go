package storage

import (
	"context"
	"fmt"
	"time"

	"resume-screener/internal/config"
	"resume-screener/internal/constants"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key is not found in Redis.
// It wraps the underlying redis.Nil error for abstraction.
var ErrNotFound = redis.Nil

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		// 连接池设置
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		// 超时设置
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		// 重试设置
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,

		// 连接生命周期
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	}

	client := redis.NewClient(opt)

	// OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{
		Client: client,
		config: cfg,
	}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// GetMD5ExpireDuration 返回配置的MD5记录过期时间
func (r *Redis) GetMD5ExpireDuration() time.Duration {
	days := r.config.MD5RecordExpireDays
	if days <= 0 {
		days = 365 // 默认1年
	}
	return time.Duration(days) * 24 * time.Hour
}

// IsDuplicateFile 判断原始文件MD5是否已记录
func (r *Redis) IsDuplicateFile(ctx context.Context, md5Hex string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	return r.Client.SIsMember(ctx, constants.KeyFileMD5Set, md5Hex).Result()
}

// RegisterFileMD5 记录文件MD5并建立MD5到简历ID的映射
func (r *Redis) RegisterFileMD5(ctx context.Context, md5Hex, resumeID string) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}

	expire := r.GetMD5ExpireDuration()

	pipe := r.Client.TxPipeline()
	pipe.SAdd(ctx, constants.KeyFileMD5Set, md5Hex)
	pipe.Expire(ctx, constants.KeyFileMD5Set, expire)
	pipe.Set(ctx, fmt.Sprintf(constants.KeyFileMD5ToResumeID, md5Hex), resumeID, expire)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("记录文件MD5失败: %w", err)
	}
	return nil
}

// GetResumeIDByMD5 查询MD5对应的简历ID，不存在时返回ErrNotFound
func (r *Redis) GetResumeIDByMD5(ctx context.Context, md5Hex string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Get(ctx, fmt.Sprintf(constants.KeyFileMD5ToResumeID, md5Hex)).Result()
}

// RemoveFileMD5 删除文件MD5记录（简历删除时调用，允许重新上传相同内容）
func (r *Redis) RemoveFileMD5(ctx context.Context, md5Hex string) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}

	pipe := r.Client.TxPipeline()
	pipe.SRem(ctx, constants.KeyFileMD5Set, md5Hex)
	pipe.Del(ctx, fmt.Sprintf(constants.KeyFileMD5ToResumeID, md5Hex))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("删除文件MD5记录失败: %w", err)
	}
	return nil
}
