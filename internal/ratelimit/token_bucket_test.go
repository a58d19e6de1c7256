package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTokenBucket_Allow 测试令牌耗尽后拒绝
func TestTokenBucket_Allow(t *testing.T) {
	// 60 QPM, 容量2: 初始可立即取2个令牌
	bucket := NewTokenBucket(60, 2)

	assert.True(t, bucket.Allow())
	assert.True(t, bucket.Allow())
	assert.False(t, bucket.Allow())
}

// TestTokenBucket_Refill 测试令牌按速率补充
func TestTokenBucket_Refill(t *testing.T) {
	// 6000 QPM = 每10ms补充1个令牌
	bucket := NewTokenBucket(6000, 1)

	require.True(t, bucket.Allow())
	require.False(t, bucket.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, bucket.Allow())
}

// TestTokenBucket_WaitRespectsContext 测试Wait尊重context取消
func TestTokenBucket_WaitRespectsContext(t *testing.T) {
	// 1 QPM: 取走初始令牌后需等一分钟
	bucket := NewTokenBucket(1, 1)
	require.True(t, bucket.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := bucket.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestNewTokenBucket_DefaultCapacity 测试容量缺省为QPM的一半
func TestNewTokenBucket_DefaultCapacity(t *testing.T) {
	bucket := NewTokenBucket(4, 0)

	assert.True(t, bucket.Allow())
	assert.True(t, bucket.Allow())
	assert.False(t, bucket.Allow())
}
