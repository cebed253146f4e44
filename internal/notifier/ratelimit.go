package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hospital-queue/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrSuppressed 窗口内已发送过同类通知，本次被丢弃
var ErrSuppressed = errors.New("notification suppressed by rate limit")

// Limiter 通知频率限制
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}

// RedisLimiter 用 SETNX + TTL 实现窗口内只放行一次
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "queue:notify:"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, time.Now().Unix(), window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check notification frequency: %w", err)
	}
	return ok, nil
}

// RateLimited 同一患者同一类通知在 window 内最多发送一次，被丢弃时返回 ErrSuppressed
// 限流器不可用时直接放行
type RateLimited struct {
	next    Notifier
	limiter Limiter
	window  time.Duration
	logger  *zap.Logger
}

func NewRateLimited(next Notifier, limiter Limiter, window time.Duration, logger *zap.Logger) *RateLimited {
	return &RateLimited{next: next, limiter: limiter, window: window, logger: logger}
}

func (r *RateLimited) Notify(ctx context.Context, event models.ChangeEvent) error {
	if r.window > 0 {
		recipient := event.PatientID
		if recipient == "" {
			recipient = event.EntryID
		}
		ok, err := r.limiter.Allow(ctx, recipient+":"+event.Kind, r.window)
		if err != nil {
			r.logger.Warn("Rate limiter unavailable, sending anyway", zap.Error(err))
		} else if !ok {
			r.logger.Debug("Notification suppressed by rate limit",
				zap.String("entry_id", event.EntryID),
				zap.String("kind", event.Kind),
			)
			return ErrSuppressed
		}
	}
	return r.next.Notify(ctx, event)
}
