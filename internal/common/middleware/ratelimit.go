package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

// RateLimitConfig configures the distributed rate limiter
type RateLimitConfig struct {
	// Requests allowed per window and client IP
	Requests int
	Window   time.Duration
	// KeyPrefix namespaces the counters, e.g. "ratelimit:evaluate"
	KeyPrefix string
}

// DistributedRateLimit limits requests per client IP with a fixed window counter in Redis.
// If Redis is nil or unavailable the request is allowed.
func DistributedRateLimit(redisClient *redis.Client, cfg RateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Window < time.Second {
		cfg.Window = time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ratelimit"
	}
	windowSeconds := int64(cfg.Window / time.Second)

	return func(c *gin.Context) {
		if redisClient == nil || cfg.Requests <= 0 {
			c.Next()
			return
		}

		now := time.Now().Unix()
		key := fmt.Sprintf("%s:%s:%d", cfg.KeyPrefix, c.ClientIP(), now/windowSeconds)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 200*time.Millisecond)
		defer cancel()

		count, err := redisClient.Incr(ctx, key).Result()
		if err != nil {
			rlFailOpenTotal.WithLabelValues(cfg.KeyPrefix).Inc()
			logger.Warn("Rate limit Redis error, failing open",
				zap.Error(err),
				zap.String("key", key))
			c.Next()
			return
		}
		if count == 1 {
			redisClient.Expire(ctx, key, cfg.Window+time.Second)
		}

		remaining := int64(cfg.Requests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Requests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(cfg.Requests) {
			retryAfter := windowSeconds - (now % windowSeconds)
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			rlHitsTotal.WithLabelValues(cfg.KeyPrefix).Inc()
			apperrors.HandleError(c, apperrors.RateLimited(retryAfter))
			c.Abort()
			return
		}

		c.Next()
	}
}
