package ratelimiter

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return e.Message
}

func key(userID, action string) string {
	return fmt.Sprintf("rate_limit:user:%s:%s", userID, action)
}

// CheckAndSetRateLimit reports whether the action is allowed and starts the
// cooldown when it is. A nil client always allows.
func CheckAndSetRateLimit(ctx context.Context, rdb *redis.Client, userID, action string, limit time.Duration) (bool, error) {
	if rdb == nil || limit <= 0 {
		return true, nil
	}

	wasSet, err := rdb.SetNX(ctx, key(userID, action), "locked", limit).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit in redis: %w", err)
	}

	return wasSet, nil
}

func GetRateLimitTTL(ctx context.Context, rdb *redis.Client, userID, action string) (time.Duration, error) {
	if rdb == nil {
		return 0, nil
	}
	return rdb.TTL(ctx, key(userID, action)).Result()
}

func ClearRateLimit(ctx context.Context, rdb *redis.Client, userID, action string) error {
	if rdb == nil {
		return nil
	}
	return rdb.Del(ctx, key(userID, action)).Err()
}

func GetDurationFromEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// Limiter applies a per-user cooldown to an action.
type Limiter struct {
	rdb    *redis.Client
	action string
	limit  time.Duration
	logger *zap.Logger
}

func New(rdb *redis.Client, action string, limit time.Duration, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{rdb: rdb, action: action, limit: limit, logger: logger}
}

// Check returns a *RateLimitError when userID is still cooling down.
// Redis failures are logged and let the request through.
func (l *Limiter) Check(ctx context.Context, userID string) error {
	allowed, err := CheckAndSetRateLimit(ctx, l.rdb, userID, l.action, l.limit)
	if err != nil {
		l.logger.Warn("rate limit check failed", zap.String("action", l.action), zap.Error(err))
		return nil
	}
	if allowed {
		return nil
	}
	ttl, _ := GetRateLimitTTL(ctx, l.rdb, userID, l.action)
	return &RateLimitError{
		Message:    fmt.Sprintf("you can only post once every %.0f seconds. Please wait %.0f seconds", l.limit.Seconds(), ttl.Seconds()),
		RetryAfter: ttl,
	}
}

// Middleware must run after authentication. The cooldown is released again
// when the handler fails so a rejected post does not cost the user a slot.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.Next()
			return
		}

		if err := l.Check(c.Request.Context(), userID); err != nil {
			rl := err.(*RateLimitError)
			c.Header("Retry-After", fmt.Sprintf("%.0f", rl.RetryAfter.Seconds()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": rl.Message})
			return
		}

		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest {
			_ = ClearRateLimit(context.WithoutCancel(c.Request.Context()), l.rdb, userID, l.action)
		}
	}
}
