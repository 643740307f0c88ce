package ratelimiter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilClientAlwaysAllows(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := CheckAndSetRateLimit(ctx, nil, "u1", "post", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ttl, err := GetRateLimitTTL(ctx, nil, "u1", "post")
	require.NoError(t, err)
	assert.Zero(t, ttl)
	assert.NoError(t, ClearRateLimit(ctx, nil, "u1", "post"))
}

func TestUnreachableRedisFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	_, err := CheckAndSetRateLimit(context.Background(), rdb, "u1", "post", time.Minute)
	assert.Error(t, err)

	l := New(rdb, "post", time.Minute, nil)
	assert.NoError(t, l.Check(context.Background(), "u1"))
}

func TestGetDurationFromEnv(t *testing.T) {
	t.Setenv("RL_TEST", "3s")
	assert.Equal(t, 3*time.Second, GetDurationFromEnv("RL_TEST", time.Second))

	t.Setenv("RL_TEST", "garbage")
	assert.Equal(t, time.Second, GetDurationFromEnv("RL_TEST", time.Second))
	assert.Equal(t, time.Minute, GetDurationFromEnv("RL_UNSET", time.Minute))
}

func TestMiddlewarePassesWithoutRedis(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("user_id", "u1") })
	r.POST("/", New(nil, "post", time.Minute, nil).Middleware(), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusCreated, w.Code)
	}
}

func TestRateLimitErrorMessage(t *testing.T) {
	err := &RateLimitError{Message: "slow down", RetryAfter: time.Second}
	assert.EqualError(t, err, "slow down")
}
