package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/payrecon_backend/utils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCorrelationMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CorrelationMiddleware())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen, _ = utils.GetCorrelationIdFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(CorrelationHeader, "corr-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "corr-123", seen)
	assert.Equal(t, "corr-123", w.Header().Get(CorrelationHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "corr-123", seen)
	assert.Equal(t, seen, w.Header().Get(CorrelationHeader))
}

func TestReadinessMiddleware(t *testing.T) {
	ready := false
	r := gin.New()
	r.Use(ReadinessMiddleware(func() bool { return ready }))
	r.GET("/api/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ready = true
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiterFromEnvDisabled(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	assert.Nil(t, RateLimiterFromEnv(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})))
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	assert.Nil(t, RateLimiterFromEnv(nil))
}

func TestRateLimiterFailsOpenWithoutRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	r := gin.New()
	r.Use(NewRateLimiter(client, 1, time.Minute).RateLimitMiddleware)
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// Needs a real Redis at REDIS_ADDRESS.
func TestRateLimiterRejectsOverLimit(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run against Redis")
	}
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	r := gin.New()
	r.Use(NewRateLimiter(client, 2, time.Minute).RateLimitMiddleware)
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := func() int {
		rq := httptest.NewRequest(http.MethodGet, "/x", nil)
		rq.RemoteAddr = "203.0.113.7:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, rq)
		return w.Code
	}
	_ = client.Del(context.Background(), rateLimitPrefix+"203.0.113.7").Err()
	assert.Equal(t, http.StatusOK, req())
	assert.Equal(t, http.StatusOK, req())
	assert.Equal(t, http.StatusTooManyRequests, req())
	ttl, err := client.TTL(context.Background(), rateLimitPrefix+"203.0.113.7").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
