package gin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jassus213/throttle"
	"github.com/jassus213/throttle/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newGate(t *testing.T, limit int64, lopts ...throttle.Option) *throttle.Gate {
	t.Helper()
	st := store.NewMemory(context.Background(), 0)
	t.Cleanup(func() { _ = st.Close() })
	l, err := throttle.New(st, limit, time.Minute, lopts...)
	require.NoError(t, err)
	return throttle.NewGate(l, throttle.WithSkipRoutes(throttle.Route{Path: "/healthz"}))
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "198.51.100.4:5555"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter(t *testing.T) {
	calls := 0
	r := gin.New()
	r.Use(RateLimiter(newGate(t, 2)))
	r.GET("/ping", func(c *gin.Context) {
		calls++
		c.String(http.StatusOK, "pong")
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 2; i++ {
		rec := do(r, "GET", "/ping")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "pong", rec.Body.String())
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := do(r, "GET", "/ping")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("RateLimit-Remaining"))
	assert.JSONEq(t,
		`{"error":{"message":"Too many requests, please try again later.","status":429,"retryAfter":60}}`,
		rec.Body.String(),
	)
	assert.Equal(t, 2, calls)

	rec = do(r, "GET", "/healthz")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimiter_SkipFailed(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(newGate(t, 1, throttle.WithSkipFailed(true))))
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNotFound, do(r, "GET", "/missing").Code)
	}
	assert.Equal(t, http.StatusOK, do(r, "GET", "/ok").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, "GET", "/ok").Code)
}

func TestRateLimiter_UserKey(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", c.GetHeader("X-User"))
		c.Next()
	})
	r.Use(RateLimiter(newGate(t, 1, throttle.WithKeyFunc(throttle.KeyByUser(throttle.IPConfig{}))), WithUserKey("user_id")))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(user string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-User", user)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("alice"))
	assert.Equal(t, http.StatusOK, send("bob"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice"))
}

func TestRateLimiter_CustomErrorHandler(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(newGate(t, 1), WithErrorHandler(func(c *gin.Context, err error, v throttle.Verdict) {
		c.JSON(v.Response.Status, gin.H{"reason": err.Error()})
	})))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do(r, "GET", "/")
	rec := do(r, "GET", "/")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"reason":"rate limit exceeded"}`, rec.Body.String())
}
