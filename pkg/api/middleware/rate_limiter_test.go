package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	. "profiler/pkg/api/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLimiter(t *testing.T, rps float64, burst int) *RateLimiter {
	t.Helper()
	limiter := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: rps,
		BurstSize:         burst,
		CleanupInterval:   time.Minute,
	})
	t.Cleanup(limiter.Stop)
	return limiter
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := newLimiter(t, 1, 5)

	// Should allow first 5 requests (burst)
	for i := 0; i < 5; i++ {
		if !limiter.Allow("client1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
}

func TestRateLimiter_BlocksExcessRequests(t *testing.T) {
	limiter := newLimiter(t, 1, 2)

	limiter.Allow("client1")
	limiter.Allow("client1")

	if limiter.Allow("client1") {
		t.Error("third request should be blocked after burst exhausted")
	}
}

func TestRateLimiter_SeparatesClients(t *testing.T) {
	limiter := newLimiter(t, 1, 1)

	limiter.Allow("client1")

	if !limiter.Allow("client2") {
		t.Error("different client should have separate quota")
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	limiter := newLimiter(t, 100, 1)

	limiter.Allow("client1")
	time.Sleep(20 * time.Millisecond)

	if !limiter.Allow("client1") {
		t.Error("token should have refilled after waiting")
	}
}

func TestRateLimiter_DefaultsForZeroConfig(t *testing.T) {
	limiter := newLimiter(t, 0, 0)

	for i := 0; i < DefaultRateLimiterConfig().BurstSize; i++ {
		if !limiter.Allow("client1") {
			t.Fatalf("request %d should be allowed by the default burst", i+1)
		}
	}
}

func TestRateLimiterMiddleware_Returns429(t *testing.T) {
	limiter := newLimiter(t, 0.5, 1)

	router := gin.New()
	router.Use(limiter.Middleware())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:1234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("first request expected 200, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)

	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("second request expected 429, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "2" {
		t.Errorf("expected Retry-After 2, got %q", got)
	}
}
