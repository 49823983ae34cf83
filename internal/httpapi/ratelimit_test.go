package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestTokenLimiterRefills(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	limiter := newTokenLimiter(60, 2, func() time.Time { return now })

	if !limiter.allow("10.0.0.1") || !limiter.allow("10.0.0.1") {
		t.Fatalf("expected burst of 2 to pass")
	}
	if limiter.allow("10.0.0.1") {
		t.Fatalf("expected third request to be limited")
	}
	if !limiter.allow("10.0.0.2") {
		t.Fatalf("expected other client to have its own bucket")
	}

	now = now.Add(time.Second)
	if !limiter.allow("10.0.0.1") {
		t.Fatalf("expected refill after one second")
	}

	now = now.Add(time.Minute)
	if removed := limiter.prune(); removed != 2 {
		t.Fatalf("expected 2 idle buckets pruned, got %d", removed)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	e := echo.New()
	limiter := NewRateLimiter(RateLimitConfig{PerMinute: 1, Burst: 1})
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, limiter.Middleware())

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
}
