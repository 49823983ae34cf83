package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type RateLimitConfig struct {
	PerMinute float64
	Burst     int
}

// RateLimiter is a token bucket per client IP.
type RateLimiter struct {
	limiter *tokenLimiter
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{limiter: newTokenLimiter(cfg.PerMinute, cfg.Burst, time.Now)}
}

func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ip := c.RealIP(); ip != "" && !l.limiter.allow(ip) {
				return writeError(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			}
			return next(c)
		}
	}
}

type tokenLimiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	now    func() time.Time
	bucket map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newTokenLimiter(perMinute float64, burst int, now func() time.Time) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	return &tokenLimiter{
		rate:   perMinute / 60.0,
		burst:  float64(burst),
		now:    now,
		bucket: make(map[string]*bucket),
	}
}

func (l *tokenLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.bucket[key]
	if !ok {
		l.bucket[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = min(l.burst, b.tokens+elapsed*l.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens -= 1
	return true
}

// prune drops buckets idle long enough to have refilled completely.
func (l *tokenLimiter) prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	full := time.Duration(l.burst / l.rate * float64(time.Second))
	now := l.now()
	removed := 0
	for key, b := range l.bucket {
		if now.Sub(b.last) >= full {
			delete(l.bucket, key)
			removed++
		}
	}
	return removed
}

// Prune releases idle buckets; the server calls it on a ticker.
func (l *RateLimiter) Prune() int {
	return l.limiter.prune()
}
