package middleware

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// LoginRateLimitConfig allows attempts per minute per tenant and client IP
func LoginRateLimitConfig(attemptsPerMinute int) *RateLimitConfig {
	if attemptsPerMinute <= 0 {
		attemptsPerMinute = 10
	}
	return &RateLimitConfig{
		RequestsPerWindow: attemptsPerMinute,
		WindowDuration:    time.Minute,
	}
}

// Limiter decides whether one more request for key may proceed. When it may
// not, retryAfter is how long the caller should wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// maxLocalKeys bounds the number of tracked keys per instance
const maxLocalKeys = 10000

// LocalRateLimiter is an in-process token bucket per key. Keys beyond
// maxLocalKeys evict the least recently seen.
type LocalRateLimiter struct {
	config  *RateLimitConfig
	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
}

// NewLocalRateLimiter creates a new in-process rate limiter
func NewLocalRateLimiter(config *RateLimitConfig) *LocalRateLimiter {
	if config == nil {
		config = LoginRateLimitConfig(0)
	}
	buckets, _ := lru.New[string, *rate.Limiter](maxLocalKeys)
	return &LocalRateLimiter{config: config, buckets: buckets}
}

// Allow takes a token from the key's bucket
func (rl *LocalRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	rl.mu.Lock()
	limiter, ok := rl.buckets.Get(key)
	if !ok {
		every := rl.config.WindowDuration / time.Duration(rl.config.RequestsPerWindow)
		limiter = rate.NewLimiter(rate.Every(every), rl.config.RequestsPerWindow)
		rl.buckets.Add(key, limiter)
	}
	rl.mu.Unlock()

	now := time.Now()
	r := limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}
