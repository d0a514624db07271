package service

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig configures the per-model token bucket. A non-positive
// MaxTokens or RefillRate disables limiting.
type RateLimiterConfig struct {
	MaxTokens  float64 // bucket capacity, i.e. the burst size
	RefillRate float64 // tokens per second
}

// Enabled reports whether the configuration limits anything.
func (c RateLimiterConfig) Enabled() bool {
	return c.MaxTokens > 0 && c.RefillRate > 0
}

// DefaultRateLimiterConfig allows bursts of 10 calls and one per second
// after that.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{MaxTokens: 10, RefillRate: 1}
}

// Adaptation constants for ModelLimiter.
const (
	overloadBackoff = 0.5
	recoveryFactor  = 1.25
	recoveryStreak  = 5
	minRateFraction = 0.1
)

// ModelLimiter is a token bucket for one model whose refill rate follows
// backend feedback: each overload halves it, down to a tenth of the
// configured rate, and every five consecutive successes raise it by a
// quarter, up to the configured rate.
type ModelLimiter struct {
	mu       sync.Mutex
	enabled  bool
	tokens   float64
	capacity float64
	rate     float64
	minRate  float64
	maxRate  float64
	last     time.Time
	streak   int
}

// NewModelLimiter creates a full bucket.
func NewModelLimiter(cfg RateLimiterConfig) *ModelLimiter {
	return &ModelLimiter{
		enabled:  cfg.Enabled(),
		tokens:   cfg.MaxTokens,
		capacity: cfg.MaxTokens,
		rate:     cfg.RefillRate,
		minRate:  cfg.RefillRate * minRateFraction,
		maxRate:  cfg.RefillRate,
		last:     time.Now(),
	}
}

// Acquire takes one token, waiting for a refill if the bucket is empty.
func (l *ModelLimiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.take()
		if ok {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// TryAcquire takes a token if one is available.
func (l *ModelLimiter) TryAcquire() bool {
	_, ok := l.take()
	return ok
}

// take consumes a token or reports how long until one is available.
func (l *ModelLimiter) take() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return 0, true
	}
	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return 0, true
	}
	return time.Duration((1 - l.tokens) / l.rate * float64(time.Second)), false
}

func (l *ModelLimiter) refill() {
	now := time.Now()
	l.tokens = min(l.capacity, l.tokens+now.Sub(l.last).Seconds()*l.rate)
	l.last = now
}

// RecordSuccess counts a successful call toward rate recovery.
func (l *ModelLimiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.streak++
	if l.streak < recoveryStreak {
		return
	}
	l.streak = 0
	l.rate = min(l.maxRate, l.rate*recoveryFactor)
}

// RecordOverload slows the bucket after the backend pushed back.
func (l *ModelLimiter) RecordOverload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.streak = 0
	l.rate = max(l.minRate, l.rate*overloadBackoff)
}

// RateLimiterStatus is a snapshot of one ModelLimiter.
type RateLimiterStatus struct {
	Available  float64 `json:"available"`
	RefillRate float64 `json:"refill_rate"`
	Throttled  bool    `json:"throttled"`
}

// Status returns the current bucket level and rate. Throttled is set while
// overloads hold the rate below its configured value.
func (l *ModelLimiter) Status() RateLimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.enabled {
		l.refill()
	}
	return RateLimiterStatus{Available: l.tokens, RefillRate: l.rate, Throttled: l.rate < l.maxRate}
}

// RateLimiterRegistry hands out one limiter per model.
type RateLimiterRegistry struct {
	cfg      RateLimiterConfig
	mu       sync.Mutex
	limiters map[string]*ModelLimiter
}

// NewRateLimiterRegistry creates a registry whose limiters share cfg.
func NewRateLimiterRegistry(cfg RateLimiterConfig) *RateLimiterRegistry {
	return &RateLimiterRegistry{cfg: cfg, limiters: make(map[string]*ModelLimiter)}
}

// Get returns the limiter for model, creating it on first use.
func (r *RateLimiterRegistry) Get(model string) *ModelLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[model]
	if !ok {
		l = NewModelLimiter(r.cfg)
		r.limiters[model] = l
	}
	return l
}

// Status snapshots every limiter keyed by model. A nil registry has none.
func (r *RateLimiterRegistry) Status() map[string]RateLimiterStatus {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]RateLimiterStatus, len(r.limiters))
	for model, l := range r.limiters {
		out[model] = l.Status()
	}
	return out
}
