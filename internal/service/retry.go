package service

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

// RetryPolicy retries transient backend failures with capped exponential
// backoff. When the failure carries a backend retry hint (core.RetryAfter)
// the hint replaces the computed delay, still capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // fraction of the delay, 0 disables

	// Retryable decides whether an error is transient.
	Retryable func(error) bool
}

// DefaultRetryPolicy allows three attempts: one call and two overload
// retries, waiting about 1s then 2s.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
		Retryable:    core.IsRetryable,
	}
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxAttempts sets the total number of calls, first one included.
func WithMaxAttempts(n int) RetryPolicyOption {
	return func(p *RetryPolicy) { p.MaxAttempts = n }
}

// WithBaseDelay sets the wait before the first retry.
func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.BaseDelay = d }
}

// WithMaxDelay caps every wait.
func WithMaxDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.MaxDelay = d }
}

// WithMultiplier sets the backoff growth factor.
func WithMultiplier(m float64) RetryPolicyOption {
	return func(p *RetryPolicy) { p.Multiplier = m }
}

// WithJitter sets the jitter fraction.
func WithJitter(factor float64) RetryPolicyOption {
	return func(p *RetryPolicy) { p.JitterFactor = factor }
}

// NewRetryPolicy applies opts over DefaultRetryPolicy.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// NoRetry calls once.
func NoRetry() *RetryPolicy {
	return NewRetryPolicy(WithMaxAttempts(1))
}

// RetryNotifyFunc is called before each wait.
type RetryNotifyFunc func(attempt int, err error, delay time.Duration)

// Run calls fn until it succeeds, fails with a non-transient error, or the
// attempt cap is reached, and returns the number of retries consumed. When
// attempts run out the last error is returned unwrapped so node results
// carry the backend's message.
func (p *RetryPolicy) Run(ctx context.Context, fn func(context.Context) error, notify RetryNotifyFunc) (int, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = core.IsRetryable
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		err := fn(ctx)
		if err == nil || !retryable(err) || attempt >= p.MaxAttempts {
			return attempt - 1, err
		}

		delay := p.delayFor(attempt, err)
		if notify != nil {
			notify(attempt, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
}

// delayFor is the wait after the given failed attempt.
func (p *RetryPolicy) delayFor(attempt int, err error) time.Duration {
	if hint, ok := core.RetryAfter(err); ok {
		return p.capped(float64(hint))
	}
	d := p.Backoff(attempt)
	if p.JitterFactor > 0 {
		spread := float64(d) * p.JitterFactor
		d = time.Duration(float64(d) + (rand.Float64()*2-1)*spread)
	}
	return d
}

// Backoff is the unjittered delay after attempt: BaseDelay grown by
// Multiplier per attempt and capped at MaxDelay.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	return p.capped(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
}

func (p *RetryPolicy) capped(d float64) time.Duration {
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
