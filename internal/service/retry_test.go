package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

// scripted returns fn that fails with errs in order, then succeeds.
func scripted(errs ...error) (func(context.Context) error, *int) {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= len(errs) {
			return errs[calls-1]
		}
		return nil
	}, &calls
}

func fastPolicy(attempts int) *RetryPolicy {
	return NewRetryPolicy(WithMaxAttempts(attempts), WithBaseDelay(time.Millisecond), WithMaxDelay(2*time.Millisecond))
}

func TestRetryPolicy_Run(t *testing.T) {
	overloaded := core.ErrOverloaded("model is overloaded")
	invalid := core.ErrValidation(core.CodeInvalidRequest, "bad input")

	tests := []struct {
		name        string
		errs        []error
		wantCalls   int
		wantRetries int
		wantErr     error
	}{
		{name: "first call succeeds", wantCalls: 1},
		{name: "two overloads then success", errs: []error{overloaded, overloaded}, wantCalls: 3, wantRetries: 2},
		{name: "terminal error is not retried", errs: []error{invalid}, wantCalls: 1, wantErr: invalid},
		{name: "exhausted", errs: []error{overloaded, overloaded, overloaded, overloaded}, wantCalls: 3, wantRetries: 2, wantErr: overloaded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, calls := scripted(tt.errs...)
			retries, err := fastPolicy(3).Run(context.Background(), fn, nil)
			if err != tt.wantErr {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if *calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", *calls, tt.wantCalls)
			}
			if retries != tt.wantRetries {
				t.Errorf("retries = %d, want %d", retries, tt.wantRetries)
			}
		})
	}
}

func TestRetryPolicy_ExhaustedKeepsBackendMessage(t *testing.T) {
	fn, _ := scripted(core.ErrOverloaded("a"), core.ErrOverloaded("b"), core.ErrOverloaded("last"))
	_, err := fastPolicy(3).Run(context.Background(), fn, nil)
	if core.Message(err) != "last" {
		t.Errorf("Message() = %q, want the last backend message", core.Message(err))
	}
}

func TestRetryPolicy_CustomPredicate(t *testing.T) {
	transient := errors.New("try again")
	policy := fastPolicy(4)
	policy.Retryable = func(err error) bool { return errors.Is(err, transient) }

	fn, _ := scripted(transient)
	if retries, err := policy.Run(context.Background(), fn, nil); err != nil || retries != 1 {
		t.Errorf("Run() = (%d, %v), want (1, nil)", retries, err)
	}
}

func TestNoRetry(t *testing.T) {
	fn, calls := scripted(core.ErrOverloaded("busy"))
	if _, err := NoRetry().Run(context.Background(), fn, nil); err == nil {
		t.Fatal("expected error")
	}
	if *calls != 1 {
		t.Errorf("calls = %d, want 1", *calls)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := NewRetryPolicy(WithBaseDelay(time.Second), WithMaxDelay(30*time.Second), WithMultiplier(2))

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got := policy.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestRetryPolicy_Jitter(t *testing.T) {
	policy := NewRetryPolicy(WithBaseDelay(time.Second), WithJitter(0.2))
	overloaded := core.ErrOverloaded("busy")

	seen := map[time.Duration]bool{}
	for i := 0; i < 100; i++ {
		d := policy.delayFor(1, overloaded)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("delay %v outside [0.8s, 1.2s]", d)
		}
		seen[d] = true
	}
	if len(seen) < 5 {
		t.Error("jitter should produce varied delays")
	}

	policy.JitterFactor = 0
	if d := policy.delayFor(2, overloaded); d != 2*time.Second {
		t.Errorf("unjittered delay = %v, want 2s", d)
	}
}

func TestRetryPolicy_RetryAfterHint(t *testing.T) {
	policy := NewRetryPolicy(WithBaseDelay(time.Second), WithMaxDelay(8*time.Second), WithJitter(0))

	hinted := core.ErrOverloaded("quota").WithDetail(core.DetailRetryAfter, 3*time.Second)
	if d := policy.delayFor(1, hinted); d != 3*time.Second {
		t.Errorf("hinted delay = %v, want 3s", d)
	}

	long := core.ErrOverloaded("quota").WithDetail(core.DetailRetryAfter, time.Minute)
	if d := policy.delayFor(1, long); d != 8*time.Second {
		t.Errorf("long hint = %v, want capped at 8s", d)
	}
}

func TestRetryPolicy_Notify(t *testing.T) {
	var attempts []int
	fn, _ := scripted(core.ErrOverloaded("busy"), core.ErrOverloaded("busy"), core.ErrOverloaded("busy"))
	_, _ = fastPolicy(3).Run(context.Background(), fn, func(attempt int, _ error, _ time.Duration) {
		attempts = append(attempts, attempt)
	})
	// no wait follows the final attempt
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("notified attempts = %v, want [1 2]", attempts)
	}
}

func TestRetryPolicy_Cancellation(t *testing.T) {
	t.Run("during backoff", func(t *testing.T) {
		policy := NewRetryPolicy(WithMaxAttempts(5), WithBaseDelay(time.Second))
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)

		retries, err := policy.Run(ctx, func(context.Context) error { return core.ErrOverloaded("busy") }, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if retries != 1 {
			t.Errorf("retries = %d, want 1", retries)
		}
	})

	t.Run("before first call", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		fn, calls := scripted()
		if _, err := fastPolicy(3).Run(ctx, fn, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if *calls != 0 {
			t.Error("function should not run on a cancelled context")
		}
	})
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxAttempts != 3 || p.BaseDelay != time.Second || p.MaxDelay != 8*time.Second || p.Multiplier != 2 {
		t.Errorf("DefaultRetryPolicy() = %+v", p)
	}
	if p.Retryable == nil {
		t.Error("Retryable should default to core.IsRetryable")
	}
}
