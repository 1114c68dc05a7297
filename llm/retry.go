package llm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures retry behavior with exponential backoff. Delays are
// in seconds so the policy reads naturally from YAML.
type RetryPolicy struct {
	MaxRetries        int     `yaml:"max_retries" json:"max_retries"` // not counting the first call
	BaseDelay         float64 `yaml:"base_delay" json:"base_delay"`
	MaxDelay          float64 `yaml:"max_delay" json:"max_delay"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	Jitter            bool    `yaml:"jitter" json:"jitter"`

	OnRetry func(err error, attempt int, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultRetryPolicy allows two retries starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1.0,
		MaxDelay:          60.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Delay is the backoff before retry number attempt+1. With jitter the
// delay is scaled by a random factor in [0.5, 1.5).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := math.Min(p.BaseDelay*math.Pow(p.BackoffMultiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return seconds(d)
}

// wait returns how long to sleep before retrying after err, or false when a
// provider-requested Retry-After is longer than the policy allows.
func (p RetryPolicy) wait(attempt int, err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		if e.RetryAfter > seconds(p.MaxDelay) {
			return 0, false
		}
		return e.RetryAfter, true
	}
	return p.Delay(attempt), true
}

// Retry calls fn until it succeeds, fails with a non-retryable error, or
// the policy's retries are used up. Cancelling ctx while waiting returns
// an error of KindAborted.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if attempt >= policy.MaxRetries || !IsRetryable(err) {
			return zero, err
		}
		delay, ok := policy.wait(attempt, err)
		if !ok {
			return zero, err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &Error{Kind: KindAborted, Message: "cancelled while waiting to retry", Cause: ctx.Err()}
		case <-timer.C:
		}
	}
}
