package providers

import (
	"context"
	"fmt"
	"time"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
)

// RetryPolicy bounds retries of transient provider failures.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
}

// DefaultRetryPolicy returns the policy applied to provider calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		BackoffFactor:  2.0,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// CalculateBackoff returns the wait before retry number retry (zero based).
func (p RetryPolicy) CalculateBackoff(retry int) time.Duration {
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	backoff := p.InitialBackoff
	for i := 0; i < retry; i++ {
		backoff = time.Duration(float64(backoff) * factor)
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return backoff
}

// Do runs fn, retrying transient failures with exponential backoff. Permanent
// failures and context cancellation return immediately.
func Do[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < p.attempts(); attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.CalculateBackoff(attempt-1)); err != nil {
				return zero, fmt.Errorf("retry aborted: %w (last error: %v)", err, lastErr)
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || !mnerrors.IsErrorRetryable(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("gave up after %d attempts: %w", p.attempts(), lastErr)
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
