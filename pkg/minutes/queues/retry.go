package queues

import (
	"errors"
	"time"
)

// RetryPolicy decides redelivery of nacked messages.
type RetryPolicy struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Minute,
		BackoffFactor:  2.0,
	}
}

// CalculateBackoff returns the delay before redelivery number retryCount.
func (p RetryPolicy) CalculateBackoff(retryCount int) time.Duration {
	backoff := p.InitialBackoff
	for i := 1; i < retryCount; i++ {
		backoff = time.Duration(float64(backoff) * p.BackoffFactor)
		if backoff > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return backoff
}

// RetryDecision is the outcome of DecideRetry.
type RetryDecision struct {
	ShouldRetry bool
	Backoff     time.Duration
	Reason      string
}

// DecideRetry decides for a message that already failed retryCount times.
func (p RetryPolicy) DecideRetry(err error, retryCount int) RetryDecision {
	if retryCount >= p.MaxRetries {
		return RetryDecision{Reason: "max retries exceeded"}
	}
	var procErr *ProcessingError
	if errors.As(err, &procErr) && !procErr.IsRetryable() {
		return RetryDecision{Reason: "permanent error: " + procErr.Code}
	}
	return RetryDecision{
		ShouldRetry: true,
		Backoff:     p.CalculateBackoff(retryCount + 1),
		Reason:      "retryable error",
	}
}
