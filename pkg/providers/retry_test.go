package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, BackoffFactor: 2}
}

func TestCalculateBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 500*time.Millisecond, p.CalculateBackoff(0))
	assert.Equal(t, time.Second, p.CalculateBackoff(1))
	assert.Equal(t, 2*time.Second, p.CalculateBackoff(2))
	assert.Equal(t, 8*time.Second, p.CalculateBackoff(10))
}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", mnerrors.FromStatus("openai", http.StatusTooManyRequests, errors.New("slow down"))
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentFailsImmediately(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 0, mnerrors.FromStatus("openai", http.StatusUnauthorized, errors.New("bad key"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, mnerrors.IsPermanent(err))
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 0, mnerrors.FromStatus("openai", http.StatusServiceUnavailable, errors.New("down"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, mnerrors.IsTransient(err))
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour, BackoffFactor: 1}

	calls := 0
	_, err := Do(ctx, policy, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, mnerrors.FromStatus("openai", http.StatusTooManyRequests, errors.New("slow down"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
