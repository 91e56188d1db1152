package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/minutes/pkg/minutes/queues"
)

func fastConfig() Config {
	return Config{Count: 2, PollInterval: 10 * time.Millisecond, JobTimeout: time.Second, ShutdownTimeout: time.Second, StaleInterval: time.Hour}
}

func TestPool_ProcessesAndAcks(t *testing.T) {
	ctx := context.Background()
	q := queues.NewMemoryQueue(queues.Config{})

	var (
		mu   sync.Mutex
		seen []uuid.UUID
	)
	handler := func(ctx context.Context, msg queues.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg.JobID)
		return nil
	}

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(ctx, queues.Message{JobID: id}))
	}

	p := NewPool(fastConfig(), q, handler, nil)
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.Stats().Processed == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.ElementsMatch(t, ids, seen)
	mu.Unlock()
	assert.Equal(t, 2, p.Stats().WorkerCount)
}

func TestPool_PermanentErrorDeadLetters(t *testing.T) {
	ctx := context.Background()
	q := queues.NewMemoryQueue(queues.Config{})
	require.NoError(t, q.Enqueue(ctx, queues.Message{JobID: uuid.New()}))

	handler := func(ctx context.Context, msg queues.Message) error {
		return queues.NewPermanentError(queues.ErrorCodeJobNotFound, "job missing", nil)
	}
	p := NewPool(fastConfig(), q, handler, nil)
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool { return len(q.DeadLetters()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), p.Stats().Failed)
	assert.Contains(t, q.DeadLetters()[0].Reason, "job missing")
}

func TestPool_TransientErrorRetries(t *testing.T) {
	ctx := context.Background()
	q := queues.NewMemoryQueue(queues.Config{
		Retry: queues.RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1},
	})
	require.NoError(t, q.Enqueue(ctx, queues.Message{JobID: uuid.New()}))

	var mu sync.Mutex
	calls := 0
	handler := func(ctx context.Context, msg queues.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("store unavailable")
		}
		return nil
	}
	p := NewPool(fastConfig(), q, handler, nil)
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool { return p.Stats().Processed == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), p.Stats().Failed)
	assert.Empty(t, q.DeadLetters())
}

func TestPool_StopIsIdempotent(t *testing.T) {
	p := NewPool(fastConfig(), queues.NewMemoryQueue(queues.Config{}), func(context.Context, queues.Message) error { return nil }, nil)
	p.Stop()
	p.Start(context.Background())
	p.Stop()
	p.Stop()
	assert.Zero(t, p.Stats().ActiveCount)
}
