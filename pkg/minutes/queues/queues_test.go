package queues

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(maxRetries int) (*MemoryQueue, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	q := NewMemoryQueue(Config{
		VisibilityTimeout: time.Minute,
		Retry:             RetryPolicy{MaxRetries: maxRetries, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, BackoffFactor: 2},
	})
	q.now = c.now
	return q, c
}

func TestMemoryQueue_EnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(3)
	id := uuid.New()

	require.NoError(t, q.Enqueue(ctx, Message{JobID: id, Reason: ReasonCreated}))
	depth, _ := q.Depth(ctx)
	assert.Equal(t, int64(1), depth)

	ds, err := q.Dequeue(ctx, 5, 0)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	msg, err := ds[0].Message()
	require.NoError(t, err)
	assert.Equal(t, id, msg.JobID)
	assert.Equal(t, ReasonCreated, msg.Reason)

	depth, _ = q.Depth(ctx)
	assert.Equal(t, int64(0), depth)

	require.NoError(t, q.Ack(ctx, ds[0].ID))
	assert.ErrorIs(t, q.Ack(ctx, ds[0].ID), ErrMessageNotFound)
}

func TestMemoryQueue_DequeueWaitTimesOut(t *testing.T) {
	q, _ := newTestQueue(3)
	start := time.Now()
	ds, err := q.Dequeue(context.Background(), 1, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, ds)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemoryQueue_DequeueCancelled(t *testing.T) {
	q, _ := newTestQueue(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx, 1, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryQueue_NackBackoffThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	q, c := newTestQueue(2)
	require.NoError(t, q.Enqueue(ctx, Message{JobID: uuid.New()}))

	ds, _ := q.Dequeue(ctx, 1, 0)
	require.Len(t, ds, 1)
	require.NoError(t, q.Nack(ctx, ds[0].ID))

	// Not visible until the first backoff elapses.
	ds2, _ := q.Dequeue(ctx, 1, 0)
	assert.Empty(t, ds2)
	c.advance(time.Second)
	ds2, _ = q.Dequeue(ctx, 1, 0)
	require.Len(t, ds2, 1)
	assert.Equal(t, 1, ds2[0].RetryCount)
	require.NoError(t, q.Nack(ctx, ds2[0].ID))

	c.advance(2 * time.Second)
	ds3, _ := q.Dequeue(ctx, 1, 0)
	require.Len(t, ds3, 1)
	assert.Equal(t, 2, ds3[0].RetryCount)
	require.NoError(t, q.Nack(ctx, ds3[0].ID))

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "max retries exceeded", dead[0].Reason)
	depth, _ := q.Depth(ctx)
	assert.Equal(t, int64(0), depth)
}

func TestMemoryQueue_MoveToDeadLetter(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(3)
	require.NoError(t, q.Enqueue(ctx, Message{JobID: uuid.New()}))
	ds, _ := q.Dequeue(ctx, 1, 0)
	require.Len(t, ds, 1)

	require.NoError(t, q.MoveToDeadLetter(ctx, ds[0].ID, "job not found"))
	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "job not found", dead[0].Reason)
	assert.ErrorIs(t, q.Ack(ctx, ds[0].ID), ErrMessageNotFound)
}

func TestMemoryQueue_RecoverStale(t *testing.T) {
	ctx := context.Background()
	q, c := newTestQueue(3)
	require.NoError(t, q.Enqueue(ctx, Message{JobID: uuid.New()}))
	ds, _ := q.Dequeue(ctx, 1, 0)
	require.Len(t, ds, 1)

	n, err := q.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	c.advance(time.Minute)
	n, err = q.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c.advance(time.Second)
	ds, _ = q.Dequeue(ctx, 1, 0)
	require.Len(t, ds, 1)
	assert.Equal(t, 1, ds[0].RetryCount)
}

func TestMemoryQueue_Closed(t *testing.T) {
	q, _ := newTestQueue(3)
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(context.Background(), Message{JobID: uuid.New()}), ErrQueueClosed)
}

func TestDelivery_InvalidMessage(t *testing.T) {
	d := &Delivery{Body: []byte(`{"job_id":"00000000-0000-0000-0000-000000000000"}`)}
	_, err := d.Message()
	assert.ErrorIs(t, err, ErrInvalidMessage)

	d = &Delivery{Body: []byte(`not json`)}
	_, err = d.Message()
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, BackoffFactor: 2}
	assert.Equal(t, time.Second, p.CalculateBackoff(1))
	assert.Equal(t, 2*time.Second, p.CalculateBackoff(2))
	assert.Equal(t, 3*time.Second, p.CalculateBackoff(3))

	d := p.DecideRetry(errors.New("boom"), 0)
	assert.True(t, d.ShouldRetry)
	assert.Equal(t, time.Second, d.Backoff)

	d = p.DecideRetry(NewPermanentError(ErrorCodeJobNotFound, "missing", nil), 0)
	assert.False(t, d.ShouldRetry)
	assert.Equal(t, "permanent error: JOB_NOT_FOUND", d.Reason)

	d = p.DecideRetry(NewTransientError(ErrorCodeConflict, "conflict", nil), 3)
	assert.False(t, d.ShouldRetry)
}

func TestProcessingError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewDependencyError(ErrorCodeStoreError, "store unavailable", cause)
	assert.True(t, err.IsRetryable())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "store unavailable: connection refused", err.Error())
	assert.False(t, NewPermanentError("X", "bad", nil).IsRetryable())
}
