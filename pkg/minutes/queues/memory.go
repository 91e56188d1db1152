package queues

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryQueue is an in-process Queue with the same delivery semantics as RedisQueue.
type MemoryQueue struct {
	config Config
	now    func() time.Time

	mu         sync.Mutex
	ready      []*Delivery
	processing map[string]*Delivery
	dead       []DeadLetter
	closed     bool
	signal     chan struct{}
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue(config Config) *MemoryQueue {
	d := DefaultConfig()
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = d.VisibilityTimeout
	}
	if config.Retry.MaxRetries <= 0 {
		config.Retry = d.Retry
	}
	return &MemoryQueue{
		config:     config,
		now:        time.Now,
		processing: make(map[string]*Delivery),
		signal:     make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) push(d *Delivery) {
	q.ready = append(q.ready, d)
	sort.SliceStable(q.ready, func(i, j int) bool { return q.ready[i].VisibleAfter.Before(q.ready[j].VisibleAfter) })
	q.notify()
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	now := q.now()
	q.push(&Delivery{ID: ulid.Make().String(), Body: body, EnqueuedAt: now, VisibleAfter: now})
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, max int, wait time.Duration) ([]*Delivery, error) {
	if max <= 0 {
		max = 1
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		out, err := q.claim(max)
		if err != nil || len(out) > 0 {
			return out, err
		}
		select {
		case <-q.signal:
		case <-time.After(50 * time.Millisecond):
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) claim(max int) ([]*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	now := q.now()
	var out []*Delivery
	for len(q.ready) > 0 && len(out) < max && !q.ready[0].VisibleAfter.After(now) {
		d := q.ready[0]
		q.ready = q.ready[1:]
		d.VisibleAfter = now.Add(q.config.VisibilityTimeout)
		q.processing[d.ID] = d
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.processing[id]; !ok {
		return ErrMessageNotFound
	}
	delete(q.processing, id)
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.processing[id]
	if !ok {
		return ErrMessageNotFound
	}
	q.requeue(d, "max retries exceeded")
	return nil
}

func (q *MemoryQueue) requeue(d *Delivery, exhausted string) {
	delete(q.processing, d.ID)
	decision := q.config.Retry.DecideRetry(nil, d.RetryCount)
	if !decision.ShouldRetry {
		q.dead = append(q.dead, DeadLetter{Delivery: *d, Reason: exhausted, MovedAt: q.now()})
		return
	}
	d.RetryCount++
	d.VisibleAfter = q.now().Add(decision.Backoff)
	q.push(d)
}

func (q *MemoryQueue) MoveToDeadLetter(ctx context.Context, id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.processing[id]
	if !ok {
		return ErrMessageNotFound
	}
	delete(q.processing, id)
	q.dead = append(q.dead, DeadLetter{Delivery: *d, Reason: reason, MovedAt: q.now()})
	return nil
}

func (q *MemoryQueue) RecoverStale(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var stale []*Delivery
	for _, d := range q.processing {
		if !d.VisibleAfter.After(now) {
			stale = append(stale, d)
		}
	}
	for _, d := range stale {
		q.requeue(d, "visibility timeout exceeded")
	}
	return len(stale), nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready)), nil
}

// DeadLetters returns the dead-lettered messages in the order they were moved.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
