package queues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// Redis key prefixes.
const (
	keyPrefixQueue      = "queue:"      // ready and delayed messages, scored by visible-after millis
	keyPrefixProcessing = "processing:" // claimed messages, scored by visibility deadline
	keyPrefixMessage    = "msg:"
	keyPrefixDLQ        = "dlq:"
)

// RedisQueue implements Queue with sorted sets.
type RedisQueue struct {
	client redis.UniversalClient
	config Config
	now    func() time.Time
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue creates a Redis-backed queue.
func NewRedisQueue(client redis.UniversalClient, config Config) *RedisQueue {
	d := DefaultConfig()
	if config.Name == "" {
		config.Name = d.Name
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = d.VisibilityTimeout
	}
	if config.RetentionPeriod <= 0 {
		config.RetentionPeriod = d.RetentionPeriod
	}
	if config.Retry.MaxRetries <= 0 {
		config.Retry = d.Retry
	}
	return &RedisQueue{client: client, config: config, now: time.Now}
}

func (q *RedisQueue) queueKey() string      { return keyPrefixQueue + q.config.Name }
func (q *RedisQueue) processingKey() string { return keyPrefixProcessing + q.config.Name }
func (q *RedisQueue) dlqKey() string        { return keyPrefixDLQ + q.config.Name }
func (q *RedisQueue) msgKey(id string) string {
	return keyPrefixMessage + q.config.Name + ":" + id
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	now := q.now()
	d := &Delivery{
		ID:           ulid.Make().String(),
		Body:         body,
		EnqueuedAt:   now,
		VisibleAfter: now,
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.msgKey(d.ID), data, q.config.RetentionPeriod)
	pipe.ZAdd(ctx, q.queueKey(), redis.Z{Score: score(now), Member: d.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, max int, wait time.Duration) ([]*Delivery, error) {
	if max <= 0 {
		max = 1
	}
	deadline := q.now().Add(wait)

	for {
		out, err := q.claim(ctx, max)
		if err != nil || len(out) > 0 {
			return out, err
		}
		if !q.now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *RedisQueue) claim(ctx context.Context, max int) ([]*Delivery, error) {
	now := q.now()
	ids, err := q.client.ZRangeByScore(ctx, q.queueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	var out []*Delivery
	for _, id := range ids {
		// ZREM is the claim: only one consumer removes the member.
		removed, err := q.client.ZRem(ctx, q.queueKey(), id).Result()
		if err != nil {
			return out, fmt.Errorf("failed to claim message: %w", err)
		}
		if removed == 0 {
			continue
		}

		d, err := q.load(ctx, id)
		if errors.Is(err, ErrMessageNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}

		d.VisibleAfter = now.Add(q.config.VisibilityTimeout)
		data, _ := json.Marshal(d)
		pipe := q.client.TxPipeline()
		pipe.Set(ctx, q.msgKey(id), data, q.config.RetentionPeriod)
		pipe.ZAdd(ctx, q.processingKey(), redis.Z{Score: score(d.VisibleAfter), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return out, fmt.Errorf("failed to move to processing: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (*Delivery, error) {
	data, err := q.client.Get(ctx, q.msgKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	var d Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &d, nil
}

func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), id)
	pipe.Del(ctx, q.msgKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

func (q *RedisQueue) Nack(ctx context.Context, id string) error {
	d, err := q.load(ctx, id)
	if err != nil {
		return err
	}
	return q.requeue(ctx, d, "max retries exceeded")
}

func (q *RedisQueue) requeue(ctx context.Context, d *Delivery, exhausted string) error {
	decision := q.config.Retry.DecideRetry(nil, d.RetryCount)
	if !decision.ShouldRetry {
		return q.MoveToDeadLetter(ctx, d.ID, exhausted)
	}
	d.RetryCount++
	d.VisibleAfter = q.now().Add(decision.Backoff)
	data, _ := json.Marshal(d)

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), d.ID)
	pipe.Set(ctx, q.msgKey(d.ID), data, q.config.RetentionPeriod)
	pipe.ZAdd(ctx, q.queueKey(), redis.Z{Score: score(d.VisibleAfter), Member: d.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack message: %w", err)
	}
	return nil
}

func (q *RedisQueue) MoveToDeadLetter(ctx context.Context, id, reason string) error {
	d, err := q.load(ctx, id)
	if err != nil {
		return err
	}
	entry, _ := json.Marshal(DeadLetter{Delivery: *d, Reason: reason, MovedAt: q.now()})

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), id)
	pipe.ZRem(ctx, q.queueKey(), id)
	pipe.Del(ctx, q.msgKey(id))
	pipe.ZAdd(ctx, q.dlqKey(), redis.Z{Score: score(q.now()), Member: string(entry)})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to move to DLQ: %w", err)
	}
	return nil
}

func (q *RedisQueue) RecoverStale(ctx context.Context) (int, error) {
	stale, err := q.client.ZRangeByScore(ctx, q.processingKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find stale messages: %w", err)
	}

	recovered := 0
	for _, id := range stale {
		d, err := q.load(ctx, id)
		if errors.Is(err, ErrMessageNotFound) {
			q.client.ZRem(ctx, q.processingKey(), id)
			continue
		}
		if err != nil {
			return recovered, err
		}
		if err := q.requeue(ctx, d, "visibility timeout exceeded"); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueKey()).Result()
}

// DeadLetters returns up to limit dead-lettered messages, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	raw, err := q.client.ZRevRange(ctx, q.dlqKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ: %w", err)
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err == nil {
			out = append(out, dl)
		}
	}
	return out, nil
}

func (q *RedisQueue) Close() error {
	return nil
}
