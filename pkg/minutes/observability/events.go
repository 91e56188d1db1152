// Package observability provides job event notifications, Prometheus metrics
// and tracing helpers for the minutes pipeline.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ChannelJobEvents carries every job event; per-job channels append ".{job_id}".
const ChannelJobEvents = "events.minutes.jobs"

// Event types.
const (
	EventJobCreated     = "job.created"
	EventStageCompleted = "job.stage_completed"
	EventHITLPending    = "job.hitl_pending"
	EventReviewSaved    = "job.review_saved"
	EventJobCompleted   = "job.completed"
	EventJobFailed      = "job.failed"
	EventJobCancelled   = "job.cancelled"
	EventJobRetried     = "job.retried"
	EventProgress       = "job.progress"
)

// JobEvent is published after every committed transition.
type JobEvent struct {
	EventID      string    `json:"event_id"`
	Type         string    `json:"type"`
	JobID        uuid.UUID `json:"job_id"`
	UserID       string    `json:"user_id,omitempty"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress_percentage"`
	Step         string    `json:"current_step,omitempty"`
	Stage        string    `json:"stage,omitempty"`
	DurationMs   int64     `json:"duration_ms,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	TraceID      string    `json:"trace_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewJobEvent creates an event with a generated id.
func NewJobEvent(eventType string, jobID uuid.UUID, status string, progress int) *JobEvent {
	return &JobEvent{
		EventID:   uuid.New().String(),
		Type:      eventType,
		JobID:     jobID,
		Status:    status,
		Progress:  progress,
		Timestamp: time.Now().UTC(),
	}
}

// JobChannel is the per-job notification channel.
func JobChannel(jobID uuid.UUID) string {
	return ChannelJobEvents + "." + jobID.String()
}

// Publisher delivers job events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event *JobEvent) error
	Close() error
}

// RedisPublisher publishes events on Redis pub/sub.
type RedisPublisher struct {
	client redis.UniversalClient
}

// NewRedisPublisher creates a publisher over client.
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends the event to the shared and the per-job channel.
func (p *RedisPublisher) Publish(ctx context.Context, event *JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, ChannelJobEvents, data)
	pipe.Publish(ctx, JobChannel(event.JobID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	return nil
}

// Subscribe streams events for one job until ctx is done.
func (p *RedisPublisher) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan *JobEvent, error) {
	sub := p.client.Subscribe(ctx, JobChannel(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	out := make(chan *JobEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev JobEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- &ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the client is owned by the caller.
func (p *RedisPublisher) Close() error {
	return nil
}

// NoOpPublisher discards all events.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(context.Context, *JobEvent) error { return nil }
func (NoOpPublisher) Close() error                            { return nil }

// MemoryPublisher records events in process.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []JobEvent
}

func (p *MemoryPublisher) Publish(ctx context.Context, event *JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Events returns the published events, optionally only those for jobID.
func (p *MemoryPublisher) Events(jobID uuid.UUID) []JobEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []JobEvent
	for _, e := range p.events {
		if jobID == uuid.Nil || e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

// Types returns the event types published for jobID in order.
func (p *MemoryPublisher) Types(jobID uuid.UUID) []string {
	var out []string
	for _, e := range p.Events(jobID) {
		out = append(out, e.Type)
	}
	return out
}
