// Package queues is the durable work queue that hands job ids to workers.
package queues

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Queue errors.
var (
	ErrMessageNotFound = errors.New("message not found")
	ErrQueueClosed     = errors.New("queue is closed")
	ErrInvalidMessage  = errors.New("invalid message")
)

// Reasons a job id is enqueued.
const (
	ReasonCreated  = "created"
	ReasonReviewed = "reviewed"
	ReasonRetry    = "retry"
	ReasonRecover  = "recover"
)

// Message asks a worker to advance one job.
type Message struct {
	JobID  uuid.UUID `json:"job_id"`
	Reason string    `json:"reason"`
}

// Delivery is a message as handed to a worker.
type Delivery struct {
	ID           string          `json:"id"`
	Body         json.RawMessage `json:"body"`
	RetryCount   int             `json:"retry_count"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAfter time.Time       `json:"visible_after"`
}

// Message decodes the delivery body.
func (d *Delivery) Message() (Message, error) {
	var m Message
	if err := json.Unmarshal(d.Body, &m); err != nil {
		return m, errors.Join(ErrInvalidMessage, err)
	}
	if m.JobID == uuid.Nil {
		return m, ErrInvalidMessage
	}
	return m, nil
}

// DeadLetter is a message that exhausted its retries or could not be processed.
type DeadLetter struct {
	Delivery Delivery  `json:"delivery"`
	Reason   string    `json:"reason"`
	MovedAt  time.Time `json:"moved_at"`
}

// Config configures a queue.
type Config struct {
	Name              string        `yaml:"name"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	RetentionPeriod   time.Duration `yaml:"retention_period"`
	Retry             RetryPolicy   `yaml:"retry"`
}

// DefaultConfig returns the queue defaults.
func DefaultConfig() Config {
	return Config{
		Name:              "minutes:jobs",
		VisibilityTimeout: 30 * time.Minute,
		RetentionPeriod:   7 * 24 * time.Hour,
		Retry:             DefaultRetryPolicy(),
	}
}

// Queue is an at-least-once queue with visibility timeouts and a dead letter queue.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	// Dequeue claims up to max visible messages, waiting at most wait for the first.
	Dequeue(ctx context.Context, max int, wait time.Duration) ([]*Delivery, error)
	Ack(ctx context.Context, id string) error
	// Nack schedules a retry with backoff, or dead-letters once retries are exhausted.
	Nack(ctx context.Context, id string) error
	MoveToDeadLetter(ctx context.Context, id, reason string) error
	// RecoverStale returns claimed messages whose visibility timeout expired.
	RecoverStale(ctx context.Context) (int, error)
	Depth(ctx context.Context) (int64, error)
	Close() error
}
