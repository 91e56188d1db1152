// Package workers runs the goroutines that take job ids off the queue and advance them.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes/queues"
)

// WorkerStatus represents the worker's current status.
type WorkerStatus string

const (
	WorkerStatusStarting WorkerStatus = "starting"
	WorkerStatusHealthy  WorkerStatus = "healthy"
	WorkerStatusDraining WorkerStatus = "draining"
	WorkerStatusStopped  WorkerStatus = "stopped"
)

// MessageHandler processes one queue message. Returning a permanent
// queues.ProcessingError dead-letters the message; any other error retries it.
type MessageHandler func(ctx context.Context, msg queues.Message) error

// Config configures a pool.
type Config struct {
	Count           int           `yaml:"count"`
	BatchSize       int           `yaml:"batch_size"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// StaleInterval is how often expired claims are returned to the queue.
	StaleInterval time.Duration `yaml:"stale_interval"`
}

// DefaultConfig returns pool defaults.
func DefaultConfig() Config {
	return Config{
		Count:           4,
		BatchSize:       1,
		PollInterval:    time.Second,
		JobTimeout:      25 * time.Minute,
		ShutdownTimeout: 60 * time.Second,
		StaleInterval:   time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Count <= 0 {
		c.Count = d.Count
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.StaleInterval <= 0 {
		c.StaleInterval = d.StaleInterval
	}
	return c
}

// Worker is a single consumer goroutine.
type Worker struct {
	ID     string
	config Config
	queue  queues.Queue
	handle MessageHandler
	logger logging.Logger

	status       atomic.Value
	lastActivity atomic.Int64

	ProcessedCount atomic.Int64
	FailedCount    atomic.Int64
}

func newWorker(config Config, queue queues.Queue, handler MessageHandler, logger logging.Logger) *Worker {
	id := uuid.New().String()
	w := &Worker{
		ID:     id,
		config: config,
		queue:  queue,
		handle: handler,
		logger: logger.With(logging.F("worker_id", id)),
	}
	w.status.Store(WorkerStatusStarting)
	return w
}

// Status returns the worker's current status.
func (w *Worker) Status() WorkerStatus {
	return w.status.Load().(WorkerStatus)
}

func (w *Worker) run(ctx context.Context) {
	w.status.Store(WorkerStatusHealthy)
	defer w.status.Store(WorkerStatusStopped)

	for ctx.Err() == nil {
		deliveries, err := w.queue.Dequeue(ctx, w.config.BatchSize, w.config.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("Dequeue failed", logging.Err(err))
			select {
			case <-time.After(w.config.PollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, d := range deliveries {
			w.process(ctx, d)
		}
	}
}

func (w *Worker) process(ctx context.Context, d *queues.Delivery) {
	w.lastActivity.Store(time.Now().UnixNano())
	// Acks must land even while draining.
	ackCtx := context.WithoutCancel(ctx)

	msg, err := d.Message()
	if err != nil {
		w.logger.Error("Invalid queue message", logging.F("message_id", d.ID), logging.Err(err))
		_ = w.queue.MoveToDeadLetter(ackCtx, d.ID, fmt.Sprintf("parse error: %v", err))
		w.FailedCount.Add(1)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	logger := w.logger.With(logging.F("message_id", d.ID), logging.F("job_id", msg.JobID))
	err = w.handle(jobCtx, msg)
	if err == nil {
		if err := w.queue.Ack(ackCtx, d.ID); err != nil {
			logger.Warn("Ack failed", logging.Err(err))
		}
		w.ProcessedCount.Add(1)
		return
	}

	w.FailedCount.Add(1)
	var procErr *queues.ProcessingError
	if errors.As(err, &procErr) && !procErr.IsRetryable() {
		logger.Error("Dead-lettering message", logging.Err(err))
		_ = w.queue.MoveToDeadLetter(ackCtx, d.ID, err.Error())
		return
	}
	logger.Warn("Message handling failed, will retry", logging.F("retry_count", d.RetryCount), logging.Err(err))
	if err := w.queue.Nack(ackCtx, d.ID); err != nil {
		logger.Error("Nack failed", logging.Err(err))
	}
}

// Pool manages a set of workers sharing one queue.
type Pool struct {
	config  Config
	queue   queues.Queue
	handler MessageHandler
	logger  logging.Logger

	mu      sync.RWMutex
	workers []*Worker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool. Call Start to launch it.
func NewPool(config Config, queue queues.Queue, handler MessageHandler, logger logging.Logger) *Pool {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Pool{
		config:  config.withDefaults(),
		queue:   queue,
		handler: handler,
		logger:  logger.With(logging.F("component", "worker_pool")),
	}
}

// Start launches the workers and the stale-claim reaper. They stop when ctx
// is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.config.Count; i++ {
		w := newWorker(p.config, p.queue, p.handler, p.logger)
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reap(ctx)
	}()

	p.logger.Info("Worker pool started", logging.F("workers", p.config.Count))
}

func (p *Pool) reap(ctx context.Context) {
	ticker := time.NewTicker(p.config.StaleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.RecoverStale(ctx)
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("Stale message recovery failed", logging.Err(err))
			} else if n > 0 {
				p.logger.Info("Recovered stale messages", logging.F("count", n))
			}
		}
	}
}

// Stop cancels the workers and waits up to ShutdownTimeout for them to drain.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return
	}
	for _, w := range p.workers {
		w.status.Store(WorkerStatusDraining)
	}
	p.cancel()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("Worker pool stopped")
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("Worker pool shutdown timed out", logging.F("timeout", p.config.ShutdownTimeout.String()))
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	WorkerCount int
	ActiveCount int
	Processed   int64
	Failed      int64
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{WorkerCount: len(p.workers)}
	for _, w := range p.workers {
		if w.Status() == WorkerStatusHealthy {
			stats.ActiveCount++
		}
		stats.Processed += w.ProcessedCount.Load()
		stats.Failed += w.FailedCount.Load()
	}
	return stats
}
