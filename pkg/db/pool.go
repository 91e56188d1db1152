package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoPool is returned by probes given a nil pool.
var ErrNoPool = errors.New("database pool not configured")

// Ping checks that the job store database answers.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return ErrNoPool
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Probe returns a readiness check bounded by timeout.
func Probe(pool *pgxpool.Pool, timeout time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return Ping(ctx, pool)
	}
}

// poolMetric reads one value from a pool snapshot.
type poolMetric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(*pgxpool.Stat) float64
}

// PoolCollector exports pgxpool statistics, read fresh on every scrape.
type PoolCollector struct {
	pool    *pgxpool.Pool
	metrics []poolMetric
}

// NewPoolCollector builds a collector labelled with component.
func NewPoolCollector(pool *pgxpool.Pool, namespace, component string) *PoolCollector {
	labels := prometheus.Labels{"component": component}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "db_pool", name), help, nil, labels)
	}
	return &PoolCollector{
		pool: pool,
		metrics: []poolMetric{
			{desc("total_conns", "Connections currently open."), prometheus.GaugeValue,
				func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }},
			{desc("idle_conns", "Idle connections."), prometheus.GaugeValue,
				func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }},
			{desc("acquired_conns", "Connections checked out by job store calls."), prometheus.GaugeValue,
				func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }},
			{desc("max_conns", "Pool size limit."), prometheus.GaugeValue,
				func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }},
			{desc("acquires_total", "Successful connection acquires."), prometheus.CounterValue,
				func(s *pgxpool.Stat) float64 { return float64(s.AcquireCount()) }},
			{desc("empty_acquires_total", "Acquires that waited for a free connection."), prometheus.CounterValue,
				func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) }},
			{desc("acquire_seconds_total", "Time spent waiting to acquire connections."), prometheus.CounterValue,
				func(s *pgxpool.Stat) float64 { return s.AcquireDuration().Seconds() }},
		},
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector. A nil pool yields nothing.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	stat := c.pool.Stat()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(stat))
	}
}

// RegisterPoolCollector registers a collector for pool on reg. Registering
// the same pool twice is not an error.
func RegisterPoolCollector(reg prometheus.Registerer, pool *pgxpool.Pool, namespace, component string) (*PoolCollector, error) {
	c := NewPoolCollector(pool, namespace, component)
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("registering pool collector: %w", err)
		}
	}
	return c, nil
}
