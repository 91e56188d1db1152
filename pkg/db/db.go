// Package db opens the minutes job database and applies its migrations.
package db

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds PostgreSQL connection settings. URL, when set, takes
// precedence over the individual fields.
type Config struct {
	URL             string        `yaml:"url,omitempty"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password,omitempty"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	// MigrationsDir overrides the embedded migrations when set.
	MigrationsDir string `yaml:"migrations_dir,omitempty"`
}

// DefaultConfig returns local development settings.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		Database:        "minutes",
		User:            "minutes",
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// ApplyEnv overlays MINUTES_DATABASE_URL and MINUTES_DB_* variables:
// HOST, PORT, NAME, USER, PASSWORD, SSLMODE, MAX_CONNS, MIN_CONNS, MIGRATIONS_DIR.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MINUTES_DATABASE_URL"); v != "" {
		c.URL = v
	}
	if v := os.Getenv("MINUTES_DB_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("MINUTES_DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("MINUTES_DB_NAME"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("MINUTES_DB_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv("MINUTES_DB_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("MINUTES_DB_SSLMODE"); v != "" {
		c.SSLMode = v
	}
	if v := os.Getenv("MINUTES_DB_MAX_CONNS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			c.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("MINUTES_DB_MIN_CONNS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			c.MinConns = int32(n)
		}
	}
	if v := os.Getenv("MINUTES_DB_MIGRATIONS_DIR"); v != "" {
		c.MigrationsDir = v
	}
}

// ConfigFromEnv returns DefaultConfig with the environment applied.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg
}

// ConnectionString returns URL, or a postgres URL built from the fields.
func (c *Config) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("max connections (%d) must be >= min connections (%d)", c.MaxConns, c.MinConns)
	}
	if c.URL != "" {
		if _, err := pgxpool.ParseConfig(c.URL); err != nil {
			return fmt.Errorf("invalid database url: %w", err)
		}
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.User == "" {
		return fmt.Errorf("database user is required")
	}
	return nil
}

// Connect opens a pool and pings it. The caller closes the pool.
func Connect(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// ConnectWithRetry calls Connect up to maxAttempts times.
func ConnectWithRetry(ctx context.Context, cfg *Config, maxAttempts int, retryDelay time.Duration) (*pgxpool.Pool, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pool, err := Connect(ctx, cfg)
		if err == nil {
			return pool, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, lastErr)
}

// Close closes pool if it is not nil.
func Close(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
