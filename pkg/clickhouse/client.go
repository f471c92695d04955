// Package clickhouse wraps the database/sql ClickHouse driver with DSN
// assembly, pool tuning and schema bootstrap.
package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

// Client owns a ClickHouse connection pool.
type Client struct {
	db *sql.DB
}

// NewClient opens a connection pool and verifies it with a ping.
func NewClient(opts ...Option) (*Client, error) {
	cfg := defaults()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.host == "" {
		return nil, fmt.Errorf("clickhouse: host not set")
	}

	db, err := sql.Open("clickhouse", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.maxOpen)
	db.SetMaxIdleConns(cfg.maxIdle)
	db.SetConnMaxLifetime(cfg.maxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}
	return &Client{db: db}, nil
}

// DB exposes the underlying pool for query execution.
func (c *Client) DB() *sql.DB { return c.db }

// InitSchema runs DDL statements one at a time. Statements must be
// idempotent (CREATE TABLE IF NOT EXISTS and friends).
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clickhouse: schema: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() error { return c.db.Close() }

// dsn assembles a clickhouse-go v2 connection string. The v2 driver has no
// write_timeout parameter; writes are bounded by max_execution_time.
func (c *config) dsn() string {
	scheme := "clickhouse"
	if c.useHTTP {
		scheme = "clickhouse+http"
	}

	u := url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", c.host, c.port),
		Path:   "/" + c.database,
	}
	if c.user != "" {
		u.User = url.UserPassword(c.user, c.password)
	}

	q := url.Values{}
	q.Set("dial_timeout", c.dialTimeout.String())
	q.Set("read_timeout", c.readTimeout.String())
	q.Set("max_execution_time", strconv.Itoa(int(c.maxExecTime.Seconds())))
	if c.asyncInsert {
		q.Set("async_insert", "1")
		if c.waitForAsync {
			q.Set("wait_for_async_insert", "1")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
