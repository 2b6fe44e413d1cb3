// Package warehouse provides access to the ClickHouse warehouse the
// extraction pipeline reads from.
package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// DB represents a ClickHouse database handle
type DB interface {
	Conn(ctx context.Context) (Conn, error)
	Close() error
}

// Conn represents a ClickHouse connection scoped to one unit of work
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	PrepareBatch(ctx context.Context, query string) (driver.Batch, error)
	Ping(ctx context.Context) error
	Close() error
}

type db struct {
	conn driver.Conn
	log  *slog.Logger
}

type conn struct {
	conn driver.Conn
}

// New creates a new ClickHouse client
func New(ctx context.Context, log *slog.Logger, addr string, database string, username string, password string) (DB, error) {
	options := &clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
	}

	c, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Info("ClickHouse client initialized", "addr", addr, "database", database)

	return &db{
		conn: c,
		log:  log,
	}, nil
}

func (d *db) Conn(ctx context.Context) (Conn, error) {
	return &conn{conn: d.conn}, nil
}

func (d *db) Close() error {
	return d.conn.Close()
}

func (c *conn) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}

func (c *conn) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

func (c *conn) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return c.conn.PrepareBatch(ctx, query)
}

func (c *conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *conn) Close() error {
	// Connection is shared, don't close it
	return nil
}
