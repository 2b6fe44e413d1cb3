package vars

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresConnectTimeout = 5 * time.Second

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// NewPostgres opens a pool for dsn, pings it, and creates the variables
// table if it does not exist yet.
func NewPostgres(ctx context.Context, log *slog.Logger, dsn string) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, postgresConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &Postgres{log: log, pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("variable store initialized", "backend", "postgres")
	return s, nil
}

func (s *Postgres) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_vars (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create pipeline_vars table: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM pipeline_vars WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get variable %q: %w", key, err)
	}
	return value, nil
}

func (s *Postgres) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_vars (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set variable %q: %w", key, err)
	}
	return nil
}

func (s *Postgres) List(ctx context.Context) ([]Variable, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value, updated_at FROM pipeline_vars ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list variables: %w", err)
	}
	defer rows.Close()

	var out []Variable
	for rows.Next() {
		var v Variable
		if err := rows.Scan(&v.Key, &v.Value, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan variable row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variable rows: %w", err)
	}
	return out, nil
}

func (s *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM pipeline_vars WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete variable %q: %w", key, err)
	}
	return nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
