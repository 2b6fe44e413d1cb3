package vars

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a Store backed by a single SQLite database file. It exists for
// single-node and local deployments where running Postgres is not worth it.
type SQLite struct {
	log *slog.Logger
	db  *sql.DB
}

// NewSQLite opens (or creates) the database at path and creates the
// variables table if it does not exist yet.
func NewSQLite(ctx context.Context, log *slog.Logger, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q: %w", path, err)
	}

	// A single writer avoids SQLITE_BUSY between the daemon and the admin CLI.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database %q: %w", path, err)
	}

	s := &SQLite{log: log, db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("variable store initialized", "backend", "sqlite", "path", path)
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_vars (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create pipeline_vars table: %w", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM pipeline_vars WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get variable %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_vars (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set variable %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context) ([]Variable, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at FROM pipeline_vars ORDER BY key`)
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

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pipeline_vars WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete variable %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
