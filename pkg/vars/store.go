// Package vars implements the external variable store the pipeline keeps its
// persisted state and configuration scalars in: string values under string
// keys, read with per-key hardcoded defaults and overwritten in place.
//
// Two backends are provided: Postgres for shared deployments and SQLite for
// single-node or local use. Open picks the backend from the DSN.
package vars

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("variable not found")

// Variable is one stored key/value pair.
type Variable struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Store is the variable store seam used by the pipeline and the admin CLI.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set writes value under key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error
	// List returns all variables ordered by key.
	List(ctx context.Context) ([]Variable, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetDefault returns the value for key, or def when the key is absent.
// Store errors other than ErrNotFound are returned as-is.
func GetDefault(ctx context.Context, s Store, key, def string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// Open connects to the store identified by dsn: postgres:// and
// postgresql:// DSNs get the Postgres backend, anything else is treated as a
// SQLite database path.
func Open(ctx context.Context, log *slog.Logger, dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgres(ctx, log, dsn)
	}
	return NewSQLite(ctx, log, dsn)
}
