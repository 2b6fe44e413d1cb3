package warehouse

import (
	"context"
	"fmt"
	"log/slog"
)

// Source executes extraction queries against the warehouse. Each call checks
// out its own connection so a failed run never leaks one into the next.
type Source struct {
	log *slog.Logger
	db  DB
}

// NewSource creates a Source over an open database handle.
func NewSource(log *slog.Logger, db DB) *Source {
	return &Source{log: log, db: db}
}

func (s *Source) SelectSince(ctx context.Context, database, table, tsColumn, watermark string) (Batch, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return Batch{}, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	return SelectSince(ctx, conn, database, table, tsColumn, watermark)
}

func (s *Source) Describe(ctx context.Context, database, table string) ([]Column, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	return Describe(ctx, conn, database, table)
}
