// Package pipeline implements the incremental extraction run. Each run walks
// three steps: extract the rows newer than the stored watermark, hand the
// batch to the agent for acknowledgment, then persist the advanced watermark.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/tidemarklabs/tidemark/pkg/metrics"
	"github.com/tidemarklabs/tidemark/pkg/vars"
	"github.com/tidemarklabs/tidemark/pkg/warehouse"
)

const (
	// WatermarkKey is the variable the watermark persists under.
	WatermarkKey = "extraction_watermark"

	// EpochWatermark is used when no watermark has been persisted yet.
	EpochWatermark = "1970-01-01T00:00:00Z"

	// EmptyBatchReply stands in for the agent reply when there is nothing to
	// process.
	EmptyBatchReply = "No new entries to process."

	// FallbackReply stands in for the agent reply when the agent is
	// unreachable or errors.
	FallbackReply = "Hi (fallback — agent unreachable)"
)

// AgentClient is the seam to the generative model.
type AgentClient interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Warehouse is the seam to the tabular source.
type Warehouse interface {
	// SelectSince returns the rows whose timestamp column is strictly greater
	// than watermark, oldest first.
	SelectSince(ctx context.Context, database, table, tsColumn, watermark string) (warehouse.Batch, error)

	// Describe returns the column listing of a table.
	Describe(ctx context.Context, database, table string) ([]warehouse.Column, error)
}

// Config holds the configuration for the pipeline.
type Config struct {
	Logger    *slog.Logger
	Warehouse Warehouse
	Agent     AgentClient
	Vars      vars.Store
	Settings  Settings
	Clock     clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Warehouse == nil {
		return errors.New("warehouse is required")
	}
	if cfg.Agent == nil {
		return errors.New("agent client is required")
	}
	if cfg.Vars == nil {
		return errors.New("variable store is required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return fmt.Errorf("settings are invalid: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Result holds the outcome of one completed run.
type Result struct {
	RunID             string        `json:"run_id"`
	PreviousWatermark string        `json:"previous_watermark"`
	NewWatermark      string        `json:"new_watermark"`
	RecordCount       int           `json:"record_count"`
	AgentReply        string        `json:"agent_reply"`
	Degraded          bool          `json:"degraded"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
}

// Pipeline runs the extract, notify, commit sequence.
type Pipeline struct {
	cfg *Config
	log *slog.Logger
}

// New creates a new Pipeline.
func New(cfg *Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate pipeline config: %w", err)
	}
	return &Pipeline{
		cfg: cfg,
		log: cfg.Logger,
	}, nil
}

// Run executes one run. Extraction and commit failures abort the run; agent
// failures degrade it to the fallback reply but never abort.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	startedAt := p.cfg.Clock.Now()
	defer func() {
		metrics.RunDuration.Observe(p.cfg.Clock.Now().Sub(startedAt).Seconds())
	}()

	runID := uuid.New().String()
	log := p.log.With("run", runID)

	log.Info("pipeline: run starting",
		"database", p.cfg.Settings.Database,
		"table", p.cfg.Settings.Table)

	ext, err := p.extract(ctx, log)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("extract_err").Inc()
		return nil, err
	}

	reply, degraded := p.notify(ctx, log, ext.batch)

	if err := p.commit(ctx, log, ext, reply); err != nil {
		metrics.RunsTotal.WithLabelValues("commit_err").Inc()
		return nil, err
	}
	metrics.RunsTotal.WithLabelValues("ok").Inc()

	duration := p.cfg.Clock.Now().Sub(startedAt)
	log.Info("pipeline: run finished",
		"count", ext.batch.Count,
		"watermark", ext.next,
		"degraded", degraded,
		"duration", duration)

	return &Result{
		RunID:             runID,
		PreviousWatermark: ext.previous,
		NewWatermark:      ext.next,
		RecordCount:       ext.batch.Count,
		AgentReply:        reply,
		Degraded:          degraded,
		StartedAt:         startedAt,
		Duration:          duration,
	}, nil
}
