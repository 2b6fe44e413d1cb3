// Package runner schedules the extraction pipeline on a fixed interval.
// Runs execute one at a time; a failed run is retried a bounded number of
// times with a constant delay, then abandoned until the next tick.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/tidemarklabs/tidemark/pkg/metrics"
	"github.com/tidemarklabs/tidemark/pkg/pipeline"
)

const (
	DefaultInterval   = 10 * time.Minute
	DefaultMaxRetries = 2
	DefaultRetryDelay = 3 * time.Minute
)

// Pipeline is the unit of work the runner schedules.
type Pipeline interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Pipeline Pipeline

	// Interval between scheduled runs.
	Interval time.Duration

	// MaxRetries is the number of additional attempts after a failed run.
	MaxRetries int

	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pipeline == nil {
		return errors.New("pipeline is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return nil
}

// RunStatus summarizes the most recent completed run for the status endpoint.
type RunStatus struct {
	Result      *pipeline.Result `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	Attempts    int              `json:"attempts"`
	CompletedAt time.Time        `json:"completed_at"`
}

type Runner struct {
	log *slog.Logger
	cfg *Config

	mu      sync.RWMutex
	lastRun *RunStatus
}

func New(cfg *Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate runner config: %w", err)
	}
	return &Runner{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Run executes one run immediately, then one per interval until ctx is
// canceled. Runs execute inside the loop, so at most one is ever in flight.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("runner: starting",
		"interval", r.cfg.Interval,
		"maxRetries", r.cfg.MaxRetries,
		"retryDelay", r.cfg.RetryDelay,
	)

	ticker := r.cfg.Clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("runner: context done, stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			r.tick(ctx)
		}
	}
}

// RunOnce executes a single run with the configured retry budget and returns
// its final error.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.tick(ctx)
}

// LastRun returns the most recent completed run, or nil before the first one
// finishes.
func (r *Runner) LastRun() *RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRun
}

func (r *Runner) tick(ctx context.Context) error {
	var result *pipeline.Result
	attempts := 0

	operation := func() error {
		attempts++
		res, err := r.cfg.Pipeline.Run(ctx)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	notify := func(err error, delay time.Duration) {
		metrics.RunRetriesTotal.Inc()
		r.log.Warn("runner: run failed, retrying", "error", err, "attempt", attempts, "delay", delay)
	}

	retryPolicy := backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.RetryDelay), uint64(r.cfg.MaxRetries))
	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(retryPolicy, ctx), notify, newClockTimer(r.cfg.Clock))

	if err != nil {
		r.setLastRun(&RunStatus{Error: err.Error(), Attempts: attempts, CompletedAt: r.cfg.Clock.Now()})
		// A canceled context means shutdown, not a failed run.
		if ctx.Err() == nil {
			metrics.RunsTotal.WithLabelValues("retries_exhausted").Inc()
			r.log.Error("runner: run abandoned until next tick", "error", err, "attempts", attempts)
		}
		return err
	}

	r.setLastRun(&RunStatus{Result: result, Attempts: attempts, CompletedAt: r.cfg.Clock.Now()})
	return nil
}

func (r *Runner) setLastRun(status *RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRun = status
}

// clockTimer adapts the configured clock to the retry policy's timer so
// retry delays follow the injected clock.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func newClockTimer(clock clockwork.Clock) *clockTimer {
	return &clockTimer{clock: clock}
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	if t.timer == nil {
		return nil
	}
	return t.timer.Chan()
}
