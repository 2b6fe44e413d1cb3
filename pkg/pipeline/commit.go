package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidemarklabs/tidemark/pkg/metrics"
)

// commit persists the advanced watermark. It refuses to run without one: a
// missing watermark here means extraction produced nothing usable, and
// writing an empty value would poison the next run's query.
func (p *Pipeline) commit(ctx context.Context, log *slog.Logger, ext extraction, reply string) error {
	if ext.next == "" {
		return errors.New("no watermark to persist")
	}

	if err := p.cfg.Vars.Set(ctx, WatermarkKey, ext.next); err != nil {
		return fmt.Errorf("failed to persist watermark: %w", err)
	}
	metrics.WatermarkCommitsTotal.Inc()

	log.Info("pipeline: run committed",
		"previousWatermark", ext.previous,
		"newWatermark", ext.next,
		"count", ext.batch.Count,
		"reply", reply)
	return nil
}
