package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidemarklabs/tidemark/pkg/metrics"
	"github.com/tidemarklabs/tidemark/pkg/vars"
	"github.com/tidemarklabs/tidemark/pkg/warehouse"
)

// extraction carries the batch and the watermark movement of one run.
type extraction struct {
	batch    warehouse.Batch
	previous string
	next     string
}

// extract reads the watermark and fetches everything newer. The next
// watermark is the lexically greatest serialized timestamp in the batch; an
// empty batch keeps the previous one.
func (p *Pipeline) extract(ctx context.Context, log *slog.Logger) (extraction, error) {
	s := p.cfg.Settings

	watermark, err := vars.GetDefault(ctx, p.cfg.Vars, WatermarkKey, EpochWatermark)
	if err != nil {
		return extraction{}, fmt.Errorf("failed to read watermark: %w", err)
	}

	log.Info("pipeline: extracting",
		"database", s.Database,
		"table", s.Table,
		"tsColumn", s.TimestampColumn,
		"watermark", watermark)

	batch, err := p.cfg.Warehouse.SelectSince(ctx, s.Database, s.Table, s.TimestampColumn, watermark)
	if err != nil {
		p.logTableShape(ctx, log)
		return extraction{}, fmt.Errorf("failed to extract rows from %s.%s: %w", s.Database, s.Table, err)
	}

	next := watermark
	if batch.Count > 0 {
		next = warehouse.TimestampString(batch.Records[0][s.TimestampColumn])
		for _, record := range batch.Records[1:] {
			if ts := warehouse.TimestampString(record[s.TimestampColumn]); ts > next {
				next = ts
			}
		}
	}

	metrics.RecordsExtractedTotal.Add(float64(batch.Count))
	metrics.LastRunRecords.Set(float64(batch.Count))

	log.Info("pipeline: extracted batch", "count", batch.Count, "newWatermark", next)

	return extraction{
		batch:    batch,
		previous: watermark,
		next:     next,
	}, nil
}

// logTableShape logs the table's columns after a failed extraction, best
// effort, so a misconfigured timestamp column shows up next to the error.
func (p *Pipeline) logTableShape(ctx context.Context, log *slog.Logger) {
	s := p.cfg.Settings

	columns, err := p.cfg.Warehouse.Describe(ctx, s.Database, s.Table)
	if err != nil {
		log.Warn("pipeline: failed to describe table",
			"database", s.Database,
			"table", s.Table,
			"error", err)
		return
	}

	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = col.Name + " " + col.Type
	}
	log.Warn("pipeline: table shape",
		"database", s.Database,
		"table", s.Table,
		"tsColumn", s.TimestampColumn,
		"columns", strings.Join(parts, ", "))
}
