package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemarklabs/tidemark/pkg/vars"
	"github.com/tidemarklabs/tidemark/pkg/warehouse"
)

type mockWarehouse struct {
	SelectSinceFunc func(ctx context.Context, database, table, tsColumn, watermark string) (warehouse.Batch, error)
	DescribeFunc    func(ctx context.Context, database, table string) ([]warehouse.Column, error)
}

func (m mockWarehouse) SelectSince(ctx context.Context, database, table, tsColumn, watermark string) (warehouse.Batch, error) {
	if m.SelectSinceFunc == nil {
		return warehouse.Batch{}, nil
	}
	return m.SelectSinceFunc(ctx, database, table, tsColumn, watermark)
}

func (m mockWarehouse) Describe(ctx context.Context, database, table string) ([]warehouse.Column, error) {
	if m.DescribeFunc == nil {
		return nil, errors.New("describe not configured")
	}
	return m.DescribeFunc(ctx, database, table)
}

type mockAgent struct {
	CompleteFunc func(ctx context.Context, prompt string) (string, error)
}

func (m mockAgent) Complete(ctx context.Context, prompt string) (string, error) {
	if m.CompleteFunc == nil {
		return "Hi", nil
	}
	return m.CompleteFunc(ctx, prompt)
}

type mockVars struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key, value string) error
	ListFunc   func(ctx context.Context) ([]vars.Variable, error)
	DeleteFunc func(ctx context.Context, key string) error
}

func (m mockVars) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc == nil {
		return "", vars.ErrNotFound
	}
	return m.GetFunc(ctx, key)
}

func (m mockVars) Set(ctx context.Context, key, value string) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value)
}

func (m mockVars) List(ctx context.Context) ([]vars.Variable, error) {
	if m.ListFunc == nil {
		return nil, nil
	}
	return m.ListFunc(ctx)
}

func (m mockVars) Delete(ctx context.Context, key string) error {
	if m.DeleteFunc == nil {
		return nil
	}
	return m.DeleteFunc(ctx, key)
}

func (m mockVars) Close() error { return nil }

func testSettings() Settings {
	return Settings{
		Database:        "reports",
		Table:           "error_logs",
		TimestampColumn: "created_at",
		AgentModel:      "claude-3-5-haiku-20241022",
		AgentMaxTokens:  1024,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func batchOf(records ...warehouse.Record) warehouse.Batch {
	return warehouse.Batch{
		Columns: []string{"id", "message", "created_at"},
		Records: records,
		Count:   len(records),
	}
}

func TestPipeline_Run_AdvancesWatermarkToMaxTimestamp(t *testing.T) {
	t.Parallel()

	var gotKey, gotValue string
	var agentCalls int

	p, err := New(&Config{
		Logger: testLogger(),
		Warehouse: mockWarehouse{
			SelectSinceFunc: func(_ context.Context, _, _, _, watermark string) (warehouse.Batch, error) {
				require.Equal(t, "2025-01-01T00:00:00Z", watermark)
				return batchOf(
					warehouse.Record{"id": uint32(1), "message": "disk full", "created_at": time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
					warehouse.Record{"id": uint32(2), "message": "timeout", "created_at": time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)},
				), nil
			},
		},
		Agent: mockAgent{
			CompleteFunc: func(_ context.Context, prompt string) (string, error) {
				agentCalls++
				assert.Contains(t, prompt, "disk full")
				assert.Contains(t, prompt, "timeout")
				assert.Contains(t, prompt, "2025-01-02T00:00:00Z")
				assert.Contains(t, prompt, "2025-01-03T00:00:00Z")
				return "Hi\nHi", nil
			},
		},
		Vars: mockVars{
			GetFunc: func(_ context.Context, key string) (string, error) {
				require.Equal(t, WatermarkKey, key)
				return "2025-01-01T00:00:00Z", nil
			},
			SetFunc: func(_ context.Context, key, value string) error {
				gotKey, gotValue = key, value
				return nil
			},
		},
		Settings: testSettings(),
		Clock:    clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, agentCalls, "one agent call per non-empty batch")
	assert.Equal(t, WatermarkKey, gotKey)
	assert.Equal(t, "2025-01-03T00:00:00Z", gotValue)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "2025-01-01T00:00:00Z", res.PreviousWatermark)
	assert.Equal(t, "2025-01-03T00:00:00Z", res.NewWatermark)
	assert.Equal(t, 2, res.RecordCount)
	assert.Equal(t, "Hi\nHi", res.AgentReply)
	assert.False(t, res.Degraded)
}

func TestPipeline_Run_EmptyBatchSkipsAgent(t *testing.T) {
	t.Parallel()

	var agentCalls int
	var gotValue string

	p, err := New(&Config{
		Logger: testLogger(),
		Warehouse: mockWarehouse{
			SelectSinceFunc: func(_ context.Context, _, _, _, _ string) (warehouse.Batch, error) {
				return batchOf(), nil
			},
		},
		Agent: mockAgent{
			CompleteFunc: func(_ context.Context, _ string) (string, error) {
				agentCalls++
				return "Hi", nil
			},
		},
		Vars: mockVars{
			GetFunc: func(_ context.Context, _ string) (string, error) {
				return "2025-06-01T00:00:00Z", nil
			},
			SetFunc: func(_ context.Context, _, value string) error {
				gotValue = value
				return nil
			},
		},
		Settings: testSettings(),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, agentCalls, "agent must not be invoked for an empty batch")
	assert.Equal(t, "2025-06-01T00:00:00Z", gotValue, "unchanged watermark is still persisted")
	assert.Equal(t, EmptyBatchReply, res.AgentReply)
	assert.Equal(t, 0, res.RecordCount)
	assert.False(t, res.Degraded)
}

func TestPipeline_Run_AgentFailureFallsBackAndStillCommits(t *testing.T) {
	t.Parallel()

	var setCalls int

	p, err := New(&Config{
		Logger: testLogger(),
		Warehouse: mockWarehouse{
			SelectSinceFunc: func(_ context.Context, _, _, _, _ string) (warehouse.Batch, error) {
				return batchOf(
					warehouse.Record{"id": uint32(1), "message": "oom", "created_at": time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
				), nil
			},
		},
		Agent: mockAgent{
			CompleteFunc: func(_ context.Context, _ string) (string, error) {
				return "", errors.New("api timeout")
			},
		},
		Vars: mockVars{
			GetFunc: func(_ context.Context, _ string) (string, error) {
				return "2025-01-01T00:00:00Z", nil
			},
			SetFunc: func(_ context.Context, _, value string) error {
				setCalls++
				assert.Equal(t, "2025-02-01T00:00:00Z", value)
				return nil
			},
		},
		Settings: testSettings(),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err, "agent failures never abort the run")

	assert.Equal(t, 1, setCalls, "watermark advances even when the agent is down")
	assert.Equal(t, FallbackReply, res.AgentReply)
	assert.True(t, res.Degraded)
}

func TestPipeline_Run_MissingWatermarkUsesEpoch(t *testing.T) {
	t.Parallel()

	var gotWatermark string

	p, err := New(&Config{
		Logger: testLogger(),
		Warehouse: mockWarehouse{
			SelectSinceFunc: func(_ context.Context, _, _, _, watermark string) (warehouse.Batch, error) {
				gotWatermark = watermark
				return batchOf(), nil
			},
		},
		Agent:    mockAgent{},
		Vars:     mockVars{},
		Settings: testSettings(),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, EpochWatermark, gotWatermark)
	assert.Equal(t, EpochWatermark, res.NewWatermark)
}

func TestPipeline_Run_EmptyNewWatermarkFailsCommit(t *testing.T) {
	t.Parallel()

	var setCalls int

	p, err := New(&Config{
		Logger: testLogger(),
		Warehouse: mockWarehouse{
			SelectSinceFunc: func(_ context.Context, _, _, _, _ string) (warehouse.Batch, error) {
				// Rows without a usable timestamp cell serialize to "".
				return batchOf(warehouse.Record{"id": uint32(1), "message": "broken"}), nil
			},
		},
		Agent: mockAgent{},
		Vars: mockVars{
			GetFunc: func(_ context.Context, _ string) (string, error) {
				return "2025-01-01T00:00:00Z", nil
			},
			SetFunc: func(_ context.Context, _, _ string) error {
				setCalls++
				return nil
			},
		},
		Settings: testSettings(),
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.ErrorContains(t, err, "no watermark to persist")
	assert.Equal(t, 0, setCalls, "an empty watermark must not be written")
}

func TestPipeline_Run_ExtractFailureIsFatal(t *testing.T) {
	t.Parallel()

	var agentCalls, setCalls, describeCalls int

	p, err := New(&Config{
		Logger: testLogger(),
		Warehouse: mockWarehouse{
			SelectSinceFunc: func(_ context.Context, _, _, _, _ string) (warehouse.Batch, error) {
				return warehouse.Batch{}, errors.New("code: 60, table does not exist")
			},
			DescribeFunc: func(_ context.Context, _, _ string) ([]warehouse.Column, error) {
				describeCalls++
				return []warehouse.Column{{Name: "id", Type: "UInt64"}}, nil
			},
		},
		Agent: mockAgent{
			CompleteFunc: func(_ context.Context, _ string) (string, error) {
				agentCalls++
				return "Hi", nil
			},
		},
		Vars: mockVars{
			SetFunc: func(_ context.Context, _, _ string) error {
				setCalls++
				return nil
			},
		},
		Settings: testSettings(),
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.ErrorContains(t, err, "failed to extract rows from reports.error_logs")

	assert.Equal(t, 1, describeCalls, "failed extraction logs the table shape")
	assert.Equal(t, 0, agentCalls)
	assert.Equal(t, 0, setCalls)
}

func TestPipeline_Run_WatermarkReadFailureIsFatal(t *testing.T) {
	t.Parallel()

	var queryCalls int

	p, err := New(&Config{
		Logger: testLogger(),
		Warehouse: mockWarehouse{
			SelectSinceFunc: func(_ context.Context, _, _, _, _ string) (warehouse.Batch, error) {
				queryCalls++
				return batchOf(), nil
			},
		},
		Agent: mockAgent{},
		Vars: mockVars{
			GetFunc: func(_ context.Context, _ string) (string, error) {
				return "", errors.New("store unavailable")
			},
		},
		Settings: testSettings(),
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.ErrorContains(t, err, "failed to read watermark")
	assert.Equal(t, 0, queryCalls)
}

func TestPipeline_Run_CommitFailureIsFatal(t *testing.T) {
	t.Parallel()

	p, err := New(&Config{
		Logger: testLogger(),
		Warehouse: mockWarehouse{
			SelectSinceFunc: func(_ context.Context, _, _, _, _ string) (warehouse.Batch, error) {
				return batchOf(
					warehouse.Record{"id": uint32(1), "message": "oom", "created_at": time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
				), nil
			},
		},
		Agent: mockAgent{},
		Vars: mockVars{
			GetFunc: func(_ context.Context, _ string) (string, error) {
				return "2025-01-01T00:00:00Z", nil
			},
			SetFunc: func(_ context.Context, _, _ string) error {
				return errors.New("disk full")
			},
		},
		Settings: testSettings(),
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.ErrorContains(t, err, "failed to persist watermark")
}

func TestPipeline_Run_StringTimestampsCompareLexically(t *testing.T) {
	t.Parallel()

	var gotValue string

	p, err := New(&Config{
		Logger: testLogger(),
		Warehouse: mockWarehouse{
			SelectSinceFunc: func(_ context.Context, _, _, _, _ string) (warehouse.Batch, error) {
				// The warehouse may hand back pre-serialized timestamps; the
				// lexically greatest one wins regardless of arrival order.
				return batchOf(
					warehouse.Record{"id": uint32(1), "created_at": "2025-03-02T00:00:00Z"},
					warehouse.Record{"id": uint32(2), "created_at": "2025-03-01T12:00:00Z"},
				), nil
			},
		},
		Agent: mockAgent{},
		Vars: mockVars{
			GetFunc: func(_ context.Context, _ string) (string, error) {
				return "2025-03-01T00:00:00Z", nil
			},
			SetFunc: func(_ context.Context, _, value string) error {
				gotValue = value
				return nil
			},
		},
		Settings: testSettings(),
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-03-02T00:00:00Z", gotValue)
}

func TestPipeline_Run_PromptCarriesPreamble(t *testing.T) {
	t.Parallel()

	var gotPrompt string

	p, err := New(&Config{
		Logger: testLogger(),
		Warehouse: mockWarehouse{
			SelectSinceFunc: func(_ context.Context, _, _, _, _ string) (warehouse.Batch, error) {
				return batchOf(
					warehouse.Record{"id": uint32(7), "message": "checksum mismatch", "created_at": time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)},
				), nil
			},
		},
		Agent: mockAgent{
			CompleteFunc: func(_ context.Context, prompt string) (string, error) {
				gotPrompt = prompt
				return "Hi", nil
			},
		},
		Vars:     mockVars{},
		Settings: testSettings(),
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gotPrompt, promptPreamble))
	assert.Contains(t, gotPrompt, `"message": "checksum mismatch"`)
}
