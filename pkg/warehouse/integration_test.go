package warehouse_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemarklabs/tidemark/pkg/warehouse"
	warehousetesting "github.com/tidemarklabs/tidemark/pkg/warehouse/testing"
)

func TestWarehouse_Integration_SelectSince(t *testing.T) {
	t.Parallel()
	testDB := warehousetesting.NewDefaultDB(t)
	ctx := context.Background()

	conn := testDB.Conn()
	require.NoError(t, conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reports.error_logs (
			id UInt64,
			message String,
			created_at DateTime('UTC')
		) ENGINE = MergeTree()
		ORDER BY created_at
	`))

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	batch, err := conn.PrepareBatch(ctx, "INSERT INTO reports.error_logs (id, message, created_at)")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, batch.Append(uint64(i+1), fmt.Sprintf("error %d", i+1), base.Add(time.Duration(i)*24*time.Hour)))
	}
	require.NoError(t, batch.Send())

	t.Run("rows_after_watermark", func(t *testing.T) {
		got, err := warehouse.SelectSince(ctx, conn, "reports", "error_logs", "created_at", "2025-01-01T12:00:00Z")
		require.NoError(t, err)

		require.Equal(t, 2, got.Count)
		assert.Equal(t, "error 2", got.Records[0]["message"])
		assert.Equal(t, "error 3", got.Records[1]["message"])

		first := warehouse.TimestampString(got.Records[0]["created_at"])
		last := warehouse.TimestampString(got.Records[1]["created_at"])
		assert.Equal(t, "2025-01-02T00:00:00Z", first)
		assert.Equal(t, "2025-01-03T00:00:00Z", last)
	})

	t.Run("epoch_watermark_returns_everything", func(t *testing.T) {
		got, err := warehouse.SelectSince(ctx, conn, "reports", "error_logs", "created_at", "1970-01-01T00:00:00Z")
		require.NoError(t, err)
		require.Equal(t, 3, got.Count)
	})

	t.Run("future_watermark_returns_nothing", func(t *testing.T) {
		got, err := warehouse.SelectSince(ctx, conn, "reports", "error_logs", "created_at", "2030-01-01T00:00:00Z")
		require.NoError(t, err)
		require.Equal(t, 0, got.Count)
	})

	t.Run("describe_lists_columns", func(t *testing.T) {
		columns, err := warehouse.Describe(ctx, conn, "reports", "error_logs")
		require.NoError(t, err)
		require.Len(t, columns, 3)
		assert.Equal(t, "id", columns[0].Name)
		assert.Equal(t, "UInt64", columns[0].Type)
	})
}
