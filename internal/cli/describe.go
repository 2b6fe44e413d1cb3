package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tidemarklabs/tidemark/pkg/pipeline"
	"github.com/tidemarklabs/tidemark/pkg/warehouse"
)

type DescribeCmd struct{}

func NewDescribeCmd() *DescribeCmd {
	return &DescribeCmd{}
}

func (c *DescribeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Show the shape of the table the pipeline extracts from",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := cmd.Flags().GetString("clickhouse-addr")
			if err != nil {
				return fmt.Errorf("failed to get clickhouse-addr flag: %w", err)
			}
			authDatabase, err := cmd.Flags().GetString("clickhouse-database")
			if err != nil {
				return fmt.Errorf("failed to get clickhouse-database flag: %w", err)
			}
			username, err := cmd.Flags().GetString("clickhouse-username")
			if err != nil {
				return fmt.Errorf("failed to get clickhouse-username flag: %w", err)
			}
			password, err := cmd.Flags().GetString("clickhouse-password")
			if err != nil {
				return fmt.Errorf("failed to get clickhouse-password flag: %w", err)
			}

			log, err := loggerFromFlags(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			store, err := openStore(ctx, cmd, log)
			if err != nil {
				return fmt.Errorf("failed to open variable store: %w", err)
			}
			defer store.Close()

			settings, err := pipeline.LoadSettings(ctx, store)
			if err != nil {
				return fmt.Errorf("failed to load pipeline settings: %w", err)
			}

			db, err := warehouse.New(ctx, log, addr, authDatabase, username, password)
			if err != nil {
				return fmt.Errorf("failed to create warehouse client: %w", err)
			}
			defer db.Close()

			source := warehouse.NewSource(log, db)
			columns, err := source.Describe(ctx, settings.Database, settings.Table)
			if err != nil {
				return fmt.Errorf("failed to describe %s.%s: %w", settings.Database, settings.Table, err)
			}

			fmt.Printf("%s.%s (timestamp column: %s)\n", settings.Database, settings.Table, settings.TimestampColumn)
			printColumns(columns)
			return nil
		},
	}

	cmd.Flags().String("clickhouse-addr", getenv("TIDEMARK_CLICKHOUSE_ADDR", "localhost:9000"), "clickhouse address (env: TIDEMARK_CLICKHOUSE_ADDR)")
	cmd.Flags().String("clickhouse-database", getenv("TIDEMARK_CLICKHOUSE_DATABASE", "default"), "clickhouse database to authenticate against (env: TIDEMARK_CLICKHOUSE_DATABASE)")
	cmd.Flags().String("clickhouse-username", getenv("TIDEMARK_CLICKHOUSE_USERNAME", "default"), "clickhouse username (env: TIDEMARK_CLICKHOUSE_USERNAME)")
	cmd.Flags().String("clickhouse-password", getenv("TIDEMARK_CLICKHOUSE_PASSWORD", ""), "clickhouse password (env: TIDEMARK_CLICKHOUSE_PASSWORD)")

	return cmd
}

func printColumns(columns []warehouse.Column) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetRowLine(true)
	table.SetHeader([]string{"Column", "Type"})

	for _, col := range columns {
		table.Append([]string{col.Name, col.Type})
	}
	table.Render()
}
