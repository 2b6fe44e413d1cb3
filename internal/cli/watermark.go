package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidemarklabs/tidemark/pkg/pipeline"
	"github.com/tidemarklabs/tidemark/pkg/vars"
)

type WatermarkCmd struct{}

func NewWatermarkCmd() *WatermarkCmd {
	return &WatermarkCmd{}
}

func (c *WatermarkCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Inspect and edit the extraction watermark",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		c.getCommand(),
		c.setCommand(),
		c.clearCommand(),
	)

	return cmd
}

func (c *WatermarkCmd) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the current watermark",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			value, err := store.Get(ctx, pipeline.WatermarkKey)
			if errors.Is(err, vars.ErrNotFound) {
				fmt.Printf("%s is not set, runs extract from %s\n", pipeline.WatermarkKey, pipeline.EpochWatermark)
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read watermark: %w", err)
			}

			fmt.Println(value)
			return nil
		},
	}
}

func (c *WatermarkCmd) setCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <timestamp>",
		Short: "Set the watermark to an RFC 3339 timestamp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := args[0]
			if _, err := time.Parse(time.RFC3339, value); err != nil {
				return fmt.Errorf("invalid timestamp %q, expected RFC 3339 like %s", value, pipeline.EpochWatermark)
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

			if err := store.Set(ctx, pipeline.WatermarkKey, value); err != nil {
				return fmt.Errorf("failed to set watermark: %w", err)
			}

			fmt.Println("watermark set to", value)
			return nil
		},
	}
}

func (c *WatermarkCmd) clearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the watermark so the next run extracts from the epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if err := store.Delete(ctx, pipeline.WatermarkKey); err != nil {
				return fmt.Errorf("failed to clear watermark: %w", err)
			}

			fmt.Println("watermark cleared, next run extracts from", pipeline.EpochWatermark)
			return nil
		},
	}
}
