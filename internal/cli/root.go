// Package cli implements the tidemark-admin command tree for inspecting and
// editing the variable store and the extraction watermark.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/tidemarklabs/tidemark/pkg/vars"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

const defaultVarsDSN = "tidemark.db"

func Run() ExitCode {
	// Load .env file if it exists
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "tidemark-admin",
		Short: "Admin CLI for the tidemark extraction pipeline.",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	var verbose bool
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set debug logging level")

	var varsDSN string
	rootCmd.PersistentFlags().StringVar(&varsDSN, "vars-dsn", getenv("TIDEMARK_VARS_DSN", defaultVarsDSN), "variable store DSN, a postgres:// URL or a sqlite file path (env: TIDEMARK_VARS_DSN)")

	rootCmd.AddCommand(
		NewWatermarkCmd().Command(),
		NewVarsCmd().Command(),
		NewDescribeCmd().Command(),
	)

	if err := rootCmd.Execute(); err != nil {
		return exitCodeError
	}

	return exitCodeSuccess
}

func newLogger(verbose bool) *slog.Logger {
	// Warn by default so command output stays clean.
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func loggerFromFlags(cmd *cobra.Command) (*slog.Logger, error) {
	verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	return newLogger(verbose), nil
}

func openStore(ctx context.Context, cmd *cobra.Command, log *slog.Logger) (vars.Store, error) {
	dsn, err := cmd.Root().PersistentFlags().GetString("vars-dsn")
	if err != nil {
		return nil, fmt.Errorf("failed to get vars-dsn flag: %w", err)
	}
	return vars.Open(ctx, log, dsn)
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
