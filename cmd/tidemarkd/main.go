package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/tidemarklabs/tidemark/pkg/agent"
	"github.com/tidemarklabs/tidemark/pkg/logger"
	"github.com/tidemarklabs/tidemark/pkg/metrics"
	"github.com/tidemarklabs/tidemark/pkg/pipeline"
	"github.com/tidemarklabs/tidemark/pkg/runner"
	"github.com/tidemarklabs/tidemark/pkg/vars"
	"github.com/tidemarklabs/tidemark/pkg/warehouse"

	_ "net/http/pprof"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultMetricsAddr            = ":2112"
	defaultMetricsShutdownTimeout = 10 * time.Second
	defaultClickHouseAddr         = "localhost:9000"
	defaultVarsDSN                = "tidemark.db"

	healthzTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := logger.New(cfg.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Start pprof server
	if cfg.EnablePprof {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			err := http.ListenAndServe("localhost:6060", nil)
			if err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		log.Warn("ANTHROPIC_API_KEY is not set, agent notifications will use the fallback reply")
	}

	store, err := vars.Open(ctx, log, cfg.VarsDSN)
	if err != nil {
		return fmt.Errorf("failed to open variable store: %w", err)
	}
	defer store.Close()

	settings, err := pipeline.LoadSettings(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to load pipeline settings: %w", err)
	}

	db, err := warehouse.New(ctx, log, cfg.ClickHouseAddr, cfg.ClickHouseDatabase, cfg.ClickHouseUsername, cfg.ClickHousePassword)
	if err != nil {
		return fmt.Errorf("failed to create warehouse client: %w", err)
	}
	defer db.Close()

	p, err := pipeline.New(&pipeline.Config{
		Logger:    log,
		Warehouse: warehouse.NewSource(log, db),
		Agent:     agent.NewAnthropic(settings.AgentModel, settings.AgentMaxTokens),
		Vars:      store,
		Settings:  settings,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	r, err := runner.New(&runner.Config{
		Logger:     log,
		Pipeline:   p,
		Interval:   cfg.Interval,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	// Start prometheus metrics server
	var metricsErrCh <-chan error
	if cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		metricsErrCh = startMetricsServer(ctx, log, cfg.MetricsAddr, defaultMetricsShutdownTimeout, db, r)
	}

	log.Info("starting tidemarkd",
		"database", settings.Database,
		"table", settings.Table,
		"timestampColumn", settings.TimestampColumn,
		"model", settings.AgentModel,
		"once", cfg.Once,
	)

	if cfg.Once {
		if err := r.RunOnce(ctx); err != nil {
			return fmt.Errorf("run failed: %w", err)
		}
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx)
	}()

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("runner error: %w", err)
			}
			log.Info("runner stopped")
			return nil
		case err, ok := <-metricsErrCh:
			if ok && err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
			metricsErrCh = nil
		case <-ctx.Done():
			return nil
		}
	}
}

func startMetricsServer(ctx context.Context, log *slog.Logger, addr string, shutdownTimeout time.Duration, db warehouse.DB, r *runner.Runner) <-chan error {
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			errCh <- err
			return
		}
		defer listener.Close()

		log.Info("prometheus metrics server listening", "address", listener.Addr().String())

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
			hctx, cancel := context.WithTimeout(req.Context(), healthzTimeout)
			defer cancel()

			if err := pingWarehouse(hctx, db); err != nil {
				log.Error("health check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("unhealthy: warehouse connection failed"))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/statusz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(r.LastRun()); err != nil {
				log.Error("failed to encode run status", "error", err)
			}
		})

		httpSrv := &http.Server{Handler: mux}

		go func() {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = httpSrv.Shutdown(sctx)
		}()

		err = httpSrv.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return
		}
		if err != nil {
			errCh <- err
		}
	}()

	return errCh
}

func pingWarehouse(ctx context.Context, db warehouse.DB) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Ping(ctx)
}

type Config struct {
	ShowVersion bool
	Verbose     bool
	EnablePprof bool
	MetricsAddr string
	Once        bool

	// Schedule configuration
	Interval   time.Duration
	MaxRetries int
	RetryDelay time.Duration

	// ClickHouse configuration
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string

	// Variable store configuration
	VarsDSN string
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return i, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return d, nil
}

func loadConfig(args []string) (Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	interval, err := getenvDuration("TIDEMARK_INTERVAL", runner.DefaultInterval)
	if err != nil {
		return Config{}, err
	}
	retryDelay, err := getenvDuration("TIDEMARK_RETRY_DELAY", runner.DefaultRetryDelay)
	if err != nil {
		return Config{}, err
	}
	maxRetries, err := getenvInt("TIDEMARK_MAX_RETRIES", runner.DefaultMaxRetries)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	fs := flag.NewFlagSet("tidemarkd", flag.ContinueOnError)

	fs.BoolVar(&cfg.ShowVersion, "version", false, "show version and exit")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "verbose mode - show debug logs")
	fs.BoolVar(&cfg.EnablePprof, "enable-pprof", false, "enable pprof server")
	fs.BoolVar(&cfg.Once, "once", false, "execute a single run and exit")

	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", getenv("TIDEMARK_METRICS_ADDR", defaultMetricsAddr), "address for prometheus metrics (env: TIDEMARK_METRICS_ADDR)")

	// Schedule configuration
	fs.DurationVar(&cfg.Interval, "interval", interval, "time between scheduled runs (env: TIDEMARK_INTERVAL)")
	fs.IntVar(&cfg.MaxRetries, "max-retries", maxRetries, "additional attempts after a failed run (env: TIDEMARK_MAX_RETRIES)")
	fs.DurationVar(&cfg.RetryDelay, "retry-delay", retryDelay, "fixed wait between run attempts (env: TIDEMARK_RETRY_DELAY)")

	// ClickHouse configuration
	fs.StringVar(&cfg.ClickHouseAddr, "clickhouse-addr", getenv("TIDEMARK_CLICKHOUSE_ADDR", defaultClickHouseAddr), "clickhouse address (env: TIDEMARK_CLICKHOUSE_ADDR)")
	fs.StringVar(&cfg.ClickHouseDatabase, "clickhouse-database", getenv("TIDEMARK_CLICKHOUSE_DATABASE", "default"), "clickhouse database to authenticate against (env: TIDEMARK_CLICKHOUSE_DATABASE)")
	fs.StringVar(&cfg.ClickHouseUsername, "clickhouse-username", getenv("TIDEMARK_CLICKHOUSE_USERNAME", "default"), "clickhouse username (env: TIDEMARK_CLICKHOUSE_USERNAME)")
	fs.StringVar(&cfg.ClickHousePassword, "clickhouse-password", getenv("TIDEMARK_CLICKHOUSE_PASSWORD", ""), "clickhouse password (env: TIDEMARK_CLICKHOUSE_PASSWORD)")

	// Variable store configuration
	fs.StringVar(&cfg.VarsDSN, "vars-dsn", getenv("TIDEMARK_VARS_DSN", defaultVarsDSN), "variable store DSN, a postgres:// URL or a sqlite file path (env: TIDEMARK_VARS_DSN)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.ShowVersion {
		return cfg, nil
	}

	if cfg.ClickHouseAddr == "" {
		return Config{}, fmt.Errorf("clickhouse addr is empty (set TIDEMARK_CLICKHOUSE_ADDR or --clickhouse-addr)")
	}
	if cfg.VarsDSN == "" {
		return Config{}, fmt.Errorf("vars dsn is empty (set TIDEMARK_VARS_DSN or --vars-dsn)")
	}

	return cfg, nil
}
