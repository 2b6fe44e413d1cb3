// Package warehousetesting starts a throwaway ClickHouse container for
// integration tests. Tests that use it are skipped unless
// TIDEMARK_TEST_CONTAINERS=1.
package warehousetesting

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"github.com/tidemarklabs/tidemark/pkg/warehouse"
)

// EnvEnable names the environment variable that opts tests into running
// containers.
const EnvEnable = "TIDEMARK_TEST_CONTAINERS"

type DBConfig struct {
	Database       string
	Username       string
	Password       string
	Port           string
	ContainerImage string
}

type DB struct {
	warehouse.DB
	container *tcch.ClickHouseContainer
	t         testing.TB
}

func (db *DB) Close() {
	if err := db.DB.Close(); err != nil {
		db.t.Logf("failed to close ClickHouse: %v", err)
	}
}

func (cfg *DBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "reports"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.Port == "" {
		cfg.Port = "9000"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "clickhouse/clickhouse-server:latest"
	}
	return nil
}

func NewDefaultDB(t testing.TB) *DB {
	return NewDB(t, nil)
}

func NewDB(t testing.TB, cfg *DBConfig) *DB {
	if os.Getenv(EnvEnable) != "1" {
		t.Skipf("%s not set, skipping container test", EnvEnable)
	}

	ctx := t.Context()

	if cfg == nil {
		cfg = &DBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("failed to validate DB config: %v", err)
	}

	// Container start and first connection are both retried: docker and
	// ClickHouse each need a moment on cold runners.
	var container *tcch.ClickHouseContainer
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = tcch.Run(ctx,
			cfg.ContainerImage,
			tcch.WithDatabase(cfg.Database),
			tcch.WithUsername(cfg.Username),
			tcch.WithPassword(cfg.Password),
		)
		if err != nil {
			lastErr = err
			if isRetryableErr(err) && attempt < 3 {
				time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
				continue
			}
			require.NoError(t, err)
		}
		break
	}

	if container == nil {
		t.Fatalf("failed to start ClickHouse container after retries: %v", lastErr)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port := nat.Port(fmt.Sprintf("%s/tcp", cfg.Port))
	mappedPort, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	addr := fmt.Sprintf("%s:%s", host, mappedPort.Port())

	log := slog.Default()
	var whDB warehouse.DB
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		whDB, err = warehouse.New(ctx, log, addr, cfg.Database, cfg.Username, cfg.Password)
		if err != nil {
			if isRetryableErr(err) && attempt < 3 {
				time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
				continue
			}
			_ = container.Terminate(ctx)
			require.NoError(t, err)
		}
		break
	}

	db := &DB{
		DB:        whDB,
		container: container,
		t:         t,
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func (db *DB) Conn() warehouse.Conn {
	conn, err := db.DB.Conn(db.t.Context())
	require.NoError(db.t, err, "failed to get ClickHouse connection")
	return conn
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	for _, marker := range []string{
		"wait until ready",
		"mapped port",
		"timeout",
		"context deadline exceeded",
		"handshake",
		"packet",
		"failed to ping",
		"connection refused",
		"connection reset",
		"dial tcp",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
