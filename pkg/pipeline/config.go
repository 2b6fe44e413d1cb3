package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidemarklabs/tidemark/pkg/vars"
)

// Variable keys for the externally stored settings.
const (
	VarWarehouseDatabase        = "warehouse_database"
	VarWarehouseTable           = "warehouse_table"
	VarWarehouseTimestampColumn = "warehouse_timestamp_column"
	VarAgentModel               = "agent_model"
	VarAgentMaxTokens           = "agent_max_tokens"
)

// Defaults applied when a settings variable is not set.
const (
	DefaultDatabase        = "reports"
	DefaultTable           = "error_logs"
	DefaultTimestampColumn = "created_at"
	DefaultAgentModel      = "claude-3-5-haiku-20241022"
	DefaultAgentMaxTokens  = 1024
)

// Settings holds the per-run scalars. They live in the variable store so they
// can change without a rebuild, and load once at startup.
type Settings struct {
	Database        string
	Table           string
	TimestampColumn string
	AgentModel      string
	AgentMaxTokens  int64
}

func (s *Settings) Validate() error {
	if s.Database == "" {
		return errors.New("database is required")
	}
	if s.Table == "" {
		return errors.New("table is required")
	}
	if s.TimestampColumn == "" {
		return errors.New("timestamp column is required")
	}
	if s.AgentModel == "" {
		return errors.New("agent model is required")
	}
	if s.AgentMaxTokens <= 0 {
		s.AgentMaxTokens = DefaultAgentMaxTokens
	}
	return nil
}

// LoadSettings reads the settings variables from the store, applying the
// default for any variable that is not set.
func LoadSettings(ctx context.Context, store vars.Store) (Settings, error) {
	var s Settings
	var err error

	if s.Database, err = vars.GetDefault(ctx, store, VarWarehouseDatabase, DefaultDatabase); err != nil {
		return Settings{}, fmt.Errorf("failed to load %s: %w", VarWarehouseDatabase, err)
	}
	if s.Table, err = vars.GetDefault(ctx, store, VarWarehouseTable, DefaultTable); err != nil {
		return Settings{}, fmt.Errorf("failed to load %s: %w", VarWarehouseTable, err)
	}
	if s.TimestampColumn, err = vars.GetDefault(ctx, store, VarWarehouseTimestampColumn, DefaultTimestampColumn); err != nil {
		return Settings{}, fmt.Errorf("failed to load %s: %w", VarWarehouseTimestampColumn, err)
	}
	if s.AgentModel, err = vars.GetDefault(ctx, store, VarAgentModel, DefaultAgentModel); err != nil {
		return Settings{}, fmt.Errorf("failed to load %s: %w", VarAgentModel, err)
	}

	maxTokens, err := vars.GetDefault(ctx, store, VarAgentMaxTokens, strconv.Itoa(DefaultAgentMaxTokens))
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load %s: %w", VarAgentMaxTokens, err)
	}
	if s.AgentMaxTokens, err = strconv.ParseInt(maxTokens, 10, 64); err != nil {
		return Settings{}, fmt.Errorf("invalid %s %q: %w", VarAgentMaxTokens, maxTokens, err)
	}

	return s, nil
}
