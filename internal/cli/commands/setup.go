// Package commands implements the greenghost subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/greenwatch-labs/greenghost/internal/audit"
	"github.com/greenwatch-labs/greenghost/internal/cli/config"
	"github.com/greenwatch-labs/greenghost/internal/model"
	"github.com/greenwatch-labs/greenghost/internal/pipeline"
	"github.com/greenwatch-labs/greenghost/internal/state"
	"github.com/greenwatch-labs/greenghost/internal/warehouse"
)

// Package-level config and logger, set by the root command before any
// subcommand runs.
var (
	currentConfig *config.Config
	currentLogger *slog.Logger
)

// SetConfig stores the loaded configuration for subcommands.
func SetConfig(cfg *config.Config) {
	currentConfig = cfg
}

// SetLogger stores the logger for subcommands.
func SetLogger(logger *slog.Logger) {
	currentLogger = logger
}

func getConfig() *config.Config {
	return currentConfig
}

func getLogger() *slog.Logger {
	if currentLogger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return currentLogger
}

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg       *config.Config
	Logger    *slog.Logger
	Warehouse warehouse.Adapter
	Store     state.Store
}

// NewCommandContext opens the warehouse and state store for a command.
// Returns the context and a cleanup function that must be called (typically
// via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg := getConfig()
	if cfg == nil {
		return nil, nil, fmt.Errorf("configuration was not loaded")
	}
	logger := getLogger()

	settings := cfg.WarehouseSettings()
	if settings.Path != "" && settings.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(settings.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create warehouse directory: %w", err)
		}
	}

	wh, err := warehouse.New(settings)
	if err != nil {
		return nil, nil, err
	}
	if err := wh.Connect(cmd.Context(), settings); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to warehouse: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0o755); err != nil {
		_ = wh.Close()
		return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		_ = wh.Close()
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		_ = wh.Close()
		return nil, nil, fmt.Errorf("failed to migrate state store: %w", err)
	}

	cleanup := func() {
		_ = store.Close()
		_ = wh.Close()
	}

	return &CommandContext{
		Cfg:       cfg,
		Logger:    logger,
		Warehouse: wh,
		Store:     store,
	}, cleanup, nil
}

// BuildPipeline assembles the standard pipeline from the command context.
func (c *CommandContext) BuildPipeline() (*pipeline.Pipeline, error) {
	var provider audit.Provider = audit.NewSimulator()
	if c.Cfg.Audit.Provider == "http" {
		provider = audit.NewHTTPProvider(c.Cfg.Audit.BaseURL)
	}

	p := pipeline.New(c.Store, c.Cfg.Environment, c.Logger)
	err := pipeline.Assemble(p, pipeline.Assembly{
		Warehouse: c.Warehouse,
		DataDir:   c.Cfg.DataDir,
		ReportDir: c.Cfg.ReportDir,
		Provider:  provider,
		AuditOptions: audit.Options{
			Window: audit.Window{
				StartYear: c.Cfg.Audit.StartYear,
				EndYear:   c.Cfg.Audit.EndYear,
			},
			Threshold:   c.Cfg.Audit.Threshold,
			Concurrency: c.Cfg.Audit.Concurrency,
		},
		ForestConfig: model.ForestConfig{
			Trees: c.Cfg.Model.Trees,
			Seed:  c.Cfg.Model.Seed,
		},
		RiskThreshold: c.Cfg.Impact.RiskThreshold,
	}, c.Logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}
