// Package config provides configuration management for the greenghost CLI.
//
// Configuration is layered: built-in defaults, then greenghost.yaml, then
// GREENGHOST_* environment variables, then command-line flags.
package config

import "github.com/greenwatch-labs/greenghost/internal/warehouse"

// Default configuration values.
const (
	DefaultDataDir   = "data/raw"
	DefaultReportDir = "reports"
	DefaultStateFile = ".greenghost/state.db"
	DefaultDatabase  = ".greenghost/warehouse.duckdb"
	DefaultEnv       = "dev"
)

// Config holds all CLI configuration options.
type Config struct {
	ProjectRoot string `koanf:"-"`

	DataDir     string `koanf:"data_dir"`
	ReportDir   string `koanf:"report_dir"`
	StatePath   string `koanf:"state_path"`
	Environment string `koanf:"environment"`
	Verbose     bool   `koanf:"verbose"`

	Warehouse WarehouseConfig `koanf:"warehouse"`
	Audit     AuditConfig     `koanf:"audit"`
	Model     ModelConfig     `koanf:"model"`
	Impact    ImpactConfig    `koanf:"impact"`
	UI        *UIConfig       `koanf:"ui"`
}

// WarehouseConfig selects and configures the analytical database.
type WarehouseConfig struct {
	Type     string `koanf:"type"`
	Path     string `koanf:"path"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	Schema   string `koanf:"schema"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
}

// AuditConfig configures the satellite audit step.
type AuditConfig struct {
	Provider    string  `koanf:"provider"`
	BaseURL     string  `koanf:"base_url"`
	StartYear   int     `koanf:"start_year"`
	EndYear     int     `koanf:"end_year"`
	Threshold   float64 `koanf:"threshold"`
	Concurrency int     `koanf:"concurrency"`
}

// ModelConfig configures the risk model.
type ModelConfig struct {
	Trees int   `koanf:"trees"`
	Seed  int64 `koanf:"seed"`
}

// ImpactConfig configures the impact analysis.
type ImpactConfig struct {
	RiskThreshold float64 `koanf:"risk_threshold"`
}

// UIConfig holds configuration for the report server.
type UIConfig struct {
	Port  int  `koanf:"port"`
	Watch bool `koanf:"watch"`
}

// DefaultUIConfig returns a UIConfig with default values.
func DefaultUIConfig() *UIConfig {
	return &UIConfig{Port: 4477}
}

// GetUIConfig returns the UI config with defaults applied for unset values.
func (c *Config) GetUIConfig() *UIConfig {
	if c.UI == nil {
		return DefaultUIConfig()
	}
	ui := c.UI
	if ui.Port == 0 {
		ui.Port = 4477
	}
	return ui
}

// WarehouseSettings converts the config into adapter settings.
func (c *Config) WarehouseSettings() warehouse.Config {
	return warehouse.Config{
		Type:     c.Warehouse.Type,
		Path:     c.Warehouse.Path,
		Host:     c.Warehouse.Host,
		Port:     c.Warehouse.Port,
		Database: c.Warehouse.Database,
		Schema:   c.Warehouse.Schema,
		User:     c.Warehouse.User,
		Password: c.Warehouse.Password,
	}
}
