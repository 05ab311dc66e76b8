package config

import (
	"fmt"
	"os"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.ReportDir == "" {
		return fmt.Errorf("report_dir is required")
	}

	switch c.Audit.Provider {
	case "simulate":
	case "http":
		if c.Audit.BaseURL == "" {
			return fmt.Errorf("audit.base_url is required when audit.provider is http")
		}
	default:
		return fmt.Errorf("audit.provider must be simulate or http, got %q", c.Audit.Provider)
	}

	if c.Audit.StartYear >= c.Audit.EndYear {
		return fmt.Errorf("audit.start_year (%d) must be before audit.end_year (%d)", c.Audit.StartYear, c.Audit.EndYear)
	}
	if c.Audit.Threshold < 0 || c.Audit.Threshold > 1 {
		return fmt.Errorf("audit.threshold must be between 0 and 1, got %g", c.Audit.Threshold)
	}
	if c.Impact.RiskThreshold < 0 || c.Impact.RiskThreshold > 1 {
		return fmt.Errorf("impact.risk_threshold must be between 0 and 1, got %g", c.Impact.RiskThreshold)
	}
	if c.Model.Trees <= 0 {
		return fmt.Errorf("model.trees must be positive, got %d", c.Model.Trees)
	}

	return nil
}

// ValidateDataDir checks that the raw data directory exists. Kept separate
// from Validate so help and init commands work before any data is in place.
func (c *Config) ValidateDataDir() error {
	if _, err := os.Stat(c.DataDir); os.IsNotExist(err) {
		return fmt.Errorf("data directory does not exist: %s\nHint: create it or point data_dir at your raw CSV files", c.DataDir)
	}
	return nil
}
