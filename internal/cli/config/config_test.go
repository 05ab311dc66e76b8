package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "greenghost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(dir, DefaultDataDir), cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, DefaultReportDir), cfg.ReportDir)
	assert.Equal(t, filepath.Join(dir, DefaultStateFile), cfg.StatePath)
	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, "duckdb", cfg.Warehouse.Type)
	assert.Equal(t, "simulate", cfg.Audit.Provider)
	assert.Equal(t, 2020, cfg.Audit.StartYear)
	assert.Equal(t, 2024, cfg.Audit.EndYear)
	assert.InDelta(t, 0.05, cfg.Audit.Threshold, 1e-9)
	assert.Equal(t, 100, cfg.Model.Trees)
	assert.Equal(t, int64(42), cfg.Model.Seed)
	assert.InDelta(t, 0.8, cfg.Impact.RiskThreshold, 1e-9)
	assert.Equal(t, 4477, cfg.GetUIConfig().Port)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
data_dir: raw_csvs
environment: prod
warehouse:
  type: postgres
  host: db.internal
  port: 5432
  database: greenghost
audit:
  provider: http
  base_url: https://ndvi.internal
  threshold: 0.03
ui:
  port: 9999
  watch: true
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "raw_csvs"), cfg.DataDir)
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "postgres", cfg.Warehouse.Type)
	assert.Equal(t, "db.internal", cfg.Warehouse.Host)
	assert.Equal(t, "http", cfg.Audit.Provider)
	assert.InDelta(t, 0.03, cfg.Audit.Threshold, 1e-9)
	assert.Equal(t, 9999, cfg.GetUIConfig().Port)
	assert.True(t, cfg.GetUIConfig().Watch)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "environment: dev\n")

	t.Setenv("GREENGHOST_ENVIRONMENT", "staging")
	t.Setenv("GREENGHOST_AUDIT__THRESHOLD", "0.1")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.InDelta(t, 0.1, cfg.Audit.Threshold, 1e-9)
}

func TestLoad_FlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "environment: dev\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("environment", "", "")
	flags.String("database", "", "")
	flags.String("state", "", "")
	require.NoError(t, flags.Parse([]string{
		"--environment", "prod",
		"--database", ":memory:",
		"--state", "custom/state.db",
	}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, ":memory:", cfg.Warehouse.Path)
	assert.Equal(t, filepath.Join(dir, "custom/state.db"), cfg.StatePath)
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad provider", "audit:\n  provider: sorcery\n", "audit.provider"},
		{"http without url", "audit:\n  provider: http\n", "audit.base_url"},
		{"inverted window", "audit:\n  start_year: 2025\n  end_year: 2020\n", "start_year"},
		{"threshold range", "audit:\n  threshold: 1.5\n", "audit.threshold"},
		{"risk threshold range", "impact:\n  risk_threshold: -0.2\n", "impact.risk_threshold"},
		{"no trees", "model:\n  trees: 0\n", "model.trees"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tc.yaml)
			_, err := Load(path, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateDataDir(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{DataDir: filepath.Join(dir, "missing")}
	require.Error(t, cfg.ValidateDataDir())

	cfg.DataDir = dir
	require.NoError(t, cfg.ValidateDataDir())
}
