package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with the given args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// newProject scaffolds a temp project with raw fixtures and returns the
// config path.
func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cfg := `
data_dir: data/raw
report_dir: reports
state_path: state.db
warehouse:
  type: duckdb
  path: warehouse.duckdb
`
	cfgPath := filepath.Join(dir, "greenghost.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	dataDir := filepath.Join(dir, "data", "raw")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	files := map[string]string{
		"gem_trackers_raw.csv": "Project Name,Country/Area,Capacity (MW),Technology,Status,Start year,Latitude,Longitude\n" +
			"Solar One,Kenya,120.5,solar,operating,2021,-1.28,36.82\n" +
			"Wind Two,Kenya,80,wind,announced,2023,-0.45,36.99\n" +
			"Hydro Three,Vietnam,200,hydro,construction,2022,21.02,105.84\n",
		"adb_projects_raw.csv":  "Country,Loan Amount USD M,Status\nKenya,100,approved\nVietnam,50,approved\n",
		"gcf_dashboard_raw.csv": "Project,Country,Financing USD M\nGCF Solar,Kenya,25\n",
		"ti_cpi_2024.csv":       "Country,CPI score 2024\nKenya,31\nVietnam,40\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, name), []byte(content), 0o644))
	}

	return cfgPath
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "greenghost v")
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "initialized greenghost project")

	for _, path := range []string{"greenghost.yaml", "data/raw", "reports", ".greenghost"} {
		_, err := os.Stat(filepath.Join(dir, path))
		assert.NoError(t, err, path)
	}

	// A second init must not clobber the existing config.
	_, err = execute(t, "init", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestDAGCommand(t *testing.T) {
	cfgPath := newProject(t)

	out, err := execute(t, "dag", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "6 steps")
	assert.Contains(t, out, "master")
	assert.Contains(t, out, "report")
	assert.Contains(t, out, "after impact, index")
}

func TestIngestCommand(t *testing.T) {
	cfgPath := newProject(t)

	out, err := execute(t, "ingest", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "master dataset built: 3 projects")
}

func TestRunCommand_SelectMaster(t *testing.T) {
	cfgPath := newProject(t)

	out, err := execute(t, "run", "--select", "master", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "-> master")
	assert.Contains(t, out, "master ok (3 rows)")
	assert.Contains(t, out, "completed")

	// The run is recorded.
	out, err = execute(t, "runs", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
}

func TestRunCommand_JSONEvents(t *testing.T) {
	cfgPath := newProject(t)

	out, err := execute(t, "run", "--select", "master", "--json", "--config", cfgPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2, "running + success events")
	var ev struct {
		Step   string `json:"step"`
		Status string `json:"status"`
		Rows   int64  `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, "master", ev.Step)
	assert.Equal(t, "success", ev.Status)
	assert.Equal(t, int64(3), ev.Rows)
}

func TestBrowseCommand_NoRuns(t *testing.T) {
	cfgPath := newProject(t)

	out, err := execute(t, "browse", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "no runs recorded yet")
}

func TestRunCommand_MissingData(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "greenghost.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("data_dir: data/raw\n"), 0o644))

	_, err := execute(t, "run", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data directory does not exist")
}

func TestDoctorCommand_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data", "raw"), 0o755))
	cfgPath := filepath.Join(dir, "greenghost.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("data_dir: data/raw\n"), 0o644))

	out, err := execute(t, "doctor", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL  raw data files")
	assert.Contains(t, out, "ok    configuration")
}

func TestDoctorCommand_Healthy(t *testing.T) {
	cfgPath := newProject(t)

	out, err := execute(t, "doctor", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "all checks passed")
}
