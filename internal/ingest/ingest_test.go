package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenwatch-labs/greenghost/internal/testutil"
	"github.com/greenwatch-labs/greenghost/internal/warehouse"
)

func TestProjectKey_Deterministic(t *testing.T) {
	a := ProjectKey("Solar One", "Kenya")
	b := ProjectKey("  solar one ", "KENYA")
	assert.Equal(t, a, b, "key must normalize case and whitespace")
	assert.Len(t, a, 32)

	c := ProjectKey("Solar One", "Vietnam")
	assert.NotEqual(t, a, c)
}

func TestMissingRequired(t *testing.T) {
	dir := t.TempDir()

	missing := MissingRequired(dir)
	assert.Len(t, missing, 4, "all required sources missing in empty dir")

	// The optional WJP file never counts as missing.
	for _, path := range missing {
		assert.NotContains(t, path, "wjp_rule_of_law")
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "gem_trackers_raw.csv"), []byte("a\n1\n"), 0o644))
	missing = MissingRequired(dir)
	assert.Len(t, missing, 3)
}

func writeRawFixtures(t *testing.T, dir string, withWJP bool) {
	t.Helper()

	files := map[string]string{
		"gem_trackers_raw.csv": "Project Name,Country/Area,Capacity (MW),Technology,Status,Start year,Latitude,Longitude\n" +
			"Solar One,Kenya,120.5,solar,operating,2021,-1.28,36.82\n" +
			"Wind Two,Kenya,80,wind,announced,2023,-0.45,36.99\n" +
			"Hydro Three,Vietnam,200,hydro,construction,2022,21.02,105.84\n",
		"adb_projects_raw.csv": "Country,Loan Amount USD M,Status\n" +
			"Kenya,100,approved\n" +
			"Kenya,300,approved\n" +
			"Vietnam,50,approved\n",
		"gcf_dashboard_raw.csv": "Project,Country,Financing USD M\n" +
			"GCF Solar,Kenya,25\n",
		"ti_cpi_2024.csv": "Country,CPI score 2024\n" +
			"Kenya,31\n" +
			"Vietnam,40\n",
	}
	if withWJP {
		files["wjp_rule_of_law.csv"] = "Country,Rule of law score\nKenya,0.45\nVietnam,0.49\n"
	}

	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func TestLoader_Run_BuildsMaster(t *testing.T) {
	dir := t.TempDir()
	writeRawFixtures(t, dir, false)

	wh := warehouse.NewDuckDB()
	ctx := context.Background()
	require.NoError(t, wh.Connect(ctx, warehouse.Config{Path: ":memory:"}))
	defer func() { _ = wh.Close() }()

	loader := NewLoader(wh, dir, testutil.NewTestLogger(t))
	count, err := loader.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// CPI joined by country.
	var cpi float64
	require.NoError(t, wh.QueryRow(ctx,
		"SELECT cpi_score FROM master_projects WHERE project_name = 'Solar One'").Scan(&cpi))
	assert.InDelta(t, 31, cpi, 1e-9)

	// ADB loan is the country mean, not a project-level value.
	var loan float64
	require.NoError(t, wh.QueryRow(ctx,
		"SELECT total_loan_usd FROM master_projects WHERE project_name = 'Wind Two'").Scan(&loan))
	assert.InDelta(t, 200, loan, 1e-9)

	// Project key matches the Go-side derivation.
	var key string
	require.NoError(t, wh.QueryRow(ctx,
		"SELECT project_key FROM master_projects WHERE project_name = 'Solar One'").Scan(&key))
	assert.Equal(t, ProjectKey("Solar One", "Kenya"), key)

	// Rule of law stays NULL without the WJP file.
	var nulls int
	require.NoError(t, wh.QueryRow(ctx,
		"SELECT COUNT(*) FROM master_projects WHERE rule_of_law_score IS NULL").Scan(&nulls))
	assert.Equal(t, 3, nulls)
}

func TestLoader_Run_WithWJP(t *testing.T) {
	dir := t.TempDir()
	writeRawFixtures(t, dir, true)

	wh := warehouse.NewDuckDB()
	ctx := context.Background()
	require.NoError(t, wh.Connect(ctx, warehouse.Config{Path: ":memory:"}))
	defer func() { _ = wh.Close() }()

	loader := NewLoader(wh, dir, testutil.NewTestLogger(t))
	_, err := loader.Run(ctx)
	require.NoError(t, err)

	var rol float64
	require.NoError(t, wh.QueryRow(ctx,
		"SELECT rule_of_law_score FROM master_projects WHERE project_name = 'Hydro Three'").Scan(&rol))
	assert.InDelta(t, 0.49, rol, 1e-9)
}

func TestLoader_Run_MissingFiles(t *testing.T) {
	wh := warehouse.NewDuckDB()
	ctx := context.Background()
	require.NoError(t, wh.Connect(ctx, warehouse.Config{Path: ":memory:"}))
	defer func() { _ = wh.Close() }()

	loader := NewLoader(wh, t.TempDir(), testutil.NewTestLogger(t))
	_, err := loader.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required raw data files")
	assert.Contains(t, err.Error(), "gem_trackers_raw.csv")
}
