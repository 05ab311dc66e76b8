package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenwatch-labs/greenghost/internal/ingest"
	"github.com/greenwatch-labs/greenghost/internal/testutil"
	"github.com/greenwatch-labs/greenghost/internal/warehouse"
)

func TestSimulator_Deterministic(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()
	w := Window{StartYear: 2020, EndYear: 2024}

	req := Request{ProjectKey: "abc123", Status: "operating"}
	a, err := sim.NDVIChange(ctx, req, w)
	require.NoError(t, err)
	b, err := sim.NDVIChange(ctx, req, w)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same key must draw the same metric")

	other, err := sim.NDVIChange(ctx, Request{ProjectKey: "def456", Status: "operating"}, w)
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestSimulator_Bands(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()
	w := Window{StartYear: 2020, EndYear: 2024}

	for i := 0; i < 50; i++ {
		key := string(rune('a' + i%26)) + string(rune('0'+i%10))
		got, err := sim.NDVIChange(ctx, Request{ProjectKey: key, Status: "cancelled"}, w)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, 0.001)
		assert.Less(t, got, 0.010, "never-started sites stay in the near-zero band")

		got, err = sim.NDVIChange(ctx, Request{ProjectKey: key, Status: "operating"}, w)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, 0.001)
		assert.Less(t, got, 0.200)
	}
}

// fixedProvider returns a canned metric per project key.
type fixedProvider struct {
	metrics map[string]float64
	errs    map[string]error
}

func (p *fixedProvider) NDVIChange(_ context.Context, req Request, _ Window) (float64, error) {
	if err, ok := p.errs[req.ProjectKey]; ok {
		return 0, err
	}
	return p.metrics[req.ProjectKey], nil
}

func setupMaster(t *testing.T, wh warehouse.Adapter) {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"gem_trackers_raw.csv": "Project Name,Country/Area,Capacity (MW),Technology,Status,Start year,Latitude,Longitude\n" +
			"Ghost Plant,Kenya,100,solar,operating,2021,-1.28,36.82\n" +
			"Real Plant,Kenya,50,wind,operating,2022,-0.45,36.99\n" +
			"Dead Plant,Vietnam,80,hydro,cancelled,2020,21.02,105.84\n" +
			"Dark Plant,Vietnam,60,solar,construction,2023,10.82,106.63\n",
		"adb_projects_raw.csv":  "Country,Loan Amount USD M,Status\nKenya,100,approved\nVietnam,50,approved\n",
		"gcf_dashboard_raw.csv": "Project,Country,Financing USD M\nGCF Solar,Kenya,25\n",
		"ti_cpi_2024.csv":       "Country,CPI score 2024\nKenya,31\nVietnam,40\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	loader := ingest.NewLoader(wh, dir, testutil.NewTestLogger(t))
	_, err := loader.Run(context.Background())
	require.NoError(t, err)
}

func TestAuditor_Run_Labels(t *testing.T) {
	wh := warehouse.NewDuckDB()
	ctx := context.Background()
	require.NoError(t, wh.Connect(ctx, warehouse.Config{Path: ":memory:"}))
	defer func() { _ = wh.Close() }()

	setupMaster(t, wh)

	ghostKey := ingest.ProjectKey("Ghost Plant", "Kenya")
	realKey := ingest.ProjectKey("Real Plant", "Kenya")
	deadKey := ingest.ProjectKey("Dead Plant", "Vietnam")
	darkKey := ingest.ProjectKey("Dark Plant", "Vietnam")

	provider := &fixedProvider{
		metrics: map[string]float64{
			ghostKey: 0.010, // active status, no activity on the ground
			realKey:  0.150, // active status, visible activity
			deadKey:  0.002, // inactive status, low change is expected
		},
		errs: map[string]error{
			darkKey: errors.New("persistent cloud cover"),
		},
	}

	auditor := NewAuditor(wh, provider, Options{}, testutil.NewTestLogger(t))
	ghosts, total, err := auditor.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ghosts)
	assert.Equal(t, int64(4), total)

	checkRow := func(key string, wantGhost int, wantStatus string) {
		t.Helper()
		var ghost int
		var status string
		require.NoError(t, wh.QueryRow(ctx,
			"SELECT is_ghost, audit_status FROM audit_results WHERE project_key = '"+key+"'").
			Scan(&ghost, &status))
		assert.Equal(t, wantGhost, ghost)
		assert.Equal(t, wantStatus, status)
	}

	checkRow(ghostKey, 1, StatusGhostFlagged)
	checkRow(realKey, 0, StatusActivity)
	checkRow(deadKey, 0, StatusActivity)
	checkRow(darkKey, 0, StatusActivity)

	// Failed lookups carry the sentinel, not a real metric.
	var metric float64
	require.NoError(t, wh.QueryRow(ctx,
		"SELECT ndvi_change_metric FROM audit_results WHERE project_key = '"+darkKey+"'").Scan(&metric))
	assert.Equal(t, NoData, metric)

	// The view joins audit labels back onto the master rows.
	var name string
	require.NoError(t, wh.QueryRow(ctx,
		"SELECT project_name FROM audited_projects WHERE is_ghost = 1").Scan(&name))
	assert.Equal(t, "Ghost Plant", name)
}

func TestAuditor_Run_Rerun(t *testing.T) {
	wh := warehouse.NewDuckDB()
	ctx := context.Background()
	require.NoError(t, wh.Connect(ctx, warehouse.Config{Path: ":memory:"}))
	defer func() { _ = wh.Close() }()

	setupMaster(t, wh)

	auditor := NewAuditor(wh, NewSimulator(), Options{Concurrency: 2}, testutil.NewTestLogger(t))
	_, first, err := auditor.Run(ctx)
	require.NoError(t, err)

	// A second run replaces, not appends.
	_, second, err := auditor.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var count int
	require.NoError(t, wh.QueryRow(ctx, "SELECT COUNT(*) FROM audit_results").Scan(&count))
	assert.Equal(t, int(first), count)
}

func TestHTTPProvider(t *testing.T) {
	means := map[string]float64{"2020-01-01": 0.62, "2024-01-01": 0.48}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/statistics", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("cloud_cover_lt"))
		mean := means[r.URL.Query().Get("start")]
		_ = json.NewEncoder(w).Encode(map[string]float64{"mean_ndvi": mean})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	req := Request{ProjectKey: "k", ProjectName: "Solar One", Latitude: -1.28, Longitude: 36.82, HasCoords: true}
	got, err := p.NDVIChange(context.Background(), req, Window{StartYear: 2020, EndYear: 2024})
	require.NoError(t, err)
	assert.InDelta(t, 0.14, got, 1e-9)
}

func TestHTTPProvider_Errors(t *testing.T) {
	p := NewHTTPProvider("http://unused")
	_, err := p.NDVIChange(context.Background(), Request{ProjectName: "No Coords"}, Window{StartYear: 2020, EndYear: 2024})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no coordinates")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p = NewHTTPProvider(srv.URL)
	req := Request{Latitude: 1, Longitude: 2, HasCoords: true}
	_, err = p.NDVIChange(context.Background(), req, Window{StartYear: 2020, EndYear: 2024})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"mean_ndvi": nil})
	}))
	defer srv2.Close()

	p = NewHTTPProvider(srv2.URL)
	_, err = p.NDVIChange(context.Background(), req, Window{StartYear: 2020, EndYear: 2024})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no NDVI data")
}
