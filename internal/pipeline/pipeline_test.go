package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenwatch-labs/greenghost/internal/audit"
	"github.com/greenwatch-labs/greenghost/internal/model"
	"github.com/greenwatch-labs/greenghost/internal/state"
	"github.com/greenwatch-labs/greenghost/internal/testutil"
	"github.com/greenwatch-labs/greenghost/internal/warehouse"
)

func noop(int64) StepFunc {
	return func(context.Context) (int64, error) { return 0, nil }
}

func tracking(log *[]string, name string) StepFunc {
	return func(context.Context) (int64, error) {
		*log = append(*log, name)
		return 1, nil
	}
}

func failing(err error) StepFunc {
	return func(context.Context) (int64, error) { return 0, err }
}

func openStore(t *testing.T) state.Store {
	t.Helper()
	store := state.NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPipeline_Register_Errors(t *testing.T) {
	p := New(nil, "dev", testutil.NewTestLogger(t))

	require.Error(t, p.Register(Step{Run: noop(0)}), "unnamed step")

	require.NoError(t, p.Register(Step{Name: "a", Run: noop(0)}))
	err := p.Register(Step{Name: "a", Run: noop(0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = p.Register(Step{Name: "b", DependsOn: []string{"missing"}, Run: noop(0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")
}

func TestPipeline_Run_Order(t *testing.T) {
	p := New(openStore(t), "dev", testutil.NewTestLogger(t))

	var order []string
	require.NoError(t, p.Register(Step{Name: "master", Run: tracking(&order, "master")}))
	require.NoError(t, p.Register(Step{Name: "audit", DependsOn: []string{"master"}, Run: tracking(&order, "audit")}))
	require.NoError(t, p.Register(Step{Name: "model", DependsOn: []string{"audit"}, Run: tracking(&order, "model")}))

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"master", "audit", "model"}, order)
	assert.Equal(t, state.RunStatusCompleted, result.Status)
	assert.False(t, result.Failed())
	require.Len(t, result.Steps, 3)
	for _, sr := range result.Steps {
		assert.Equal(t, state.StepStatusSuccess, sr.Status)
	}
}

func TestPipeline_SkipDownstreamOnFailure(t *testing.T) {
	store := openStore(t)
	p := New(store, "dev", testutil.NewTestLogger(t))

	var order []string
	boom := errors.New("no such table")
	require.NoError(t, p.Register(Step{Name: "master", Run: tracking(&order, "master")}))
	require.NoError(t, p.Register(Step{Name: "audit", DependsOn: []string{"master"}, Run: failing(boom)}))
	require.NoError(t, p.Register(Step{Name: "model", DependsOn: []string{"audit"}, Run: tracking(&order, "model")}))
	require.NoError(t, p.Register(Step{Name: "report", DependsOn: []string{"model"}, Run: tracking(&order, "report")}))

	result, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	// Only the root step ran; the failure cascades as skips.
	assert.Equal(t, []string{"master"}, order)
	assert.True(t, result.Failed())

	statuses := map[string]state.StepStatus{}
	for _, sr := range result.Steps {
		statuses[sr.Name] = sr.Status
	}
	assert.Equal(t, state.StepStatusSuccess, statuses["master"])
	assert.Equal(t, state.StepStatusFailed, statuses["audit"])
	assert.Equal(t, state.StepStatusSkipped, statuses["model"])
	assert.Equal(t, state.StepStatusSkipped, statuses["report"])

	// The store saw the same picture.
	run, err := store.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "no such table")

	stepRuns, err := store.GetStepRunsForRun(result.RunID)
	require.NoError(t, err)
	require.Len(t, stepRuns, 4)
}

func TestPipeline_RunSelected(t *testing.T) {
	p := New(nil, "dev", testutil.NewTestLogger(t))

	var order []string
	require.NoError(t, p.Register(Step{Name: "master", Run: tracking(&order, "master")}))
	require.NoError(t, p.Register(Step{Name: "audit", DependsOn: []string{"master"}, Run: tracking(&order, "audit")}))
	require.NoError(t, p.Register(Step{Name: "model", DependsOn: []string{"audit"}, Run: tracking(&order, "model")}))

	_, err := p.RunSelected(context.Background(), []string{"audit"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"audit"}, order)

	order = nil
	_, err = p.RunSelected(context.Background(), []string{"audit"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"audit", "model"}, order)

	_, err = p.RunSelected(context.Background(), []string{"nope"}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown step "nope"`)
}

func TestPipeline_Events(t *testing.T) {
	p := New(nil, "dev", testutil.NewTestLogger(t))
	require.NoError(t, p.Register(Step{Name: "master", Run: noop(0)}))
	require.NoError(t, p.Register(Step{Name: "audit", DependsOn: []string{"master"}, Run: failing(errors.New("boom"))}))

	var events []Event
	p.OnEvent(func(ev Event) { events = append(events, ev) })

	_, err := p.Run(context.Background())
	require.Error(t, err)

	// running + terminal per executed step.
	require.Len(t, events, 4)
	assert.Equal(t, state.StepStatusRunning, events[0].Status)
	assert.Equal(t, state.StepStatusSuccess, events[1].Status)
	assert.Equal(t, state.StepStatusFailed, events[3].Status)
	assert.Equal(t, "boom", events[3].Error)
}

func TestPipeline_Cancellation(t *testing.T) {
	p := New(nil, "dev", testutil.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Register(Step{Name: "master", Run: func(context.Context) (int64, error) {
		cancel()
		return 0, nil
	}}))
	require.NoError(t, p.Register(Step{Name: "audit", DependsOn: []string{"master"}, Run: noop(0)}))

	result, err := p.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, state.StepStatusSkipped, result.Steps[1].Status)
}

func writePipelineFixtures(t *testing.T, dir string) {
	t.Helper()

	var gem strings.Builder
	gem.WriteString("Project Name,Country/Area,Capacity (MW),Technology,Status,Start year,Latitude,Longitude\n")
	for i := 0; i < 6; i++ {
		gem.WriteString(fmt.Sprintf("Ghost %d,Kenya,%d,solar,operating,2021,-1.2%d,36.8%d\n", i, 100+i, i, i))
		gem.WriteString(fmt.Sprintf("Built %d,Vietnam,%d,wind,operating,2022,10.8%d,106.6%d\n", i, 50+i, i, i))
	}

	files := map[string]string{
		"gem_trackers_raw.csv":  gem.String(),
		"adb_projects_raw.csv":  "Country,Loan Amount USD M,Status\nKenya,100,approved\nVietnam,60,approved\n",
		"gcf_dashboard_raw.csv": "Project,Country,Financing USD M\nGCF Solar,Kenya,25\n",
		"ti_cpi_2024.csv":       "Country,CPI score 2024\nKenya,31\nVietnam,40\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

// nameProvider flags projects by name so the end-to-end dataset has two
// clean classes.
type nameProvider struct{}

func (nameProvider) NDVIChange(_ context.Context, req audit.Request, _ audit.Window) (float64, error) {
	if strings.HasPrefix(req.ProjectName, "Ghost") {
		return 0.01, nil
	}
	return 0.15, nil
}

func TestAssemble_EndToEnd(t *testing.T) {
	wh := warehouse.NewDuckDB()
	ctx := context.Background()
	require.NoError(t, wh.Connect(ctx, warehouse.Config{Path: ":memory:"}))
	defer func() { _ = wh.Close() }()

	dataDir := t.TempDir()
	reportDir := t.TempDir()
	writePipelineFixtures(t, dataDir)

	store := openStore(t)
	logger := testutil.NewTestLogger(t)
	p := New(store, "test", logger)
	require.NoError(t, Assemble(p, Assembly{
		Warehouse:    wh,
		DataDir:      dataDir,
		ReportDir:    reportDir,
		Provider:     nameProvider{},
		ForestConfig: model.ForestConfig{Trees: 20, Seed: 42},
	}, logger))

	names, err := p.StepNames()
	require.NoError(t, err)
	assert.Len(t, names, 6)
	assert.Equal(t, StepMaster, names[0])
	assert.Equal(t, StepReport, names[len(names)-1])

	result, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusCompleted, result.Status)

	for _, artifact := range []string{
		"model_metrics.json", "ghost_model.json", "impact_metrics.json",
		"final_green_ghost_index.csv", "final_green_ghost_index.json",
		"green_ghost_report.html",
	} {
		_, err := os.Stat(filepath.Join(reportDir, artifact))
		assert.NoError(t, err, artifact)
	}

	// All twelve projects audited, the six untouched ones flagged.
	var ghosts int
	require.NoError(t, wh.QueryRow(ctx, "SELECT COUNT(*) FROM audit_results WHERE is_ghost = 1").Scan(&ghosts))
	assert.Equal(t, 6, ghosts)
}
