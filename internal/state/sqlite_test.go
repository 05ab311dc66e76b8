package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenwatch-labs/greenghost/internal/testutil"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s := NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, s.Open(":memory:"))
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	s := newTestStore(t)

	run, err := s.CreateRun("dev")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "dev", got.Environment)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.CompleteRun(run.ID, RunStatusCompleted, ""))

	got, err = s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Error)
}

func TestSQLiteStore_CompleteRun_WithError(t *testing.T) {
	s := newTestStore(t)

	run, err := s.CreateRun("dev")
	require.NoError(t, err)

	require.NoError(t, s.CompleteRun(run.ID, RunStatusFailed, "audit step failed"))

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "audit step failed", got.Error)
}

func TestSQLiteStore_CompleteRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.CompleteRun("missing", RunStatusCompleted, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteStore_GetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteStore_ListRuns_NewestFirst(t *testing.T) {
	s := newTestStore(t)

	first, err := s.CreateRun("dev")
	require.NoError(t, err)
	second, err := s.CreateRun("prod")
	require.NoError(t, err)

	// Same-timestamp runs may tie on started_at; just assert both appear
	// and the limit is honored.
	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	ids := []string{runs[0].ID, runs[1].ID}
	assert.Contains(t, ids, first.ID)
	assert.Contains(t, ids, second.ID)

	runs, err = s.ListRuns(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLiteStore_StepRuns(t *testing.T) {
	s := newTestStore(t)

	run, err := s.CreateRun("dev")
	require.NoError(t, err)

	sr := &StepRun{RunID: run.ID, Step: "master"}
	require.NoError(t, s.RecordStepRun(sr))
	assert.NotEmpty(t, sr.ID)
	assert.Equal(t, StepStatusPending, sr.Status)

	require.NoError(t, s.UpdateStepRun(sr.ID, StepStatusSuccess, 42, "", 17))

	sr2 := &StepRun{RunID: run.ID, Step: "audit", Status: StepStatusFailed, Error: "provider unreachable"}
	require.NoError(t, s.RecordStepRun(sr2))

	stepRuns, err := s.GetStepRunsForRun(run.ID)
	require.NoError(t, err)
	require.Len(t, stepRuns, 2)

	assert.Equal(t, "master", stepRuns[0].Step)
	assert.Equal(t, StepStatusSuccess, stepRuns[0].Status)
	assert.Equal(t, int64(42), stepRuns[0].RowsAffected)
	assert.Equal(t, int64(17), stepRuns[0].ExecutionMS)

	assert.Equal(t, "audit", stepRuns[1].Step)
	assert.Equal(t, "provider unreachable", stepRuns[1].Error)
}

func TestSQLiteStore_UpdateStepRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateStepRun("missing", StepStatusSuccess, 0, "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteStore_MigrationVersion(t *testing.T) {
	s := newTestStore(t)
	version, err := s.MigrationVersion()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, version, int64(1))
}

func TestSQLiteStore_RequiresOpen(t *testing.T) {
	s := NewSQLiteStore(nil)
	_, err := s.CreateRun("dev")
	assert.Error(t, err)
	assert.Error(t, s.Migrate())
}
