// Package state provides run bookkeeping for the pipeline using SQLite.
// Every pipeline invocation creates a run with per-step records, so past
// executions can be listed and inspected after the fact.
package state

import "time"

// RunStatus represents the status of a pipeline run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run represents a single pipeline invocation.
type Run struct {
	ID          string
	Environment string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// StepStatus represents the status of a single step within a run.
type StepStatus string

// Step statuses.
const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// StepRun records the execution of one pipeline step within a run.
type StepRun struct {
	ID           string
	RunID        string
	Step         string
	Status       StepStatus
	RowsAffected int64
	Error        string
	ExecutionMS  int64
	CreatedAt    time.Time
}

// Store is the interface for run state persistence.
type Store interface {
	// Open opens the store at the given path (":memory:" for in-memory).
	Open(path string) error
	// Close closes the store.
	Close() error
	// Migrate applies pending schema migrations.
	Migrate() error

	// CreateRun starts a new run record in the running state.
	CreateRun(env string) (*Run, error)
	// CompleteRun finalizes a run with the given status and optional error.
	CompleteRun(id string, status RunStatus, errMsg string) error
	// GetRun retrieves a run by ID.
	GetRun(id string) (*Run, error)
	// ListRuns returns the most recent runs, newest first.
	ListRuns(limit int) ([]*Run, error)

	// RecordStepRun inserts a step-run record, assigning its ID.
	RecordStepRun(sr *StepRun) error
	// UpdateStepRun updates status, row count, error and timing of a step run.
	UpdateStepRun(id string, status StepStatus, rowsAffected int64, errMsg string, executionMS int64) error
	// GetStepRunsForRun returns the step runs of a run in insertion order.
	GetStepRunsForRun(runID string) ([]*StepRun, error)
}
