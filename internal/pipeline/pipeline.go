// Package pipeline orders the analysis steps as a dependency graph and runs
// them with per-step state tracking. A step failure skips everything
// downstream of it while unrelated branches keep running.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/greenwatch-labs/greenghost/internal/dag"
	"github.com/greenwatch-labs/greenghost/internal/state"
)

// StepFunc executes one pipeline step and returns the number of rows (or
// artifacts) it produced.
type StepFunc func(ctx context.Context) (int64, error)

// Step is a named unit of work with dependencies.
type Step struct {
	Name      string
	DependsOn []string
	Run       StepFunc
}

// Event is emitted as steps change status.
type Event struct {
	Time   time.Time        `json:"time"`
	Step   string           `json:"step"`
	Status state.StepStatus `json:"status"`
	Rows   int64            `json:"rows,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// StepResult records one executed (or skipped) step.
type StepResult struct {
	Name     string
	Status   state.StepStatus
	Rows     int64
	Err      error
	Duration time.Duration
}

// RunResult summarizes a pipeline run.
type RunResult struct {
	RunID  string
	Status state.RunStatus
	Steps  []StepResult
}

// Failed reports whether any step failed.
func (r *RunResult) Failed() bool {
	return r.Status == state.RunStatusFailed
}

// Pipeline holds registered steps and their graph.
type Pipeline struct {
	steps   map[string]Step
	graph   *dag.Graph
	store   state.Store
	env     string
	logger  *slog.Logger
	onEvent func(Event)
}

// New creates an empty pipeline. The store may be nil, in which case runs
// are not persisted.
func New(store state.Store, env string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		steps:  map[string]Step{},
		graph:  dag.New(),
		store:  store,
		env:    env,
		logger: logger,
	}
}

// OnEvent installs a callback invoked for every step status change.
func (p *Pipeline) OnEvent(fn func(Event)) {
	p.onEvent = fn
}

// Register adds a step. Dependencies must already be registered.
func (p *Pipeline) Register(s Step) error {
	if s.Name == "" {
		return errors.New("step name is required")
	}
	if _, exists := p.steps[s.Name]; exists {
		return fmt.Errorf("step %q is already registered", s.Name)
	}
	for _, dep := range s.DependsOn {
		if _, ok := p.steps[dep]; !ok {
			return fmt.Errorf("step %q depends on unknown step %q", s.Name, dep)
		}
	}

	p.graph.AddNode(s.Name)
	for _, dep := range s.DependsOn {
		if err := p.graph.AddEdge(dep, s.Name); err != nil {
			return err
		}
	}
	p.steps[s.Name] = s
	return nil
}

// Graph exposes the dependency graph.
func (p *Pipeline) Graph() *dag.Graph {
	return p.graph
}

// StepNames returns all registered steps in execution order.
func (p *Pipeline) StepNames() ([]string, error) {
	return p.graph.TopologicalSort()
}

// Run executes every registered step.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	order, err := p.graph.TopologicalSort()
	if err != nil {
		return nil, err
	}
	return p.execute(ctx, order)
}

// RunSelected executes only the named steps, optionally extended to
// everything downstream of them. Execution still follows graph order.
func (p *Pipeline) RunSelected(ctx context.Context, selected []string, downstream bool) (*RunResult, error) {
	for _, name := range selected {
		if _, ok := p.steps[name]; !ok {
			return nil, fmt.Errorf("unknown step %q", name)
		}
	}

	wanted := map[string]bool{}
	for _, name := range selected {
		wanted[name] = true
	}
	if downstream {
		for _, name := range p.graph.Downstream(selected) {
			wanted[name] = true
		}
	}

	order, err := p.graph.TopologicalSort()
	if err != nil {
		return nil, err
	}
	var filtered []string
	for _, name := range order {
		if wanted[name] {
			filtered = append(filtered, name)
		}
	}
	return p.execute(ctx, filtered)
}

func (p *Pipeline) execute(ctx context.Context, order []string) (*RunResult, error) {
	result := &RunResult{Status: state.RunStatusCompleted}
	var runErrs []error

	if p.store != nil {
		run, err := p.store.CreateRun(p.env)
		if err != nil {
			return nil, fmt.Errorf("failed to create run record: %w", err)
		}
		result.RunID = run.ID
	}

	failed := map[string]bool{}
	for _, name := range order {
		step := p.steps[name]

		if blocker := p.failedParent(name, failed); blocker != "" {
			p.logger.Warn("skipping step", "step", name, "failed_dependency", blocker)
			failed[name] = true
			p.finishStep(result, StepResult{Name: name, Status: state.StepStatusSkipped})
			continue
		}
		if err := ctx.Err(); err != nil {
			runErrs = append(runErrs, err)
			failed[name] = true
			p.finishStep(result, StepResult{Name: name, Status: state.StepStatusSkipped, Err: err})
			continue
		}

		p.emit(Event{Time: time.Now(), Step: name, Status: state.StepStatusRunning})
		p.logger.Info("running step", "step", name)

		sr := &state.StepRun{RunID: result.RunID, Step: name, Status: state.StepStatusRunning}
		if p.store != nil {
			if err := p.store.RecordStepRun(sr); err != nil {
				p.logger.Warn("failed to record step run", "step", name, "error", err)
			}
		}

		start := time.Now()
		rows, err := step.Run(ctx)
		elapsed := time.Since(start)

		res := StepResult{Name: name, Rows: rows, Duration: elapsed}
		if err != nil {
			p.logger.Error("step failed", "step", name, "error", err, "duration", elapsed)
			runErrs = append(runErrs, fmt.Errorf("step %s: %w", name, err))
			failed[name] = true
			res.Status = state.StepStatusFailed
			res.Err = err
		} else {
			p.logger.Info("step completed", "step", name, "rows", rows, "duration", elapsed)
			res.Status = state.StepStatusSuccess
		}
		p.updateStep(sr.ID, res)
		p.finishStep(result, res)
	}

	if len(runErrs) > 0 {
		result.Status = state.RunStatusFailed
	}
	if p.store != nil {
		var msg string
		if len(runErrs) > 0 {
			msg = errors.Join(runErrs...).Error()
		}
		if err := p.store.CompleteRun(result.RunID, result.Status, msg); err != nil {
			runErrs = append(runErrs, fmt.Errorf("failed to complete run record: %w", err))
		}
	}

	return result, errors.Join(runErrs...)
}

// failedParent returns the name of a failed or skipped direct dependency,
// or the empty string when the step can run.
func (p *Pipeline) failedParent(name string, failed map[string]bool) string {
	for _, parent := range p.graph.Parents(name) {
		if failed[parent] {
			return parent
		}
	}
	return ""
}

// finishStep appends the result, emits its event and, for steps that never
// started, writes the terminal step record.
func (p *Pipeline) finishStep(result *RunResult, res StepResult) {
	result.Steps = append(result.Steps, res)
	if res.Status == state.StepStatusFailed {
		result.Status = state.RunStatusFailed
	}

	ev := Event{Time: time.Now(), Step: res.Name, Status: res.Status, Rows: res.Rows}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	p.emit(ev)

	if p.store != nil && res.Status == state.StepStatusSkipped {
		sr := &state.StepRun{RunID: result.RunID, Step: res.Name, Status: state.StepStatusSkipped}
		if res.Err != nil {
			sr.Error = res.Err.Error()
		}
		if err := p.store.RecordStepRun(sr); err != nil {
			p.logger.Warn("failed to record skipped step", "step", res.Name, "error", err)
		}
	}
}

func (p *Pipeline) updateStep(id string, res StepResult) {
	if p.store == nil || id == "" {
		return
	}
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	if err := p.store.UpdateStepRun(id, res.Status, res.Rows, errMsg, res.Duration.Milliseconds()); err != nil {
		p.logger.Warn("failed to update step run", "step", res.Name, "error", err)
	}
}

func (p *Pipeline) emit(ev Event) {
	if p.onEvent != nil {
		p.onEvent(ev)
	}
}
