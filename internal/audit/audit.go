package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/greenwatch-labs/greenghost/internal/warehouse"
)

// activeStatuses are GEM statuses under which an empty site is suspicious:
// money moved and the project claims progress, yet nothing is visible.
var activeStatuses = map[string]bool{
	"operating":        true,
	"construction":     true,
	"pre-construction": true,
	"retired":          true,
}

// Labels applied by the audit.
const (
	StatusGhostFlagged = "Ghost Flagged"
	StatusActivity     = "Activity Visible/Inactive"
)

// Options configures an audit run.
type Options struct {
	Window Window
	// Threshold is the NDVI change below which a site counts as untouched.
	Threshold float64
	// Concurrency bounds parallel provider lookups.
	Concurrency int
}

// Auditor runs the satellite audit over the master dataset.
type Auditor struct {
	wh       warehouse.Adapter
	provider Provider
	opts     Options
	logger   *slog.Logger
}

// NewAuditor creates an Auditor. Zero option fields get defaults
// (2020-2024 window, 0.05 threshold, 8 workers).
func NewAuditor(wh warehouse.Adapter, provider Provider, opts Options, logger *slog.Logger) *Auditor {
	if opts.Window.StartYear == 0 {
		opts.Window = Window{StartYear: 2020, EndYear: 2024}
	}
	if opts.Threshold == 0 {
		opts.Threshold = 0.05
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Auditor{wh: wh, provider: provider, opts: opts, logger: logger}
}

// Result is one audited project.
type Result struct {
	ProjectKey string
	NDVIChange float64
	IsGhost    bool
	Status     string
}

// Run audits every master project and materializes audit_results plus the
// audited_projects view. Returns (ghost count, audited rows).
func (a *Auditor) Run(ctx context.Context) (int64, int64, error) {
	requests, err := a.loadRequests(ctx)
	if err != nil {
		return 0, 0, err
	}

	a.logger.Info("running satellite audit",
		"projects", len(requests),
		"window_start", a.opts.Window.StartYear,
		"window_end", a.opts.Window.EndYear,
	)

	results := make([]Result, len(requests))
	var mu sync.Mutex
	failures := 0

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(a.opts.Concurrency)

	for i, req := range requests {
		eg.Go(func() error {
			change, err := a.provider.NDVIChange(egctx, req, a.opts.Window)
			if err != nil {
				// A failed lookup degrades to the no-data sentinel rather
				// than failing the whole audit.
				a.logger.Warn("NDVI lookup failed", "project", req.ProjectName, "error", err)
				change = NoData
				mu.Lock()
				failures++
				mu.Unlock()
			}
			results[i] = a.label(req, change)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, 0, err
	}

	// Deterministic output order regardless of scheduling.
	sort.Slice(results, func(i, j int) bool { return results[i].ProjectKey < results[j].ProjectKey })

	if err := a.materialize(ctx, results); err != nil {
		return 0, 0, err
	}

	var ghosts int64
	for _, r := range results {
		if r.IsGhost {
			ghosts++
		}
	}

	a.logger.Info("audit completed", "ghosts", ghosts, "failures", failures)
	return ghosts, int64(len(results)), nil
}

// label applies the ghost rules: an untouched site (change below threshold)
// under an active status is a ghost. Sentinel rows never flag.
func (a *Auditor) label(req Request, change float64) Result {
	isGhost := change != NoData && change < a.opts.Threshold && activeStatuses[req.Status]
	status := StatusActivity
	if isGhost {
		status = StatusGhostFlagged
	}
	return Result{
		ProjectKey: req.ProjectKey,
		NDVIChange: change,
		IsGhost:    isGhost,
		Status:     status,
	}
}

func (a *Auditor) loadRequests(ctx context.Context) ([]Request, error) {
	rows, err := a.wh.Query(ctx, `
		SELECT project_key, project_name, latitude, longitude, gem_status
		FROM master_projects
		ORDER BY project_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to read master projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var requests []Request
	for rows.Next() {
		var req Request
		var lat, lon sql.NullFloat64
		var status sql.NullString
		if err := rows.Scan(&req.ProjectKey, &req.ProjectName, &lat, &lon, &status); err != nil {
			return nil, fmt.Errorf("failed to scan master project: %w", err)
		}
		if lat.Valid && lon.Valid {
			req.Latitude = lat.Float64
			req.Longitude = lon.Float64
			req.HasCoords = true
		}
		req.Status = strings.ToLower(strings.TrimSpace(status.String))
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating master projects: %w", err)
	}

	return requests, nil
}

// insertBatchSize bounds the literal INSERT statements built below.
const insertBatchSize = 500

func (a *Auditor) materialize(ctx context.Context, results []Result) error {
	if err := a.wh.Exec(ctx, "DROP VIEW IF EXISTS audited_projects"); err != nil {
		return fmt.Errorf("failed to drop audit view: %w", err)
	}
	if err := a.wh.Exec(ctx, "DROP TABLE IF EXISTS audit_results"); err != nil {
		return fmt.Errorf("failed to drop audit table: %w", err)
	}
	if err := a.wh.Exec(ctx, `
		CREATE TABLE audit_results (
			project_key TEXT,
			ndvi_change_metric DOUBLE PRECISION,
			is_ghost INTEGER,
			audit_status TEXT
		)`); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}

	for start := 0; start < len(results); start += insertBatchSize {
		end := min(start+insertBatchSize, len(results))
		values := make([]string, 0, end-start)
		for _, r := range results[start:end] {
			ghost := 0
			if r.IsGhost {
				ghost = 1
			}
			values = append(values, fmt.Sprintf("('%s', %g, %d, '%s')",
				sqlEscape(r.ProjectKey), r.NDVIChange, ghost, sqlEscape(r.Status)))
		}
		query := "INSERT INTO audit_results VALUES " + strings.Join(values, ", ")
		if err := a.wh.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to insert audit results: %w", err)
		}
	}

	if err := a.wh.Exec(ctx, `
		CREATE VIEW audited_projects AS
		SELECT m.*, a.ndvi_change_metric, a.is_ghost, a.audit_status AS audit_label
		FROM master_projects m
		LEFT JOIN audit_results a ON a.project_key = m.project_key`); err != nil {
		return fmt.Errorf("failed to create audited view: %w", err)
	}

	return nil
}

func sqlEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
