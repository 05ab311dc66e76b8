package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/greenwatch-labs/greenghost/internal/audit"
	"github.com/greenwatch-labs/greenghost/internal/impact"
	"github.com/greenwatch-labs/greenghost/internal/index"
	"github.com/greenwatch-labs/greenghost/internal/ingest"
	"github.com/greenwatch-labs/greenghost/internal/model"
	"github.com/greenwatch-labs/greenghost/internal/report"
	"github.com/greenwatch-labs/greenghost/internal/warehouse"
)

// Standard step names.
const (
	StepMaster = "master"
	StepAudit  = "audit"
	StepModel  = "model"
	StepImpact = "impact"
	StepIndex  = "index"
	StepReport = "report"
)

// Assembly carries everything the standard steps need.
type Assembly struct {
	Warehouse     warehouse.Adapter
	DataDir       string
	ReportDir     string
	Provider      audit.Provider
	AuditOptions  audit.Options
	ForestConfig  model.ForestConfig
	RiskThreshold float64
}

// Assemble registers the standard analysis steps on p:
//
//	master -> audit -> model -> impact -> report
//	                        \-> index  ->/
func Assemble(p *Pipeline, a Assembly, logger *slog.Logger) error {
	if a.Provider == nil {
		a.Provider = audit.NewSimulator()
	}

	steps := []Step{
		{
			Name: StepMaster,
			Run: func(ctx context.Context) (int64, error) {
				return ingest.NewLoader(a.Warehouse, a.DataDir, logger).Run(ctx)
			},
		},
		{
			Name:      StepAudit,
			DependsOn: []string{StepMaster},
			Run: func(ctx context.Context) (int64, error) {
				_, total, err := audit.NewAuditor(a.Warehouse, a.Provider, a.AuditOptions, logger).Run(ctx)
				return total, err
			},
		},
		{
			Name:      StepModel,
			DependsOn: []string{StepAudit},
			Run: func(ctx context.Context) (int64, error) {
				m, err := model.NewBuilder(a.Warehouse, a.ReportDir, a.ForestConfig, logger).Run(ctx)
				if err != nil {
					return 0, err
				}
				return int64(m.TotalRows), nil
			},
		},
		{
			Name:      StepImpact,
			DependsOn: []string{StepModel},
			Run: func(ctx context.Context) (int64, error) {
				m, err := impact.NewAnalyzer(a.Warehouse, a.ReportDir, a.RiskThreshold, logger).Run(ctx)
				if err != nil {
					return 0, err
				}
				return m.TotalProjects, nil
			},
		},
		{
			Name:      StepIndex,
			DependsOn: []string{StepModel},
			Run: func(ctx context.Context) (int64, error) {
				entries, err := index.NewIndexer(a.Warehouse, a.ReportDir, logger).Run(ctx)
				if err != nil {
					return 0, err
				}
				return int64(len(entries)), nil
			},
		},
		{
			Name:      StepReport,
			DependsOn: []string{StepImpact, StepIndex},
			Run: func(ctx context.Context) (int64, error) {
				return generateReport(ctx, a, logger)
			},
		},
	}

	for _, s := range steps {
		if err := p.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// generateReport renders the HTML report from the artifacts the earlier
// steps left on disk plus the scored portfolio in the warehouse.
func generateReport(ctx context.Context, a Assembly, logger *slog.Logger) (int64, error) {
	var metrics model.Metrics
	if err := readJSON(filepath.Join(a.ReportDir, "model_metrics.json"), &metrics); err != nil {
		return 0, err
	}
	var impactMetrics impact.Metrics
	if err := readJSON(filepath.Join(a.ReportDir, "impact_metrics.json"), &impactMetrics); err != nil {
		return 0, err
	}
	entries, err := index.NewIndexer(a.Warehouse, a.ReportDir, logger).Load(ctx)
	if err != nil {
		return 0, err
	}

	if _, err := report.NewGenerator(a.ReportDir, logger).Generate(&metrics, &impactMetrics, entries); err != nil {
		return 0, err
	}
	return 1, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
