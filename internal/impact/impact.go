// Package impact quantifies the damage: how much funded capital and capacity
// sits in projects that were either flagged by the audit or scored high risk
// by the model.
package impact

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/greenwatch-labs/greenghost/internal/warehouse"
)

// DefaultThreshold is the risk score at which a project counts as predicted
// at risk.
const DefaultThreshold = 0.8

// Metrics holds portfolio-level damage figures. Audited figures come from
// the satellite labels; predicted figures from the model scores.
type Metrics struct {
	RiskThreshold float64 `json:"risk_threshold"`
	TotalProjects int64   `json:"total_projects"`

	TotalPortfolioLoanUSD    float64 `json:"total_portfolio_loan_usd"`
	TotalPortfolioCapacityMW float64 `json:"total_portfolio_capacity_mw"`

	AuditedLostLoanUSD       float64 `json:"audited_lost_loan_usd"`
	AuditedLostCapacityMW    float64 `json:"audited_lost_capacity_mw"`
	AuditedGhostProjectCount int64   `json:"audited_ghost_project_count"`

	PredictedAtRiskLoanUSD      float64 `json:"predicted_at_risk_loan_usd"`
	PredictedAtRiskCapacityMW   float64 `json:"predicted_at_risk_capacity_mw"`
	PredictedAtRiskProjectCount int64   `json:"predicted_at_risk_project_count"`

	PctLoansAtRisk    float64 `json:"pct_loans_at_risk"`
	PctCapacityAtRisk float64 `json:"pct_capacity_at_risk"`
}

// Analyzer computes impact metrics over the audited and scored portfolio.
type Analyzer struct {
	wh        warehouse.Adapter
	reportDir string
	threshold float64
	logger    *slog.Logger
}

// NewAnalyzer creates an Analyzer. A zero threshold falls back to the
// default.
func NewAnalyzer(wh warehouse.Adapter, reportDir string, threshold float64, logger *slog.Logger) *Analyzer {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Analyzer{wh: wh, reportDir: reportDir, threshold: threshold, logger: logger}
}

// Run aggregates the portfolio and writes impact_metrics.json. Projects with
// no loan or capacity figure count as zero for the aggregation.
func (a *Analyzer) Run(ctx context.Context) (*Metrics, error) {
	m := &Metrics{RiskThreshold: a.threshold}

	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(COALESCE(p.total_loan_usd, 0)), 0),
			COALESCE(SUM(COALESCE(p.funded_capacity_mw, 0)), 0),
			COALESCE(SUM(CASE WHEN p.is_ghost = 1 THEN COALESCE(p.total_loan_usd, 0) ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN p.is_ghost = 1 THEN COALESCE(p.funded_capacity_mw, 0) ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN p.is_ghost = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN s.ghost_risk_score >= %g THEN COALESCE(p.total_loan_usd, 0) ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN s.ghost_risk_score >= %g THEN COALESCE(p.funded_capacity_mw, 0) ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN s.ghost_risk_score >= %g THEN 1 ELSE 0 END), 0)
		FROM audited_projects p
		LEFT JOIN ghost_scores s ON s.project_key = p.project_key`,
		a.threshold, a.threshold, a.threshold)

	if err := a.wh.QueryRow(ctx, query).Scan(
		&m.TotalProjects,
		&m.TotalPortfolioLoanUSD,
		&m.TotalPortfolioCapacityMW,
		&m.AuditedLostLoanUSD,
		&m.AuditedLostCapacityMW,
		&m.AuditedGhostProjectCount,
		&m.PredictedAtRiskLoanUSD,
		&m.PredictedAtRiskCapacityMW,
		&m.PredictedAtRiskProjectCount,
	); err != nil {
		return nil, fmt.Errorf("failed to aggregate portfolio impact: %w", err)
	}

	if m.TotalPortfolioLoanUSD > 0 {
		m.PctLoansAtRisk = m.PredictedAtRiskLoanUSD / m.TotalPortfolioLoanUSD
	}
	if m.TotalPortfolioCapacityMW > 0 {
		m.PctCapacityAtRisk = m.PredictedAtRiskCapacityMW / m.TotalPortfolioCapacityMW
	}

	a.logger.Info("impact measured",
		"total_projects", m.TotalProjects,
		"at_risk_projects", m.PredictedAtRiskProjectCount,
		"at_risk_loan_usd", m.PredictedAtRiskLoanUSD,
	)

	if err := os.MkdirAll(a.reportDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal impact metrics: %w", err)
	}
	path := filepath.Join(a.reportDir, "impact_metrics.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write impact metrics: %w", err)
	}

	return m, nil
}
