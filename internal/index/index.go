// Package index assembles the final ranked project list: every project with
// its risk score, audit label and financials, sorted riskiest first, written
// as CSV plus a coordinate-only JSON feed for map rendering.
package index

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/greenwatch-labs/greenghost/internal/warehouse"
)

// Output file names under the report directory.
const (
	CSVName = "final_green_ghost_index.csv"
	MapName = "final_green_ghost_index.json"
)

// Entry is one ranked project.
type Entry struct {
	ProjectKey       string
	ProjectName      string
	Country          string
	Latitude         sql.NullFloat64
	Longitude        sql.NullFloat64
	GhostRiskScore   sql.NullFloat64
	IsGhost          sql.NullInt64
	FundedCapacityMW sql.NullFloat64
	ProjectType      sql.NullString
	TotalLoanUSD     sql.NullFloat64
	AuditLabel       sql.NullString
}

// Band classifies a risk score for display.
func Band(score float64) string {
	switch {
	case score > 0.8:
		return "High"
	case score > 0.6:
		return "Medium"
	default:
		return "Low"
	}
}

// mapRecord is the slim per-project shape consumed by the report map.
type mapRecord struct {
	ProjectName    string  `json:"project_name"`
	Country        string  `json:"country"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	GhostRiskScore float64 `json:"ghost_risk_score"`
}

// Indexer builds and persists the final index.
type Indexer struct {
	wh        warehouse.Adapter
	reportDir string
	logger    *slog.Logger
}

// NewIndexer creates an Indexer writing under reportDir.
func NewIndexer(wh warehouse.Adapter, reportDir string, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Indexer{wh: wh, reportDir: reportDir, logger: logger}
}

// Run queries the scored portfolio and writes the CSV and map JSON.
// Returns the ranked entries.
func (ix *Indexer) Run(ctx context.Context) ([]Entry, error) {
	entries, err := ix.Load(ctx)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(ix.reportDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := ix.writeCSV(entries); err != nil {
		return nil, err
	}
	if err := ix.writeMapJSON(entries); err != nil {
		return nil, err
	}

	ix.logger.Info("final index written", "projects", len(entries), "dir", ix.reportDir)
	return entries, nil
}

// Load reads the ranked portfolio without writing files. Unscored projects
// sort last, ties break on project name for stable output.
func (ix *Indexer) Load(ctx context.Context) ([]Entry, error) {
	rows, err := ix.wh.Query(ctx, `
		SELECT
			p.project_key, p.project_name, p.country,
			p.latitude, p.longitude,
			s.ghost_risk_score, p.is_ghost,
			p.funded_capacity_mw, p.project_type, p.total_loan_usd,
			p.audit_label
		FROM audited_projects p
		LEFT JOIN ghost_scores s ON s.project_key = p.project_key
		ORDER BY s.ghost_risk_score DESC NULLS LAST, p.project_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to read scored portfolio: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ProjectKey, &e.ProjectName, &e.Country,
			&e.Latitude, &e.Longitude,
			&e.GhostRiskScore, &e.IsGhost,
			&e.FundedCapacityMW, &e.ProjectType, &e.TotalLoanUSD,
			&e.AuditLabel,
		); err != nil {
			return nil, fmt.Errorf("failed to scan index entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index entries: %w", err)
	}

	return entries, nil
}

func (ix *Indexer) writeCSV(entries []Entry) error {
	path := filepath.Join(ix.reportDir, CSVName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create index CSV: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	header := []string{
		"project_key", "project_name", "country", "latitude", "longitude",
		"ghost_risk_score", "is_ghost", "funded_capacity_mw",
		"project_type", "total_loan_usd", "audit_status",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		record := []string{
			e.ProjectKey,
			e.ProjectName,
			e.Country,
			fmtFloat(e.Latitude),
			fmtFloat(e.Longitude),
			fmtFloat(e.GhostRiskScore),
			fmtInt(e.IsGhost),
			fmtFloat(e.FundedCapacityMW),
			e.ProjectType.String,
			fmtFloat(e.TotalLoanUSD),
			e.AuditLabel.String,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush index CSV: %w", err)
	}
	return nil
}

func (ix *Indexer) writeMapJSON(entries []Entry) error {
	records := make([]mapRecord, 0, len(entries))
	for _, e := range entries {
		if !e.Latitude.Valid || !e.Longitude.Valid {
			continue
		}
		records = append(records, mapRecord{
			ProjectName:    e.ProjectName,
			Country:        e.Country,
			Latitude:       e.Latitude.Float64,
			Longitude:      e.Longitude.Float64,
			GhostRiskScore: e.GhostRiskScore.Float64,
		})
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal map records: %w", err)
	}
	path := filepath.Join(ix.reportDir, MapName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write map JSON: %w", err)
	}
	return nil
}

func fmtFloat(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'g', -1, 64)
}

func fmtInt(v sql.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}
