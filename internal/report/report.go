// Package report renders the final HTML report from the model metrics,
// impact figures and ranked index.
package report

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/greenwatch-labs/greenghost/internal/impact"
	"github.com/greenwatch-labs/greenghost/internal/index"
	"github.com/greenwatch-labs/greenghost/internal/model"
)

//go:embed template.html
var templateFS embed.FS

// OutputName is the report file written under the report directory.
const OutputName = "green_ghost_report.html"

// topProjects is how many ranked rows the report table shows.
const topProjects = 5

type feature struct {
	Name       string
	Importance string
}

type row struct {
	Key        string
	Name       string
	Country    string
	Score      string
	BandClass  string
	AuditLabel string
	AuditClass string
}

type pageData struct {
	GeneratedAt string
	ROCAUC      string

	AuditedGhosts int64

	TotalLoan         string
	AtRiskLoan        string
	TotalCapacity     string
	AtRiskCapacity    string
	PctLoansAtRisk    string
	PctCapacityAtRisk string

	Features []feature

	Rows        []row
	TotalCount  int
	HiddenCount int
}

// Generator renders the report file.
type Generator struct {
	reportDir string
	logger    *slog.Logger
	now       func() time.Time
}

// NewGenerator creates a Generator writing under reportDir.
func NewGenerator(reportDir string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Generator{reportDir: reportDir, logger: logger, now: time.Now}
}

// Generate writes the HTML report and returns its path.
func (g *Generator) Generate(m *model.Metrics, im *impact.Metrics, entries []index.Entry) (string, error) {
	tmpl, err := template.ParseFS(templateFS, "template.html")
	if err != nil {
		return "", fmt.Errorf("failed to parse report template: %w", err)
	}

	data := pageData{
		GeneratedAt:       g.now().Format("2006-01-02 15:04:05"),
		ROCAUC:            fmt.Sprintf("%.4f", m.ROCAUC),
		AuditedGhosts:     im.AuditedGhostProjectCount,
		TotalLoan:         dollars(im.TotalPortfolioLoanUSD),
		AtRiskLoan:        dollars(im.PredictedAtRiskLoanUSD),
		TotalCapacity:     megawatts(im.TotalPortfolioCapacityMW),
		AtRiskCapacity:    megawatts(im.PredictedAtRiskCapacityMW),
		PctLoansAtRisk:    fmt.Sprintf("%.1f%%", im.PctLoansAtRisk*100),
		PctCapacityAtRisk: fmt.Sprintf("%.1f%%", im.PctCapacityAtRisk*100),
		Features:          topFeatures(m.Importances),
		TotalCount:        len(entries),
	}

	shown := min(topProjects, len(entries))
	data.HiddenCount = len(entries) - shown
	for _, e := range entries[:shown] {
		r := row{
			Key:        e.ProjectKey,
			Name:       e.ProjectName,
			Country:    e.Country,
			Score:      "unscored",
			BandClass:  "low",
			AuditLabel: e.AuditLabel.String,
			AuditClass: "clear",
		}
		if e.GhostRiskScore.Valid {
			band := index.Band(e.GhostRiskScore.Float64)
			r.Score = fmt.Sprintf("%.3f (%s)", e.GhostRiskScore.Float64, band)
			r.BandClass = strings.ToLower(band)
		}
		if e.AuditLabel.String == "Ghost Flagged" {
			r.AuditClass = "flagged"
		}
		data.Rows = append(data.Rows, r)
	}

	if err := os.MkdirAll(g.reportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(g.reportDir, OutputName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := tmpl.Execute(f, data); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}

	g.logger.Info("report generated", "path", path)
	return path, nil
}

// topFeatures returns up to five importances, largest first, names
// title-cased for display.
func topFeatures(importances map[string]float64) []feature {
	names := make([]string, 0, len(importances))
	for name := range importances {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if importances[names[i]] != importances[names[j]] {
			return importances[names[i]] > importances[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > 5 {
		names = names[:5]
	}

	features := make([]feature, 0, len(names))
	for _, name := range names {
		features = append(features, feature{
			Name:       displayName(name),
			Importance: fmt.Sprintf("%.4f", importances[name]),
		})
	}
	return features
}

// displayName turns a column name like total_loan_usd into "Total Loan Usd".
func displayName(column string) string {
	words := strings.Split(column, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func dollars(v float64) string {
	return "$" + group(fmt.Sprintf("%.0f", v))
}

func megawatts(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	dot := strings.Index(s, ".")
	return group(s[:dot]) + s[dot:] + " MW"
}

// group inserts thousands separators into a plain integer string.
func group(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
