package index

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderTop renders the n riskiest projects as a terminal table.
func RenderTop(entries []Entry, n int) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Project", "Country", "Risk", "Audit"})

	shown := min(n, len(entries))
	for i, e := range entries[:shown] {
		risk := "unscored"
		if e.GhostRiskScore.Valid {
			risk = fmt.Sprintf("%.3f (%s)", e.GhostRiskScore.Float64, Band(e.GhostRiskScore.Float64))
		}
		label := e.AuditLabel.String
		if !e.AuditLabel.Valid {
			label = "-"
		}
		t.AppendRow(table.Row{i + 1, e.ProjectName, e.Country, risk, label})
	}
	if len(entries) > shown {
		t.AppendFooter(table.Row{"", fmt.Sprintf("showing top %d of %d projects", shown, len(entries)), "", "", ""})
	}

	return t.Render()
}
