// Package ingest loads the raw climate-finance datasets into the warehouse
// and merges them into the master project table the rest of the pipeline
// works from.
package ingest

import (
	"crypto/md5" //nolint:gosec // non-cryptographic row key, mirrors warehouse md5()
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// Source describes one raw CSV input in the data directory.
type Source struct {
	// Table is the warehouse table the file loads into.
	Table string
	// File is the expected file name inside the data directory.
	File string
	// Required marks sources whose absence fails the master step.
	Required bool
}

// Sources is the raw source catalog. The file names follow the upstream
// datasets: ADB project listings, the GCF funding dashboard, Transparency
// International's CPI, the Global Energy Monitor trackers, and optionally
// the World Justice Project rule-of-law scores.
var Sources = []Source{
	{Table: "adb_projects", File: "adb_projects_raw.csv", Required: true},
	{Table: "gcf_projects", File: "gcf_dashboard_raw.csv", Required: true},
	{Table: "cpi_scores", File: "ti_cpi_2024.csv", Required: true},
	{Table: "gem_projects", File: "gem_trackers_raw.csv", Required: true},
	{Table: "wjp_rule_of_law", File: "wjp_rule_of_law.csv", Required: false},
}

// MissingRequired returns the full paths of required raw files that are
// absent from the data directory.
func MissingRequired(dataDir string) []string {
	var missing []string
	for _, src := range Sources {
		if !src.Required {
			continue
		}
		path := filepath.Join(dataDir, src.File)
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, path)
		}
	}
	return missing
}

// ProjectKey derives the deterministic key for a project from its name and
// country. It must stay in sync with the SQL expression in BuildMaster so
// keys computed in Go (audit cache, tests) match keys computed in-warehouse.
func ProjectKey(name, country string) string {
	normalized := strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(country))
	sum := md5.Sum([]byte(normalized)) //nolint:gosec // row identity, not security
	return hex.EncodeToString(sum[:])
}
