package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/greenwatch-labs/greenghost/internal/warehouse"
)

// Loader ingests raw CSVs and builds the master project table.
type Loader struct {
	wh      warehouse.Adapter
	dataDir string
	logger  *slog.Logger
}

// NewLoader creates a Loader over the given warehouse and data directory.
func NewLoader(wh warehouse.Adapter, dataDir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{wh: wh, dataDir: dataDir, logger: logger}
}

// LoadRaw loads every present raw source into its warehouse table and
// returns the set of loaded tables. Missing required files are an error
// listing every missing path, matching the pre-flight check the pipeline
// advertises to operators.
func (l *Loader) LoadRaw(ctx context.Context) (map[string]bool, error) {
	if missing := MissingRequired(l.dataDir); len(missing) > 0 {
		return nil, fmt.Errorf("missing required raw data files: %v", missing)
	}

	loaded := make(map[string]bool)
	for _, src := range Sources {
		path := filepath.Join(l.dataDir, src.File)
		if !src.Required {
			if _, err := os.Stat(path); err != nil {
				l.logger.Debug("optional source not present", "table", src.Table, "path", path)
				continue
			}
		}

		l.logger.Debug("loading raw source", "table", src.Table, "path", path)
		if err := l.wh.LoadCSV(ctx, src.Table, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", src.File, err)
		}
		loaded[src.Table] = true
	}

	return loaded, nil
}

// BuildMaster merges the loaded sources into master_projects and returns its
// row count. GEM tracker rows form the base project list; CPI joins by
// country; ADB loans join as a country-mean proxy because project-level
// linkage between the funding databases does not exist. GCF rows stay in
// their own table for reference. hasWJP selects whether rule_of_law_score is
// joined or left NULL.
func (l *Loader) BuildMaster(ctx context.Context, hasWJP bool) (int64, error) {
	ruleOfLaw := "CAST(NULL AS DOUBLE PRECISION) AS rule_of_law_score"
	wjpJoin := ""
	if hasWJP {
		ruleOfLaw = "wjp.rule_of_law_score AS rule_of_law_score"
		wjpJoin = "LEFT JOIN wjp ON wjp.country = gem.country"
	}

	query := fmt.Sprintf(`
		CREATE TABLE master_projects AS
		WITH gem AS (
			SELECT
				project_name,
				country_area AS country,
				capacity_mw AS funded_capacity_mw,
				technology AS project_type,
				lower(trim(status)) AS gem_status,
				start_year,
				latitude,
				longitude
			FROM gem_projects
		),
		cpi AS (
			SELECT country, cpi_score_2024 AS cpi_score FROM cpi_scores
		),
		adb AS (
			SELECT country, AVG(loan_amount_usd_m) AS total_loan_usd
			FROM adb_projects
			GROUP BY country
		)%s
		SELECT
			md5(lower(trim(gem.project_name)) || '|' || lower(trim(gem.country))) AS project_key,
			gem.project_name,
			gem.country,
			gem.latitude,
			gem.longitude,
			adb.total_loan_usd,
			gem.start_year,
			gem.funded_capacity_mw,
			gem.project_type,
			cpi.cpi_score,
			%s,
			gem.gem_status
		FROM gem
		LEFT JOIN cpi ON cpi.country = gem.country
		LEFT JOIN adb ON adb.country = gem.country
		%s`,
		wjpCTE(hasWJP), ruleOfLaw, wjpJoin,
	)

	if err := l.wh.Exec(ctx, "DROP TABLE IF EXISTS master_projects"); err != nil {
		return 0, fmt.Errorf("failed to drop old master table: %w", err)
	}
	if err := l.wh.Exec(ctx, query); err != nil {
		return 0, fmt.Errorf("failed to build master table: %w", err)
	}

	var count int64
	if err := l.wh.QueryRow(ctx, "SELECT COUNT(*) FROM master_projects").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count master rows: %w", err)
	}

	l.logger.Info("master dataset built", "projects", count)
	return count, nil
}

// Run performs the full ingest step: raw loading plus the master build.
func (l *Loader) Run(ctx context.Context) (int64, error) {
	loaded, err := l.LoadRaw(ctx)
	if err != nil {
		return 0, err
	}
	return l.BuildMaster(ctx, loaded["wjp_rule_of_law"])
}

func wjpCTE(hasWJP bool) string {
	if !hasWJP {
		return ""
	}
	return `,
		wjp AS (
			SELECT country, rule_of_law_score FROM wjp_rule_of_law
		)`
}
