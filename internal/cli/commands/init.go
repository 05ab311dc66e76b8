package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const configTemplate = `# greenghost project configuration
environment: dev

# Raw climate-finance CSVs live here:
#   adb_projects_raw.csv, gcf_dashboard_raw.csv,
#   ti_cpi_2024.csv, gem_trackers_raw.csv
# Optional: wjp_rule_of_law.csv
data_dir: data/raw

# Generated artifacts (index CSV/JSON, metrics, HTML report).
report_dir: reports

warehouse:
  type: duckdb
  path: .greenghost/warehouse.duckdb

audit:
  # simulate needs no network; http queries a scene statistics endpoint.
  provider: simulate
  start_year: 2020
  end_year: 2024
  threshold: 0.05

model:
  trees: 100
  seed: 42

impact:
  risk_threshold: 0.8

ui:
  port: 4477
  watch: false
`

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold a new greenghost project",
		Long: `Create a greenghost.yaml plus the data and report directories in the
given directory (default: current directory).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(cmd, dir)
		},
	}
}

func runInit(cmd *cobra.Command, dir string) error {
	cfgPath := filepath.Join(dir, "greenghost.yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}

	for _, sub := range []string{"data/raw", "reports", ".greenghost"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", sub, err)
		}
	}
	if err := os.WriteFile(cfgPath, []byte(configTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "initialized greenghost project in %s\n\n", dir)
	fmt.Fprintln(out, "next steps:")
	fmt.Fprintln(out, "  1. copy the raw CSVs into data/raw/")
	fmt.Fprintln(out, "  2. greenghost doctor")
	fmt.Fprintln(out, "  3. greenghost run")
	return nil
}
