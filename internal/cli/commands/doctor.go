package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/greenwatch-labs/greenghost/internal/ingest"
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the project setup",
		Long: `Verify the project is ready to run: configuration, raw data files,
warehouse connectivity and the state store.`,
		RunE: runDoctor,
	}
}

type check struct {
	name string
	run  func(cmd *cobra.Command) error
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg := getConfig()
	out := cmd.OutOrStdout()

	checks := []check{
		{"configuration", func(*cobra.Command) error {
			return cfg.Validate()
		}},
		{"data directory", func(*cobra.Command) error {
			return cfg.ValidateDataDir()
		}},
		{"raw data files", func(*cobra.Command) error {
			if _, err := os.Stat(cfg.DataDir); err != nil {
				return fmt.Errorf("data directory missing")
			}
			if missing := ingest.MissingRequired(cfg.DataDir); len(missing) > 0 {
				return fmt.Errorf("missing %d required files: %v", len(missing), missing)
			}
			return nil
		}},
		{"warehouse", func(cmd *cobra.Command) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			var one int
			return cmdCtx.Warehouse.QueryRow(cmd.Context(), "SELECT 1").Scan(&one)
		}},
		{"state store", func(cmd *cobra.Command) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			_, err = cmdCtx.Store.ListRuns(1)
			return err
		}},
	}

	failures := 0
	for _, c := range checks {
		if err := c.run(cmd); err != nil {
			failures++
			fmt.Fprintf(out, "FAIL  %s: %v\n", c.name, err)
			continue
		}
		fmt.Fprintf(out, "ok    %s\n", c.name)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d checks failed", failures, len(checks))
	}
	fmt.Fprintln(out, "\nall checks passed")
	return nil
}
