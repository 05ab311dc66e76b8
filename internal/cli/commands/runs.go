package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var (
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past pipeline runs",
		Long:  `Show recent pipeline runs, or the step details of one run with --id.`,
		Example: `  # Show the last 10 runs
  greenghost runs

  # Show step details for one run
  greenghost runs --id 3f2a...`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRuns(cmd, limit, runID)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")
	cmd.Flags().StringVar(&runID, "id", "", "Show step details for this run")
	return cmd
}

func runRuns(cmd *cobra.Command, limit int, runID string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()

	if runID != "" {
		run, err := cmdCtx.Store.GetRun(runID)
		if err != nil {
			return err
		}
		steps, err := cmdCtx.Store.GetStepRunsForRun(runID)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "run %s (%s, started %s)\n", run.ID, run.Status,
			run.StartedAt.Format(time.RFC3339))
		if run.Error != "" {
			fmt.Fprintf(out, "error: %s\n", run.Error)
		}

		t := table.NewWriter()
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Step", "Status", "Rows", "Duration", "Error"})
		for _, sr := range steps {
			t.AppendRow(table.Row{sr.Step, sr.Status, sr.RowsAffected,
				fmt.Sprintf("%dms", sr.ExecutionMS), sr.Error})
		}
		fmt.Fprintln(out, t.Render())
		return nil
	}

	runs, err := cmdCtx.Store.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded yet")
		return nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Env", "Status", "Started", "Completed"})
	for _, run := range runs {
		completed := "-"
		if run.CompletedAt != nil {
			completed = run.CompletedAt.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{run.ID, run.Environment, run.Status,
			run.StartedAt.Format(time.RFC3339), completed})
	}
	fmt.Fprintln(out, t.Render())
	return nil
}
