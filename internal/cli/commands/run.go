package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/greenwatch-labs/greenghost/internal/pipeline"
	"github.com/greenwatch-labs/greenghost/internal/state"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Select     []string
	Downstream bool
	JSON       bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the analysis pipeline",
		Long: `Execute the Green Ghost analysis pipeline.

Steps run in dependency order: master, audit, model, impact, index,
report. A failing step skips everything downstream of it.`,
		Example: `  # Run everything
  greenghost run

  # Re-run only the audit
  greenghost run --select audit

  # Re-run the audit and everything after it
  greenghost run --select audit --downstream

  # Emit machine-readable event lines
  greenghost run --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Select, "select", "s", nil, "Run only the named steps")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "Extend --select to downstream steps")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Emit one JSON event per line")

	return cmd
}

func runPipeline(cmd *cobra.Command, opts *RunOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cmdCtx.Cfg.ValidateDataDir(); err != nil {
		return err
	}

	p, err := cmdCtx.BuildPipeline()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	p.OnEvent(func(ev pipeline.Event) {
		if opts.JSON {
			_ = enc.Encode(ev)
			return
		}
		switch ev.Status {
		case state.StepStatusRunning:
			fmt.Fprintf(out, "-> %s\n", ev.Step)
		case state.StepStatusSuccess:
			fmt.Fprintf(out, "   %s ok (%d rows)\n", ev.Step, ev.Rows)
		case state.StepStatusFailed:
			fmt.Fprintf(out, "   %s FAILED: %s\n", ev.Step, ev.Error)
		case state.StepStatusSkipped:
			fmt.Fprintf(out, "   %s skipped\n", ev.Step)
		}
	})

	var result *pipeline.RunResult
	if len(opts.Select) > 0 {
		result, err = p.RunSelected(cmd.Context(), opts.Select, opts.Downstream)
	} else {
		result, err = p.Run(cmd.Context())
	}
	if result != nil && !opts.JSON {
		fmt.Fprintf(out, "\nrun %s: %s\n", result.RunID, result.Status)
	}
	return err
}
