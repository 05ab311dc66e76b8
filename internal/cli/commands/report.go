package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/greenwatch-labs/greenghost/internal/index"
	"github.com/greenwatch-labs/greenghost/internal/pipeline"
	"github.com/greenwatch-labs/greenghost/internal/report"
)

// NewReportCommand creates the report command.
func NewReportCommand() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Regenerate the HTML report and show the riskiest projects",
		Long: `Rebuild the HTML report from the existing model and impact artifacts,
then print the riskiest projects. The pipeline must have run at least
once.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd, top)
		},
	}

	cmd.Flags().IntVar(&top, "top", 10, "Number of projects to print")
	return cmd
}

func runReport(cmd *cobra.Command, top int) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := cmdCtx.BuildPipeline()
	if err != nil {
		return err
	}
	if _, err := p.RunSelected(cmd.Context(), []string{pipeline.StepReport}, false); err != nil {
		return err
	}

	entries, err := index.NewIndexer(cmdCtx.Warehouse, cmdCtx.Cfg.ReportDir, cmdCtx.Logger).Load(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, index.RenderTop(entries, top))
	fmt.Fprintf(out, "\nreport: %s\n", filepath.Join(cmdCtx.Cfg.ReportDir, report.OutputName))
	return nil
}
