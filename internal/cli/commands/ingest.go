package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/greenwatch-labs/greenghost/internal/ingest"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Load raw CSVs and build the master dataset",
		Long: `Load the raw climate-finance CSVs into the warehouse and merge them
into the master project table, without running the rest of the pipeline.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cmdCtx.Cfg.ValidateDataDir(); err != nil {
				return err
			}

			loader := ingest.NewLoader(cmdCtx.Warehouse, cmdCtx.Cfg.DataDir, cmdCtx.Logger)
			count, err := loader.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "master dataset built: %d projects\n", count)
			return nil
		},
	}
}
