package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/greenwatch-labs/greenghost/internal/ui"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var (
		port  int
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the report over HTTP",
		Long: `Start a local HTTP server for the generated report, the map feed and
run history. With --watch the pipeline re-runs whenever a raw CSV
changes.`,
		Example: `  # Serve on the default port
  greenghost serve

  # Serve on a custom port and watch the data directory
  greenghost serve --port 8080 --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, port, watch)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from config)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Re-run the pipeline when raw data changes")
	return cmd
}

func runServe(cmd *cobra.Command, port int, watch bool) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	uiCfg := cmdCtx.Cfg.GetUIConfig()
	if port == 0 {
		port = uiCfg.Port
	}
	if !watch {
		watch = uiCfg.Watch
	}

	p, err := cmdCtx.BuildPipeline()
	if err != nil {
		return err
	}

	server := ui.NewServer(ui.Config{
		Port:      port,
		ReportDir: cmdCtx.Cfg.ReportDir,
		DataDir:   cmdCtx.Cfg.DataDir,
		Watch:     watch,
		Store:     cmdCtx.Store,
		Rerun: func(ctx context.Context) error {
			_, err := p.Run(ctx)
			return err
		},
		Logger: cmdCtx.Logger,
	})

	return server.Serve(cmd.Context())
}
