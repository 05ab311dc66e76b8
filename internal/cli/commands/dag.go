package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewDAGCommand creates the dag command.
func NewDAGCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Show the pipeline dependency graph",
		Long: `Display the pipeline steps grouped by execution level, showing
which steps depend on which.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDAG(cmd, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func runDAG(cmd *cobra.Command, asJSON bool) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := cmdCtx.BuildPipeline()
	if err != nil {
		return err
	}
	graph := p.Graph()

	levels, err := graph.ExecutionLevels()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		type nodeJSON struct {
			Step      string   `json:"step"`
			DependsOn []string `json:"depends_on"`
		}
		var payload [][]nodeJSON
		for _, level := range levels {
			var nodes []nodeJSON
			for _, step := range level {
				nodes = append(nodes, nodeJSON{Step: step, DependsOn: graph.Parents(step)})
			}
			payload = append(payload, nodes)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	fmt.Fprintf(out, "%d steps, %d dependencies\n\n", graph.NodeCount(), graph.EdgeCount())
	for i, level := range levels {
		fmt.Fprintf(out, "level %d:\n", i+1)
		for _, step := range level {
			if parents := graph.Parents(step); len(parents) > 0 {
				fmt.Fprintf(out, "  %s  (after %s)\n", step, strings.Join(parents, ", "))
			} else {
				fmt.Fprintf(out, "  %s\n", step)
			}
		}
	}
	return nil
}
