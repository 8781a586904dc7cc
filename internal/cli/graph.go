package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"sykli/internal/graph"
)

func newGraphCommand(g *Globals) *cobra.Command {
	var graphPath string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the graph's topological levels after loading and expansion.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if graphPath == "" {
				return &ExitError{Code: ExitGraphFailure, Message: "graph: --graph is required"}
			}
			tg, err := graph.LoadFromFile(graphPath)
			if err != nil {
				return &ExitError{Code: ExitGraphFailure, Message: fmt.Sprintf("graph: %v", err)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "graph_hash: %s\n", tg.Hash())
			for i, level := range tg.Levels() {
				fmt.Fprintf(cmd.OutOrStdout(), "level %d: %v\n", i, level)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&graphPath, "graph", "", "Path to the graph JSON document.")
	return cmd
}

func newValidateCommand(g *Globals) *cobra.Command {
	var graphPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the graph without executing it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if graphPath == "" {
				return &ExitError{Code: ExitGraphFailure, Message: "validate: --graph is required"}
			}
			if _, err := graph.LoadFromFile(graphPath); err != nil {
				return &ExitError{Code: ExitGraphFailure, Message: fmt.Sprintf("validate: %v", err)}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&graphPath, "graph", "", "Path to the graph JSON document.")
	return cmd
}
