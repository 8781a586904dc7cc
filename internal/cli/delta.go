package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"sykli/internal/delta"
	"sykli/internal/graph"
)

// newDeltaCommand reports the tasks a change set makes affected without
// running anything — the changed-files/affected-set half of spec §4.10's
// Planner. See "plan" for the full dry-run report (cache hits, critical
// path, max parallelism).
func newDeltaCommand(g *Globals) *cobra.Command {
	var graphPath, ref string

	cmd := &cobra.Command{
		Use:   "delta",
		Short: "Report which tasks are affected by files changed since --ref.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if graphPath == "" {
				return &ExitError{Code: ExitGraphFailure, Message: "delta: --graph is required"}
			}
			tg, err := graph.LoadFromFile(graphPath)
			if err != nil {
				return &ExitError{Code: ExitGraphFailure, Message: fmt.Sprintf("delta: %v", err)}
			}
			changed, err := delta.ChangedFiles(cmd.Context(), g.ProjectRoot, ref)
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("delta: %v", err)}
			}
			if len(changed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no changes")
				return nil
			}
			for _, f := range changed {
				fmt.Fprintf(cmd.OutOrStdout(), "changed: %s\n", f)
			}
			reasons := delta.AffectedTasks(tg, changed)
			if len(reasons) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no tasks affected")
				return nil
			}
			for _, r := range reasons {
				if r.Direct {
					fmt.Fprintf(cmd.OutOrStdout(), "affected: %-24s direct (%v)\n", r.Task, r.Matched)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "affected: %-24s via %s\n", r.Task, r.Via)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&graphPath, "graph", "", "Path to the graph JSON document.")
	cmd.Flags().StringVar(&ref, "ref", "HEAD", "Git ref to diff against.")
	return cmd
}
