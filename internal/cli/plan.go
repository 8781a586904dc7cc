package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"sykli/internal/config"
	"sykli/internal/core"
	"sykli/internal/delta"
	"sykli/internal/graph"
)

// newPlanCommand reports the full dry-run plan for a change set (spec
// §4.10's Planner): the affected set, whether each task would hit cache,
// per-level grouping, and a critical-path/max-parallelism estimate, all
// without executing anything.
func newPlanCommand(g *Globals) *cobra.Command {
	var graphPath, ref string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Report the dry-run execution plan for files changed since --ref.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if graphPath == "" {
				return &ExitError{Code: ExitGraphFailure, Message: "plan: --graph is required"}
			}
			tg, err := graph.LoadFromFile(graphPath)
			if err != nil {
				return &ExitError{Code: ExitGraphFailure, Message: fmt.Sprintf("plan: %v", err)}
			}
			changed, err := delta.ChangedFiles(cmd.Context(), g.ProjectRoot, ref)
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("plan: %v", err)}
			}

			cache := core.NewFileCache(g.CacheDir)
			buildEnv := config.BuildEnvWhitelist(os.LookupEnv)
			workdirOf := func(task core.Task) string {
				if task.Workdir == "" {
					return g.ProjectRoot
				}
				if filepath.IsAbs(task.Workdir) {
					return task.Workdir
				}
				return filepath.Join(g.ProjectRoot, task.Workdir)
			}

			report, err := delta.Plan(tg, changed, cache, workdirOf, buildEnv, toolVersion)
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("plan: %v", err)}
			}

			for _, t := range report.Tasks {
				status := "miss"
				if t.WouldHit {
					status = "hit"
				}
				affected := ""
				if t.Affected {
					affected = " affected"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-30s level=%-3d %-4s%s estimated=%s\n",
					t.Task, t.Level, status, affected, t.EstimatedDuration)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "critical path:      %v\n", report.CriticalPath)
			fmt.Fprintf(cmd.OutOrStdout(), "estimated duration: %s\n", report.EstimatedDuration)
			fmt.Fprintf(cmd.OutOrStdout(), "max parallelism:    %d\n", report.MaxParallelism)
			return nil
		},
	}
	cmd.Flags().StringVar(&graphPath, "graph", "", "Path to the graph JSON document.")
	cmd.Flags().StringVar(&ref, "ref", "HEAD", "Git ref to diff against.")
	return cmd
}
