package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"sykli/internal/config"
	"sykli/internal/core"
	"sykli/internal/executor"
	"sykli/internal/graph"
)

// newExplainCommand reports why a single task would hit or miss the cache on
// the next run, without executing anything.
func newExplainCommand(g *Globals) *cobra.Command {
	var graphPath, taskName string

	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Explain why --task would hit or miss the cache.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if graphPath == "" || taskName == "" {
				return &ExitError{Code: ExitGraphFailure, Message: "explain: --graph and --task are required"}
			}
			tg, err := graph.LoadFromFile(graphPath)
			if err != nil {
				return &ExitError{Code: ExitGraphFailure, Message: fmt.Sprintf("explain: %v", err)}
			}
			node, ok := tg.Node(taskName)
			if !ok {
				return &ExitError{Code: ExitGraphFailure, Message: fmt.Sprintf("explain: task %q not in graph", taskName)}
			}
			task := node.Task

			workdir := g.ProjectRoot
			if task.Workdir != "" {
				if filepath.IsAbs(task.Workdir) {
					workdir = task.Workdir
				} else {
					workdir = filepath.Join(g.ProjectRoot, task.Workdir)
				}
			}
			buildEnv := config.BuildEnvWhitelist(os.LookupEnv)
			fp, comps, err := executor.Fingerprint(task, workdir, buildEnv, toolVersion)
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("explain: %v", err)}
			}

			cache := core.NewFileCache(g.CacheDir)
			check, err := cache.CheckDetailed(taskName, fp, comps)
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("explain: %v", err)}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "task:        %s\n", taskName)
			fmt.Fprintf(cmd.OutOrStdout(), "fingerprint: %s\n", fp)
			if check.Hit {
				fmt.Fprintln(cmd.OutOrStdout(), "result:      hit")
				return nil
			}
			reason := check.Reason
			if reason == "" {
				reason = core.MissNoCache
			}
			fmt.Fprintf(cmd.OutOrStdout(), "result:      miss\n")
			fmt.Fprintf(cmd.OutOrStdout(), "reason:      %s\n", reason)
			return nil
		},
	}
	cmd.Flags().StringVar(&graphPath, "graph", "", "Path to the graph JSON document.")
	cmd.Flags().StringVar(&taskName, "task", "", "Task name to explain.")
	return cmd
}
