package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"sykli/internal/graph"
)

// newWatchCommand watches the graph file's directory and revalidates the
// graph on every relevant write, printing either the new graph_hash or the
// validation error. It never runs the graph itself — watch is scoped to
// revalidation, not re-execution.
func newWatchCommand(g *Globals) *cobra.Command {
	var graphPath string
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the graph file and revalidate it on every change.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if graphPath == "" {
				return &ExitError{Code: ExitGraphFailure, Message: "watch: --graph is required"}
			}
			abs, err := filepath.Abs(graphPath)
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("watch: %v", err)}
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("watch: %v", err)}
			}
			defer watcher.Close()
			if err := watcher.Add(filepath.Dir(abs)); err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("watch: %v", err)}
			}

			revalidate := func() {
				tg, err := graph.LoadFromFile(abs)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "invalid: %v\n", err)
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "graph_hash: %s\n", tg.Hash())
			}
			revalidate()

			timer := time.NewTimer(time.Hour)
			if !timer.Stop() {
				<-timer.C
			}
			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					return nil
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "watch error: %v\n", err)
				case ev, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if filepath.Clean(ev.Name) != abs {
						continue
					}
					if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
						continue
					}
					timer.Reset(debounce)
				case <-timer.C:
					revalidate()
				}
			}
		},
	}
	cmd.Flags().StringVar(&graphPath, "graph", "", "Path to the graph JSON document.")
	cmd.Flags().DurationVar(&debounce, "debounce", 150*time.Millisecond, "Quiet period before revalidating after a write.")
	return cmd
}
