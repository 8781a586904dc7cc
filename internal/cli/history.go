package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"sykli/internal/recovery/state"
)

// newHistoryCommand lists past run records, most recent last. Run IDs are
// random UUIDs, so records are ordered by their StartTime, not by ID.
func newHistoryCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List recorded runs for this project.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := state.NewStore(g.ProjectRoot)
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("history: %v", err)}
			}
			ids, err := store.ListRunIDs()
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("history: %v", err)}
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			runs := make(map[string]state.Run, len(ids))
			errs := make(map[string]error, len(ids))
			for _, id := range ids {
				runs[id], errs[id] = store.LoadRun(id)
			}
			sort.SliceStable(ids, func(i, j int) bool {
				return runs[ids[i]].StartTime.Before(runs[ids[j]].StartTime)
			})
			for _, id := range ids {
				run, err := runs[id], errs[id]
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%-36s <unreadable: %v>\n", id, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-36s %-10s graph=%s start=%s\n",
					run.RunID, run.Status, run.GraphHash, run.StartTime.Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}
}
