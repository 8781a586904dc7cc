package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"sykli/internal/recovery/state"
)

// newReportCommand prints the full record for one run: its metadata and, if
// the run terminated abnormally, its recorded failure (spec §4.9's run
// record, read back rather than built here — building happens during run).
func newReportCommand(g *Globals) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the recorded run and failure for --run-id.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return &ExitError{Code: ExitGraphFailure, Message: "report: --run-id is required"}
			}
			store, err := state.NewStore(g.ProjectRoot)
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("report: %v", err)}
			}
			run, err := store.LoadRun(runID)
			if err != nil {
				return &ExitError{Code: ExitGraphFailure, Message: fmt.Sprintf("report: %v", err)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run_id:       %s\n", run.RunID)
			fmt.Fprintf(cmd.OutOrStdout(), "graph_hash:   %s\n", run.GraphHash)
			fmt.Fprintf(cmd.OutOrStdout(), "status:       %s\n", run.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "start_time:   %s\n", run.StartTime.Format("2006-01-02T15:04:05Z"))
			if run.TraceHash != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "trace_hash:   %s\n", run.TraceHash)
			}
			if run.PreviousRunID != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "previous_run: %s\n", *run.PreviousRunID)
			}

			failure, err := store.LoadFailure(runID)
			if err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "failure:      [%s] %s: %s (resumable=%v)\n",
					failure.FailureClass, failure.ErrorCode, failure.ErrorMessage, failure.Resumable)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "Run ID to report on.")
	return cmd
}
