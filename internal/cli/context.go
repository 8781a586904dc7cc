package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newContextCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "context",
		Short: "Print the CI context the condition evaluator and occurrence builder observe.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ciContext()
			b, err := json.MarshalIndent(ctx, "", "  ")
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("context: %v", err)}
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}
