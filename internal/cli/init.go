package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"sykli/internal/workspace"
)

// newInitCommand provisions the project's .sykli workspace and, if absent, a
// marker file noting the project has been initialized. Scaffolding an SDK
// template beyond that marker is out of scope.
func newInitCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Provision the project's .sykli workspace.",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := workspace.EnsureWorkspace(g.ProjectRoot)
			if err != nil {
				return &ExitError{Code: ExitConfigError, Message: fmt.Sprintf("init: %v", err)}
			}
			marker := filepath.Join(info.Root, "context.json")
			if _, err := os.Stat(marker); os.IsNotExist(err) {
				if err := os.WriteFile(marker, []byte("{}\n"), 0o644); err != nil {
					return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("init: %v", err)}
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized workspace at %s\n", info.Root)
			return nil
		},
	}
}
