// Package cli implements Sykli's command surface (spec §6) with cobra:
// run, delta, plan, watch, graph, validate, cache {stats,clean,path}, daemon
// {start,stop,status}, init, report, history, explain, context, verify.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	ExitSuccess       = 0
	ExitGraphFailure  = 1
	ExitConfigError   = 3
	ExitInternalError = 4
)

// Globals carry flags shared across subcommands, resolved once in
// PersistentPreRunE so individual commands stay small.
type Globals struct {
	ProjectRoot string
	CacheDir    string
	Log         *logrus.Logger
}

// NewRootCommand builds the cobra command tree. Execute runs the result and
// maps the returned error, if any, to an exit code.
func NewRootCommand() *cobra.Command {
	g := &Globals{Log: logrus.New()}

	root := &cobra.Command{
		Use:           "sykli",
		Short:         "Sykli is a content-addressed, cache-aware CI/CD pipeline runner.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			root, err := cmd.Flags().GetString("project-root")
			if err != nil {
				return err
			}
			if root == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolving project root: %w", err)
				}
				root = wd
			}
			g.ProjectRoot = root

			cacheDir, _ := cmd.Flags().GetString("cache-dir")
			if cacheDir == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("resolving cache dir: %w", err)
				}
				cacheDir = home + "/.sykli/cache"
			}
			g.CacheDir = cacheDir
			return nil
		},
	}
	root.PersistentFlags().String("project-root", "", "Project root directory. Defaults to the current working directory.")
	root.PersistentFlags().String("cache-dir", "", "Cache root directory. Defaults to ~/.sykli/cache.")

	root.AddCommand(
		newRunCommand(g),
		newGraphCommand(g),
		newValidateCommand(g),
		newCacheCommand(g),
		newInitCommand(g),
		newContextCommand(g),
		newWatchCommand(g),
		newDeltaCommand(g),
		newPlanCommand(g),
		newHistoryCommand(g),
		newExplainCommand(g),
		newDaemonCommand(g),
		newReportCommand(g),
		newVerifyCommand(g),
	)
	return root
}

// Execute runs the CLI against args (excluding the program name) and returns
// the process exit code, logging the terminal error (if any) to stderr.
func Execute(ctx context.Context, args []string) int {
	root := NewRootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		var exitErr *ExitError
		if asExitError(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			return exitErr.Code
		}
		fmt.Fprintln(os.Stderr, err)
		return ExitInternalError
	}
	return ExitSuccess
}

// ExitError lets a subcommand request a specific spec §6/§7 exit code
// instead of the generic ExitInternalError.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

func asExitError(err error, target **ExitError) bool {
	for err != nil {
		if e, ok := err.(*ExitError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
