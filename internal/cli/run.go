package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sykli/internal/condition"
	"sykli/internal/config"
	"sykli/internal/core"
	"sykli/internal/dag"
	"sykli/internal/graph"
	"sykli/internal/history"
	"sykli/internal/recovery/state"
	"sykli/internal/target"
	"sykli/internal/target/local"

	"sykli/internal/executor"
	"sykli/internal/workspace"
)

// toolVersion is embedded into every task fingerprint so a Sykli upgrade
// that changes execution semantics invalidates existing cache entries.
const toolVersion = "sykli-dev"

func newRunCommand(g *Globals) *cobra.Command {
	var graphPath string
	var parallel bool
	var concurrency int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load the graph, execute every level, and report the result.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if graphPath == "" {
				return &ExitError{Code: ExitGraphFailure, Message: "run: --graph is required"}
			}

			if _, err := workspace.EnsureWorkspace(g.ProjectRoot); err != nil {
				return &ExitError{Code: ExitConfigError, Message: fmt.Sprintf("run: %v", err)}
			}

			tg, err := graph.LoadFromFile(graphPath)
			if err != nil {
				return &ExitError{Code: ExitGraphFailure, Message: fmt.Sprintf("run: %v", err)}
			}

			recorder := &state.FailureRecorder{}
			if recorder.Store, err = state.NewStore(g.ProjectRoot); err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("run: %v", err)}
			}
			runID, err := recorder.NewRunID()
			if err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("run: %v", err)}
			}
			run := state.Run{
				RunID:     runID,
				GraphHash: string(tg.Hash()),
				StartTime: time.Now().UTC(),
				Status:    "running",
			}
			if err := recorder.StartRun(run); err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("run: %v", err)}
			}

			cache := core.NewFileCache(g.CacheDir)
			tgt := local.New(g.ProjectRoot, nil)
			targetState, err := tgt.Setup(cmd.Context(), target.Options{})
			if err != nil {
				_ = recorder.RecordFailure(runID, err)
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("run: target setup: %v", err)}
			}
			defer tgt.Teardown(cmd.Context(), targetState)

			buildEnv := config.BuildEnvWhitelist(os.LookupEnv)
			r := executor.New(tgt, targetState, cache, g.ProjectRoot, buildEnv, toolVersion, ciContext())

			ex, err := dag.NewExecutor(tg, r)
			if err != nil {
				_ = recorder.RecordFailure(runID, err)
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("run: %v", err)}
			}

			var result *dag.GraphResult
			if parallel {
				result, err = ex.RunParallel(cmd.Context(), concurrency)
			} else {
				result, err = ex.RunSerial(cmd.Context())
			}
			if err != nil {
				_ = recorder.RecordFailure(runID, err)
				run.Status = "failed"
				_ = recorder.Store.SaveRun(run)
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("run: %v", err)}
			}

			run.TraceHash = result.TraceHash

			failed := false
			for name, st := range result.FinalState {
				exit := result.ExitCode[name]
				fmt.Fprintf(cmd.OutOrStdout(), "%-30s %-10s exit=%d\n", name, st, exit)
				if st == dag.TaskFailed {
					failed = true
				}
			}

			if occErr := recordOccurrence(cmd.Context(), g, tg, runID, result); occErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "run: recording occurrence: %v\n", occErr)
			}

			if failed {
				run.Status = "failed"
				_ = recorder.Store.SaveRun(run)
				return &ExitError{Code: ExitGraphFailure, Message: "run: one or more tasks failed"}
			}
			run.Status = "succeeded"
			if err := recorder.Store.SaveRun(run); err != nil {
				return &ExitError{Code: ExitInternalError, Message: fmt.Sprintf("run: %v", err)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&graphPath, "graph", "", "Path to the graph JSON document.")
	cmd.Flags().BoolVar(&parallel, "parallel", true, "Run each level's tasks concurrently.")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "Maximum concurrent workers per level.")
	return cmd
}

// recordOccurrence assembles and persists the occurrence document for a
// completed run (spec §4.9/§6): the structured record of what happened, why,
// and how it compares to recent history. It is advisory — a failure here
// never changes the run's own pass/fail verdict.
func recordOccurrence(ctx context.Context, g *Globals, tg *dag.TaskGraph, runID string, result *dag.GraphResult) error {
	order := result.ExecutionOrder
	if len(order) == 0 {
		order = tg.TopologicalOrder()
	}

	tasks := make([]history.TaskOutcome, 0, len(order))
	for _, name := range order {
		node, ok := tg.Node(name)
		if !ok {
			continue
		}
		status := "skipped"
		switch result.FinalState[name] {
		case dag.TaskCompleted, dag.TaskCached:
			status = "passed"
		case dag.TaskFailed:
			status = "failed"
		}
		tasks = append(tasks, history.TaskOutcome{
			Task:     *node,
			Status:   status,
			Output:   string(result.Stdout[name]) + string(result.Stderr[name]),
			ExitCode: result.ExitCode[name],
		})
	}

	sha, branch, remote := gitInfo(ctx, g.ProjectRoot)

	prior := loadRecentOccurrences(g.ProjectRoot, 5)

	occ, err := history.Build(ctx, history.BuildInput{
		RunID:            runID,
		Tasks:            tasks,
		TaskGraph:        tg,
		ProjectRoot:      g.ProjectRoot,
		LastGoodRef:      "HEAD~1",
		GitSHA:           sha,
		GitBranch:        branch,
		GitRemoteURL:     remote,
		PriorOccurrences: prior,
	})
	if err != nil {
		return fmt.Errorf("building occurrence: %w", err)
	}
	return history.SaveSnapshot(g.ProjectRoot, occ)
}

// loadRecentOccurrences loads up to n of the most recently saved occurrence
// snapshots (oldest first, matching ListSnapshots' order) into the
// PriorOccurrence shape history.Build expects for regression detection.
func loadRecentOccurrences(projectRoot string, n int) []history.PriorOccurrence {
	ids, err := history.ListSnapshots(projectRoot)
	if err != nil || len(ids) == 0 {
		return nil
	}
	if len(ids) > n {
		ids = ids[len(ids)-n:]
	}

	prior := make([]history.PriorOccurrence, 0, len(ids))
	for _, id := range ids {
		occ, err := history.LoadSnapshot(projectRoot, id)
		if err != nil {
			continue
		}
		statuses := make(map[string]string, len(occ.CI.Tasks))
		for _, t := range occ.CI.Tasks {
			statuses[t.Name] = t.Status
		}
		prior = append(prior, history.PriorOccurrence{RunID: occ.ID, Statuses: statuses})
	}
	return prior
}

// gitInfo best-effort resolves HEAD's SHA, the current branch, and origin's
// URL; any failure (not a git repo, no origin remote) yields an empty string
// rather than an error, matching the tolerant posture of internal/history's
// git-blame enrichment.
func gitInfo(ctx context.Context, projectRoot string) (sha, branch, remote string) {
	sha = runGitQuiet(ctx, projectRoot, "rev-parse", "HEAD")
	branch = runGitQuiet(ctx, projectRoot, "rev-parse", "--abbrev-ref", "HEAD")
	remote = runGitQuiet(ctx, projectRoot, "remote", "get-url", "origin")
	return sha, branch, remote
}

func runGitQuiet(ctx context.Context, dir string, args ...string) string {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// ciContext derives the condition evaluator's fixed context map from the
// spec §6 environment variables (GITHUB_REF_NAME/REF_TYPE/EVENT_NAME/
// PR_NUMBER, CI_COMMIT_BRANCH/TAG, CI).
func ciContext() condition.Context {
	branch := os.Getenv("GITHUB_REF_NAME")
	if v := os.Getenv("CI_COMMIT_BRANCH"); v != "" {
		branch = v
	}
	tag := ""
	if os.Getenv("GITHUB_REF_TYPE") == "tag" {
		tag = os.Getenv("GITHUB_REF_NAME")
	}
	if v := os.Getenv("CI_COMMIT_TAG"); v != "" {
		tag = v
	}
	ci, _ := strconv.ParseBool(os.Getenv("CI"))
	return condition.Context{
		Branch:   branch,
		Tag:      tag,
		Event:    os.Getenv("GITHUB_EVENT_NAME"),
		PRNumber: os.Getenv("GITHUB_PR_NUMBER"),
		CI:       ci,
	}
}
