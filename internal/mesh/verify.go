package mesh

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"sykli/internal/core"
)

// VerifyMode controls when a completed task is re-run on a remote node to
// confirm cross-platform reproducibility.
type VerifyMode string

const (
	VerifyNever         VerifyMode = "never"
	VerifyCrossPlatform VerifyMode = "cross_platform"
	VerifyAlways        VerifyMode = "always"
)

// CompletedTask is one task from a finished run's manifest, eligible for
// verification re-dispatch.
type CompletedTask struct {
	Task   core.Task
	Status string // e.g. "success", "cached", "skipped"
	Verify VerifyMode
}

// VerifyPlan pairs a completed task with the remote node it should be
// re-run on.
type VerifyPlan struct {
	Task core.Task
	Node string
}

// PlanVerification decides, for each completed task, whether it should be
// re-run on a remote node: skip if cached/skipped, if Verify is "never",
// or if there are no remote nodes; otherwise re-run on every remote whose
// labels differ from localLabels when Verify is "cross_platform" (the
// default) or "always".
func PlanVerification(tasks []CompletedTask, localLabels []string, remotes []Candidate) []VerifyPlan {
	if len(remotes) == 0 {
		return nil
	}

	var plans []VerifyPlan
	for _, t := range tasks {
		if t.Status != "success" {
			continue
		}
		mode := t.Verify
		if mode == "" {
			mode = VerifyCrossPlatform
		}
		if mode == VerifyNever {
			continue
		}
		for _, remote := range remotes {
			if mode == VerifyCrossPlatform && sameLabels(localLabels, remote.Labels) {
				continue
			}
			plans = append(plans, VerifyPlan{Task: t.Task, Node: remote.Node})
		}
	}
	return plans
}

func sameLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, l := range a {
		seen[l] = true
	}
	for _, l := range b {
		if !seen[l] {
			return false
		}
	}
	return true
}

// VerifyOutcome is one re-run's result, ready to be merged into the run
// manifest.
type VerifyOutcome struct {
	Plan     VerifyPlan
	Success  bool
	ExitCode int
	Err      error
}

// Dispatcher is the subset of Client that RunVerification needs,
// kept narrow so tests can fake it without standing up a gRPC server.
type Dispatcher interface {
	Dispatch(ctx context.Context, task core.Task, workdir string, env map[string]string) (stdout, stderr []byte, exitCode int, err error)
}

// RunVerification dispatches every plan concurrently (bounded by ctx's
// deadline, if any) and collects outcomes. A single node failing does not
// stop the others: errgroup is only used to fan out and join, not to
// short-circuit on first error.
func RunVerification(ctx context.Context, plans []VerifyPlan, workdir string, dial func(node string) (Dispatcher, error), timeout time.Duration) []VerifyOutcome {
	outcomes := make([]VerifyOutcome, len(plans))

	g, gctx := errgroup.WithContext(ctx)
	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			callCtx, cancel := contextWithDeadline(gctx, timeout)
			defer cancel()

			client, err := dial(plan.Node)
			if err != nil {
				outcomes[i] = VerifyOutcome{Plan: plan, Err: err}
				return nil
			}
			_, _, exitCode, err := client.Dispatch(callCtx, plan.Task, workdir, nil)
			outcomes[i] = VerifyOutcome{Plan: plan, Success: err == nil && exitCode == 0, ExitCode: exitCode, Err: err}
			return nil
		})
	}
	_ = g.Wait() // individual failures are captured per-outcome, never aborts the fan-out

	return outcomes
}
