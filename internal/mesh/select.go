package mesh

import (
	"context"
	"fmt"
	"strings"
)

// Strategy controls the order candidate nodes are tried in.
type Strategy string

const (
	StrategyAny    Strategy = "any"
	StrategyLocal  Strategy = "local"
	StrategyRemote Strategy = "remote"
)

// Candidate is one node eligible for placement.
type Candidate struct {
	Node   string
	Labels []string
}

func (c Candidate) hasAll(required []string) bool {
	for _, r := range required {
		found := false
		for _, l := range c.Labels {
			if l == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// NodeFailure records why one candidate was rejected during placement.
type NodeFailure struct {
	Node   string
	Reason string
}

// PlacementError is returned when no candidate could run the task. It
// bundles every node's rejection reason and a set of actionable hints.
type PlacementError struct {
	TaskName string
	Failures []NodeFailure
	Hints    []string
}

func (e *PlacementError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no node available to run %q:", e.TaskName)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, " [%s: %s]", f.Node, f.Reason)
	}
	for _, h := range e.Hints {
		fmt.Fprintf(&b, " (hint: %s)", h)
	}
	return b.String()
}

func buildHints(requires []string, filtered int, failures []NodeFailure) []string {
	var hints []string
	if len(requires) > 0 && filtered == 0 {
		hints = append(hints, fmt.Sprintf("no candidate carries all required labels (%s); add matching labels to a node", strings.Join(requires, ", ")))
	}
	for _, f := range failures {
		if strings.Contains(strings.ToLower(f.Reason), "docker") {
			hints = append(hints, "start the container runtime (docker) on "+f.Node)
			break
		}
	}
	return hints
}

// Runner attempts to run the task on node, returning a non-nil error on
// failure. SelectNode calls it once per ordered candidate until one
// succeeds.
type Runner func(ctx context.Context, node string) error

// Result is the winning placement.
type Result struct {
	Node string
}

// SelectNode filters candidates to those carrying every label in requires,
// orders the survivors per strategy (local node first unless strategy
// forces otherwise), and tries each in turn via run. The first success
// wins; if every candidate fails, a PlacementError bundles the reasons.
func SelectNode(ctx context.Context, taskName string, requires []string, candidates []Candidate, strategy Strategy, localNode string, run Runner) (Result, error) {
	var eligible []Candidate
	for _, c := range candidates {
		if c.hasAll(requires) {
			eligible = append(eligible, c)
		}
	}

	ordered := orderCandidates(eligible, strategy, localNode)

	var failures []NodeFailure
	for _, c := range ordered {
		if err := run(ctx, c.Node); err != nil {
			failures = append(failures, NodeFailure{Node: c.Node, Reason: err.Error()})
			continue
		}
		return Result{Node: c.Node}, nil
	}

	return Result{}, &PlacementError{
		TaskName: taskName,
		Failures: failures,
		Hints:    buildHints(requires, len(eligible), failures),
	}
}

// orderCandidates puts the local node first (unless strategy is "remote",
// which excludes it entirely), or, for "local", drops every remote node.
func orderCandidates(candidates []Candidate, strategy Strategy, localNode string) []Candidate {
	var local []Candidate
	var remote []Candidate
	for _, c := range candidates {
		if c.Node == localNode {
			local = append(local, c)
		} else {
			remote = append(remote, c)
		}
	}

	switch strategy {
	case StrategyLocal:
		return local
	case StrategyRemote:
		return remote
	default: // StrategyAny or unset: local first, then remote
		return append(local, remote...)
	}
}
