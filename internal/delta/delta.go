// Package delta computes the set of files changed since a reference commit
// and the tasks a graph's dependency structure makes reachable from them
// (spec §4.10's Delta & Planner).
package delta

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"sykli/internal/core"
	"sykli/internal/dag"
)

const gitTimeout = 10 * time.Second

// ChangedFiles returns the paths changed relative to ref (tracked
// modifications plus untracked, non-ignored files), sorted and deduplicated.
// It shells out to git with a bounded timeout, mirroring the teacher's
// context-cancellation idiom for external processes.
func ChangedFiles(ctx context.Context, projectRoot, ref string) ([]string, error) {
	tracked, err := runGit(ctx, projectRoot, "diff", "--name-only", ref)
	if err != nil {
		return nil, fmt.Errorf("delta: git diff: %w", err)
	}
	untracked, err := runGit(ctx, projectRoot, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, fmt.Errorf("delta: git ls-files: %w", err)
	}

	seen := map[string]bool{}
	var out []string
	for _, f := range append(tracked, untracked...) {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

func runGit(ctx context.Context, dir string, args ...string) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.Split(stdout.String(), "\n"), nil
}

// Reason records why a task is affected by a change set.
type Reason struct {
	Task    string
	Direct  bool     // task's own Inputs matched a changed file
	Via     string   // non-empty when Direct is false: the dependency that pulled this task in
	Matched []string // changed files that matched (only set when Direct)
}

// AffectedTasks returns, for every task whose declared Inputs glob-match a
// changed file (direct hits) plus every transitive dependent of a direct
// hit (spec §4.10's "affected set"), a Reason keyed by task name. The result
// order is deterministic: task names sorted lexicographically.
func AffectedTasks(tg *dag.TaskGraph, changed []string) []Reason {
	tasks := map[string]core.Task{}
	for _, n := range tg.Nodes() {
		tasks[n.Name] = n.Task
	}

	direct := map[string][]string{}
	for name, t := range tasks {
		var hits []string
		for _, pattern := range t.Inputs {
			for _, f := range changed {
				if Match(pattern, f) {
					hits = append(hits, f)
				}
			}
		}
		if len(hits) > 0 {
			sort.Strings(hits)
			direct[name] = hits
		}
	}

	dependents := reverseDependents(tasks)
	affectedVia := map[string]string{}
	queue := make([]string, 0, len(direct))
	for name := range direct {
		queue = append(queue, name)
	}
	sort.Strings(queue)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[cur] {
			if _, isDirect := direct[dep]; isDirect {
				continue
			}
			if _, already := affectedVia[dep]; already {
				continue
			}
			affectedVia[dep] = cur
			queue = append(queue, dep)
		}
	}

	var reasons []Reason
	for name, hits := range direct {
		reasons = append(reasons, Reason{Task: name, Direct: true, Matched: hits})
	}
	for name, via := range affectedVia {
		reasons = append(reasons, Reason{Task: name, Direct: false, Via: via})
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i].Task < reasons[j].Task })
	return reasons
}

func reverseDependents(tasks map[string]core.Task) map[string][]string {
	out := map[string][]string{}
	for name, t := range tasks {
		for _, dep := range t.DependsOn {
			out[dep] = append(out[dep], name)
		}
	}
	for dep := range out {
		sort.Strings(out[dep])
	}
	return out
}

// Match reports whether name matches pattern, a slash-separated glob where
// "*" matches any run of non-slash characters and "**" matches any run of
// characters including slashes. No corpus library implements this two-token
// grammar directly, so it is hand-rolled here; internal/core's own input
// resolver uses filepath.Glob, which lacks "**".
func Match(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	head := pattern[0]
	if head == "**" {
		if matchSegments(pattern[1:], name) {
			return true
		}
		if len(name) == 0 {
			return false
		}
		return matchSegments(pattern, name[1:])
	}
	if len(name) == 0 {
		return false
	}
	if !matchSegment(head, name[0]) {
		return false
	}
	return matchSegments(pattern[1:], name[1:])
}

func matchSegment(pattern, segment string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == segment
	}
	parts := strings.Split(pattern, "*")
	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(segment[pos:], part)
		if idx < 0 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(part)
	}
	if last := parts[len(parts)-1]; last != "" && !strings.HasSuffix(segment, last) {
		return false
	}
	return true
}
