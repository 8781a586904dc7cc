package delta

import (
	"fmt"
	"time"

	"sykli/internal/core"
	"sykli/internal/dag"
	"sykli/internal/executor"
)

// PlannedTask is one task's entry in a PlanReport: whether a change set
// affects it, whether it would hit the cache right now, and the historical
// duration used for the estimate.
type PlannedTask struct {
	Task              string
	Affected          bool
	Reason            *Reason
	Level             int
	WouldHit          bool
	MissReason        core.MissReason
	EstimatedDuration time.Duration
}

// PlanReport is the dry-run report spec §4.10's Planner produces: no task is
// executed, but the affected set, per-level grouping, critical path, and
// rough timing are computed exactly as a real run would see them.
type PlanReport struct {
	Changed              []string
	Tasks                []PlannedTask
	CriticalPath         []string
	CriticalPathDuration time.Duration
	MaxParallelism       int
	EstimatedDuration     time.Duration
}

// WorkdirFunc resolves a task's working directory, mirroring executor.Runner's
// own resolution (project root unless the task names an absolute or
// relative override).
type WorkdirFunc func(task core.Task) string

// Plan combines Delta's affected-set computation with Cache.CheckDetailed
// (no execution) to produce the dry-run report: which tasks a change set
// affects, whether each would hit cache, and a critical-path/max-parallelism
// estimate built from historical durations (spec §4.10).
func Plan(tg *dag.TaskGraph, changed []string, cache core.Cache, workdirOf WorkdirFunc, buildEnv map[string]string, toolVersion string) (PlanReport, error) {
	reasons := AffectedTasks(tg, changed)
	byTask := make(map[string]Reason, len(reasons))
	for _, r := range reasons {
		r := r
		byTask[r.Task] = r
	}

	nodes := tg.Nodes()
	tasks := make([]PlannedTask, 0, len(nodes))
	durations := make(map[string]time.Duration, len(nodes))
	levelCounts := make(map[int]int)

	for _, n := range nodes {
		level, _ := tg.Depth(n.Name)
		levelCounts[level]++

		workdir := workdirOf(n.Task)
		fp, comps, err := executor.Fingerprint(n.Task, workdir, buildEnv, toolVersion)
		if err != nil {
			return PlanReport{}, fmt.Errorf("planner: fingerprinting %q: %w", n.Name, err)
		}
		check, err := cache.CheckDetailed(n.Name, fp, comps)
		if err != nil {
			return PlanReport{}, fmt.Errorf("planner: checking %q: %w", n.Name, err)
		}

		duration, haveDuration := cache.LastDuration(n.Name)
		if !haveDuration && check.Hit && check.Entry != nil {
			duration = check.Entry.Duration
		}
		durations[n.Name] = duration

		planned := PlannedTask{
			Task:              n.Name,
			Level:             level,
			WouldHit:          check.Hit,
			MissReason:        check.Reason,
			EstimatedDuration: duration,
		}
		if r, ok := byTask[n.Name]; ok {
			planned.Affected = true
			rc := r
			planned.Reason = &rc
		}
		tasks = append(tasks, planned)
	}

	path, pathDuration := criticalPath(tg, durations)

	maxParallelism := 0
	for _, count := range levelCounts {
		if count > maxParallelism {
			maxParallelism = count
		}
	}

	return PlanReport{
		Changed:              changed,
		Tasks:                tasks,
		CriticalPath:         path,
		CriticalPathDuration: pathDuration,
		MaxParallelism:       maxParallelism,
		EstimatedDuration:    pathDuration,
	}, nil
}

// criticalPath finds the longest chain (by summed historical duration)
// through the graph's dependency edges via a single topological-order DP
// pass: best[name] is the longest duration-weighted path ending at name.
func criticalPath(tg *dag.TaskGraph, durations map[string]time.Duration) ([]string, time.Duration) {
	order := tg.TopologicalOrder()
	best := make(map[string]time.Duration, len(order))
	prev := make(map[string]string, len(order))

	predecessors := make(map[string][]string)
	for _, e := range tg.Edges() {
		predecessors[e.To] = append(predecessors[e.To], e.From)
	}

	var endOfBest string
	var bestTotal time.Duration
	for _, name := range order {
		own := durations[name]
		longest := time.Duration(0)
		var via string
		for _, p := range predecessors[name] {
			if best[p] > longest {
				longest = best[p]
				via = p
			}
		}
		total := longest + own
		best[name] = total
		if via != "" {
			prev[name] = via
		}
		if total >= bestTotal {
			bestTotal = total
			endOfBest = name
		}
	}

	if endOfBest == "" {
		return nil, 0
	}
	var path []string
	for cur := endOfBest; cur != ""; {
		path = append([]string{cur}, path...)
		next, ok := prev[cur]
		if !ok {
			break
		}
		cur = next
	}
	return path, bestTotal
}
