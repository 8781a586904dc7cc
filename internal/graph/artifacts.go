package graph

import "sykli/internal/core"

// validateArtifacts runs after matrix expansion (spec §4.1): for every
// task_inputs entry in task T referencing source S with output O, verifies
// (1) S exists in the expanded graph, (2) S declares O, (3) S is in T's
// transitive dependency closure (reachable via depends_on, not necessarily a
// direct dependency).
func validateArtifacts(tasks []core.Task) error {
	byName := make(map[string]core.Task, len(tasks))
	for _, t := range tasks {
		byName[t.Name] = t
	}

	for _, t := range tasks {
		if len(t.TaskInputs) == 0 {
			continue
		}
		closure := ancestorClosure(t.Name, byName)
		for _, ti := range t.TaskInputs {
			source, ok := byName[ti.FromTask]
			if !ok {
				return artifactErrorf(t.Name, ti.FromTask, ti.Output, "missing_source", "no such task")
			}
			if _, declares := source.Outputs[ti.Output]; !declares {
				return artifactErrorf(t.Name, ti.FromTask, ti.Output, "missing_output", "source does not declare this output")
			}
			if !closure[ti.FromTask] {
				return artifactErrorf(t.Name, ti.FromTask, ti.Output, "not_in_closure", "source is not in the consumer's transitive dependency closure")
			}
		}
	}
	return nil
}

// ancestorClosure returns the set of task names reachable from name by
// walking depends_on edges upward (name's transitive dependencies).
func ancestorClosure(name string, byName map[string]core.Task) map[string]bool {
	visited := make(map[string]bool)
	var walk func(n string)
	walk = func(n string) {
		t, ok := byName[n]
		if !ok {
			return
		}
		for _, dep := range t.DependsOn {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			walk(dep)
		}
	}
	walk(name)
	return visited
}
