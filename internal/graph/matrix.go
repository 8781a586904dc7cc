package graph

import (
	"fmt"
	"sort"

	"sykli/internal/core"
)

// ExpandMatrix replaces every task carrying a Matrix with one Task per
// Cartesian-product variant, independent of the rest of loader validation.
// Variant names are deterministic: dimension keys are sorted before
// formatting the suffix, so the same matrix always produces the same names
// regardless of map iteration order. Any task that depends on a
// since-expanded matrix task has its depends_on rewritten to the full set of
// that task's variant names.
func ExpandMatrix(tasks []core.Task) ([]core.Task, error) {
	variantNames := make(map[string][]string, len(tasks)) // original name -> expanded variant names, in order

	expanded := make([]core.Task, 0, len(tasks))
	for _, t := range tasks {
		if len(t.Matrix) == 0 {
			expanded = append(expanded, t)
			variantNames[t.Name] = []string{t.Name}
			continue
		}

		variants, err := expandOne(t)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(variants))
		for _, v := range variants {
			names = append(names, v.Name)
		}
		variantNames[t.Name] = names
		expanded = append(expanded, variants...)
	}

	// Rewrite depends_on to reference expanded variant sets.
	for i := range expanded {
		if len(expanded[i].DependsOn) == 0 {
			continue
		}
		rewritten := make([]string, 0, len(expanded[i].DependsOn))
		for _, dep := range expanded[i].DependsOn {
			names, ok := variantNames[dep]
			if !ok {
				// Unknown dependency: leave as-is, dag.NewTaskGraph will reject it
				// with a clear "unknown task" error.
				rewritten = append(rewritten, dep)
				continue
			}
			rewritten = append(rewritten, names...)
		}
		expanded[i].DependsOn = dedupeStrings(rewritten)
	}

	return expanded, nil
}

// expandOne produces the Cartesian product of t.Matrix as one Task per
// combination, each named "<base>-<v1>-<v2>..." where values are taken in
// dimension-key-sorted order (spec §3/§8 scenario 2), e.g. matrix
// {"os":["linux","macos"],"ver":["1","2"]} on task "test" yields
// test-linux-1, test-linux-2, test-macos-1, test-macos-2.
func expandOne(t core.Task) ([]core.Task, error) {
	keys := make([]string, 0, len(t.Matrix))
	for k := range t.Matrix {
		if len(t.Matrix[k]) == 0 {
			return nil, schemaErrorf("E011", "invalid_format: task %q matrix dimension %q has no values", t.Name, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	combos := []map[string]string{{}}
	for _, k := range keys {
		values := t.Matrix[k]
		next := make([]map[string]string, 0, len(combos)*len(values))
		for _, combo := range combos {
			for _, v := range values {
				nc := make(map[string]string, len(combo)+1)
				for ck, cv := range combo {
					nc[ck] = cv
				}
				nc[k] = v
				next = append(next, nc)
			}
		}
		combos = next
	}

	out := make([]core.Task, 0, len(combos))
	for _, combo := range combos {
		variant := t
		variant.Matrix = nil
		variant.MatrixValues = make(map[string]string, len(combo))
		suffix := ""
		for _, k := range keys {
			suffix += fmt.Sprintf("-%s", combo[k])
			variant.MatrixValues[k] = combo[k]
		}
		variant.Name = t.Name + suffix
		out = append(out, variant)
	}
	return out, nil
}
