package dag

import "sort"

// Levels returns the graph's topological layering: level i holds every task
// whose depth is exactly i, each level's names sorted lexicographically.
// level(t) = 0 when depends_on(t) is empty, otherwise 1 + max(level(d)) over
// its dependencies — exactly the depth already computed at construction time.
func (g *TaskGraph) Levels() [][]string {
	if len(g.nodes) == 0 {
		return nil
	}
	maxDepth := 0
	for _, d := range g.depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	levels := make([][]string, maxDepth+1)
	for i, n := range g.nodes {
		d := g.depth[i]
		levels[d] = append(levels[d], n.Name)
	}
	for _, l := range levels {
		sort.Strings(l)
	}
	return levels
}
