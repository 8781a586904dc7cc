package delta

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sykli/internal/core"
	"sykli/internal/dag"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"src/*.go", "src/main.go", true},
		{"src/*.go", "src/sub/main.go", false},
		{"src/**/*.go", "src/sub/main.go", true},
		{"src/**", "src/a/b/c.txt", true},
		{"*.md", "README.md", true},
		{"*.md", "docs/README.md", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Match(c.pattern, c.name), "Match(%q, %q)", c.pattern, c.name)
	}
}

func TestAffectedTasks_DirectAndTransitive(t *testing.T) {
	tasks := []core.Task{
		{Name: "build", Inputs: []string{"src/**/*.go"}},
		{Name: "test", DependsOn: []string{"build"}},
		{Name: "deploy", DependsOn: []string{"test"}},
		{Name: "lint", Inputs: []string{"*.md"}},
	}
	tg, err := dag.NewTaskGraph(tasks, []dag.Edge{
		{From: "build", To: "test"},
		{From: "test", To: "deploy"},
	})
	require.NoError(t, err)

	reasons := AffectedTasks(tg, []string{"src/main.go"})
	var names []string
	for _, r := range reasons {
		names = append(names, r.Task)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"build", "deploy", "test"}, names)

	for _, r := range reasons {
		switch r.Task {
		case "build":
			assert.True(t, r.Direct, "build should be a direct hit")
		case "test", "deploy":
			assert.False(t, r.Direct, "%s should not be a direct hit", r.Task)
		}
	}
}

func TestAffectedTasks_NoMatchIsEmpty(t *testing.T) {
	tasks := []core.Task{{Name: "build", Inputs: []string{"src/**/*.go"}}}
	tg, err := dag.NewTaskGraph(tasks, nil)
	require.NoError(t, err)
	assert.Empty(t, AffectedTasks(tg, []string{"docs/README.md"}))
}
