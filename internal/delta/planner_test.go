package delta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sykli/internal/core"
	"sykli/internal/dag"
)

func planTestGraph(t *testing.T) *dag.TaskGraph {
	t.Helper()
	tasks := []core.Task{
		{Name: "build", Command: "go build ./...", Inputs: []string{"src/**/*.go"}},
		{Name: "test", Command: "go test ./...", DependsOn: []string{"build"}},
		{Name: "lint", Command: "golangci-lint run"},
		{Name: "deploy", Command: "deploy.sh", DependsOn: []string{"test", "lint"}},
	}
	tg, err := dag.NewTaskGraph(tasks, []dag.Edge{
		{From: "build", To: "test"},
		{From: "test", To: "deploy"},
		{From: "lint", To: "deploy"},
	})
	require.NoError(t, err)
	return tg
}

func identityWorkdir(dir string) WorkdirFunc {
	return func(core.Task) string { return dir }
}

func TestPlan_MarksAffectedTasksFromChangedFiles(t *testing.T) {
	dir := t.TempDir()
	tg := planTestGraph(t)
	cache := core.NewMemoryCache()

	report, err := Plan(tg, []string{"src/main.go"}, cache, identityWorkdir(dir), nil, "test-tool")
	require.NoError(t, err)

	byName := map[string]PlannedTask{}
	for _, pt := range report.Tasks {
		byName[pt.Task] = pt
	}
	assert.True(t, byName["build"].Affected)
	assert.True(t, byName["test"].Affected)
	assert.False(t, byName["lint"].Affected)
}

func TestPlan_ReportsCacheHitsFromMemoryCache(t *testing.T) {
	dir := t.TempDir()
	tg := planTestGraph(t)
	cache := core.NewMemoryCache()

	node, ok := tg.Node("lint")
	require.True(t, ok)
	fp, comps, err := fingerprintFor(node.Task, dir, "test-tool")
	require.NoError(t, err)
	require.NoError(t, cache.Put(&core.CacheEntry{
		Fingerprint: fp,
		TaskName:    "lint",
		Components:  comps,
		Duration:    3 * time.Second,
		CachedAt:    time.Now(),
	}, nil))

	report, err := Plan(tg, nil, cache, identityWorkdir(dir), nil, "test-tool")
	require.NoError(t, err)

	var lintPlan PlannedTask
	for _, pt := range report.Tasks {
		if pt.Task == "lint" {
			lintPlan = pt
		}
	}
	assert.True(t, lintPlan.WouldHit)
	assert.Equal(t, 3*time.Second, lintPlan.EstimatedDuration)
}

func TestPlan_CriticalPathFollowsLongestWeightedChain(t *testing.T) {
	dir := t.TempDir()
	tg := planTestGraph(t)
	cache := core.NewMemoryCache()

	durations := map[string]time.Duration{
		"build": 10 * time.Second,
		"test":  20 * time.Second,
		"lint":  1 * time.Second,
	}
	for name, d := range durations {
		node, ok := tg.Node(name)
		require.True(t, ok)
		fp, comps, err := fingerprintFor(node.Task, dir, "test-tool")
		require.NoError(t, err)
		require.NoError(t, cache.Put(&core.CacheEntry{
			Fingerprint: fp, TaskName: name, Components: comps, Duration: d, CachedAt: time.Now(),
		}, nil))
	}

	report, err := Plan(tg, nil, cache, identityWorkdir(dir), nil, "test-tool")
	require.NoError(t, err)

	assert.Equal(t, []string{"build", "test", "deploy"}, report.CriticalPath)
	assert.Equal(t, 30*time.Second, report.CriticalPathDuration)
	assert.Equal(t, report.CriticalPathDuration, report.EstimatedDuration)
}

func TestPlan_MaxParallelismIsLargestLevel(t *testing.T) {
	dir := t.TempDir()
	tg := planTestGraph(t)
	cache := core.NewMemoryCache()

	report, err := Plan(tg, nil, cache, identityWorkdir(dir), nil, "test-tool")
	require.NoError(t, err)

	// build and lint share level 0 (no dependencies) -> max parallelism >= 2.
	assert.GreaterOrEqual(t, report.MaxParallelism, 2)
}

func fingerprintFor(task core.Task, workdir, toolVersion string) (core.Fingerprint, core.ComponentHashes, error) {
	resolver := core.NewInputResolver(workdir)
	inputs, err := resolver.Resolve(task.Inputs)
	if err != nil {
		return "", core.ComponentHashes{}, err
	}
	return core.NewHasher().Compute(core.FingerprintInput{
		TaskName:    task.Name,
		Command:     task.Command,
		Inputs:      inputs,
		Container:   task.Container,
		Env:         task.Env,
		Mounts:      task.Mounts,
		BuildEnv:    nil,
		ToolVersion: toolVersion,
	})
}
