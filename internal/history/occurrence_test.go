package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sykli/internal/core"
	"sykli/internal/dag"
)

func buildTestGraph(t *testing.T, tasks ...core.Task) *dag.TaskGraph {
	t.Helper()
	g, err := dag.NewTaskGraph(tasks, nil)
	require.NoError(t, err)
	return g
}

func taskNode(t *testing.T, g *dag.TaskGraph, name string) dag.TaskNode {
	t.Helper()
	n, ok := g.Node(name)
	require.True(t, ok)
	return *n
}

func TestBuild_AllPassedProducesNoErrorBlock(t *testing.T) {
	dir := t.TempDir()
	tasks := []core.Task{{Name: "lint", Command: "echo ok"}, {Name: "test", Command: "echo ok"}}
	g := buildTestGraph(t, tasks...)

	in := BuildInput{
		RunID:       "run-1",
		ProjectRoot: dir,
		TaskGraph:   g,
		Tasks: []TaskOutcome{
			{Task: taskNode(t, g, "lint"), Status: "passed"},
			{Task: taskNode(t, g, "test"), Status: "passed"},
		},
	}

	occ, err := Build(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, OutcomePassed, occ.Outcome)
	assert.Equal(t, TypeRunPassed, occ.Type)
	assert.Nil(t, occ.Error)
	assert.Empty(t, occ.Reasoning)
	assert.Equal(t, 2, occ.CI.Passed)
	assert.Len(t, occ.History.Steps, 2)
}

func TestBuild_SingleFailureProducesDetailedErrorBlock(t *testing.T) {
	dir := t.TempDir()
	tasks := []core.Task{{Name: "build", Command: "false", Inputs: []string{"src/**"}}}
	g := buildTestGraph(t, tasks...)

	in := BuildInput{
		RunID:       "run-2",
		ProjectRoot: dir,
		TaskGraph:   g,
		Tasks: []TaskOutcome{
			{Task: taskNode(t, g, "build"), Status: "failed", ErrorCode: "E003", ExitCode: 1, Output: "boom"},
		},
	}

	occ, err := Build(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, occ.Outcome)
	assert.Equal(t, TypeRunFailed, occ.Type)
	require.NotNil(t, occ.Error)
	assert.False(t, occ.Error.MultiFailure)
	assert.Contains(t, occ.Error.WhatFailed, "build")
	assert.Equal(t, "verify the task's declared secrets are provisioned for this target", occ.Error.SuggestedFix)
	require.Len(t, occ.Reasoning, 1)
	assert.Equal(t, "build", occ.Reasoning[0].Task)
}

func TestBuild_MultiFailureProducesSummaryErrorBlock(t *testing.T) {
	dir := t.TempDir()
	tasks := []core.Task{{Name: "a", Command: "false"}, {Name: "b", Command: "false"}}
	g := buildTestGraph(t, tasks...)

	in := BuildInput{
		RunID:       "run-3",
		ProjectRoot: dir,
		TaskGraph:   g,
		Tasks: []TaskOutcome{
			{Task: taskNode(t, g, "a"), Status: "failed", ExitCode: 1},
			{Task: taskNode(t, g, "b"), Status: "failed", ExitCode: 1},
		},
	}

	occ, err := Build(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, occ.Error)
	assert.True(t, occ.Error.MultiFailure)
	assert.Equal(t, 2, occ.Error.FailedTaskCount)
}

func TestBuild_RegressionsDetectedAgainstPriorOccurrences(t *testing.T) {
	dir := t.TempDir()
	tasks := []core.Task{{Name: "test", Command: "false"}}
	g := buildTestGraph(t, tasks...)

	in := BuildInput{
		RunID:       "run-4",
		ProjectRoot: dir,
		TaskGraph:   g,
		Tasks: []TaskOutcome{
			{Task: taskNode(t, g, "test"), Status: "failed", ExitCode: 1},
		},
		PriorOccurrences: []PriorOccurrence{
			{RunID: "run-2", Statuses: map[string]string{"test": "passed"}},
			{RunID: "run-3", Statuses: map[string]string{"test": "passed"}},
		},
	}

	occ, err := Build(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, occ.History.Regressions, "test")
}

func TestBuild_CIDataCarriesSemanticMetadata(t *testing.T) {
	dir := t.TempDir()
	tasks := []core.Task{{
		Name:     "unit",
		Command:  "echo ok",
		Semantic: &core.SemanticMeta{Covers: []string{"auth"}, Intent: "verify login"},
	}}
	g := buildTestGraph(t, tasks...)

	in := BuildInput{
		RunID:       "run-5",
		ProjectRoot: dir,
		TaskGraph:   g,
		Tasks: []TaskOutcome{
			{Task: taskNode(t, g, "unit"), Status: "passed"},
		},
	}

	occ, err := Build(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, occ.CI.Tasks, 1)
	assert.Equal(t, []string{"auth"}, occ.CI.Tasks[0].Covers)
	assert.Equal(t, "verify login", occ.CI.Tasks[0].Intent)
}

func TestTruncateLines_LeavesShortOutputUntouched(t *testing.T) {
	assert.Equal(t, "one\ntwo", truncateLines("one\ntwo", 200))
}

func TestTruncateLines_TruncatesLongOutput(t *testing.T) {
	lines := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		lines = append(lines, "line")
	}
	s := ""
	for i, l := range lines {
		if i > 0 {
			s += "\n"
		}
		s += l
	}
	out := truncateLines(s, 200)
	assert.Contains(t, out, "truncated")
}
