// Package history builds the "occurrence" document emitted at the end of
// each run (spec §4.9): a structured, programmatically-consumable summary
// of what happened, why, and how it compares to recent history.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sykli/internal/dag"
	"sykli/internal/delta"
)

// Outcome is the run's overall verdict.
type Outcome string

const (
	OutcomePassed Outcome = "passed"
	OutcomeFailed Outcome = "failed"
)

// OccurrenceType mirrors Outcome into the `type` field's dotted vocabulary.
type OccurrenceType string

const (
	TypeRunPassed OccurrenceType = "ci.run.passed"
	TypeRunFailed OccurrenceType = "ci.run.failed"
)

// Occurrence is the full structured record for one run.
type Occurrence struct {
	Version   int       `json:"version"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   Outcome   `json:"outcome"`
	Severity  string    `json:"severity"`
	Type      OccurrenceType `json:"type"`

	Error     *ErrorBlock     `json:"error,omitempty"`
	Reasoning []ReasoningItem `json:"reasoning,omitempty"`
	History   HistoryBlock    `json:"history"`
	CI        CIData          `json:"ci"`
}

// ErrorBlock is populated only when Outcome is OutcomeFailed.
type ErrorBlock struct {
	WhatFailed      string          `json:"what_failed"`
	WhyItMatters    string          `json:"why_it_matters"`
	PossibleCauses  []string        `json:"possible_causes"`
	SuggestedFix    string          `json:"suggested_fix"`
	Output          string          `json:"output"` // truncated to 200 lines
	ExitCode        int             `json:"exit_code"`
	Locations       []Location      `json:"locations,omitempty"`
	MultiFailure     bool           `json:"multi_failure"`
	FailedTaskCount  int            `json:"failed_task_count,omitempty"`
}

// ReasoningItem is the per-failed-task entry in the reasoning block.
type ReasoningItem struct {
	Task          string   `json:"task"`
	ChangedFiles  []string `json:"changed_files"`
	Confidence    float64  `json:"confidence"`
	Summary       string   `json:"summary"`
}

// HistoryBlock summarizes run history alongside the current run.
type HistoryBlock struct {
	Steps          []string                `json:"steps"`
	RecentOutcomes map[string][]string     `json:"recent_outcomes,omitempty"`
	Regressions    []string                `json:"regressions,omitempty"`
}

// CIData carries git/CI context plus per-task detail.
type CIData struct {
	GitSHA       string              `json:"git_sha,omitempty"`
	GitBranch    string              `json:"git_branch,omitempty"`
	GitRemoteURL string              `json:"git_remote_url,omitempty"`
	TotalTasks   int                 `json:"total_tasks"`
	Passed       int                 `json:"passed"`
	Failed       int                 `json:"failed"`
	Skipped      int                 `json:"skipped"`
	Tasks        []TaskDetail        `json:"tasks"`
}

// TaskDetail is one task's contribution to the CI data block.
type TaskDetail struct {
	Name      string            `json:"name"`
	Command   string            `json:"command"`
	Status    string            `json:"status"`
	ErrorCode string            `json:"error_code,omitempty"`
	Covers    []string          `json:"covers,omitempty"`
	Intent    string            `json:"intent,omitempty"`
}

// TaskOutcome is one task's result, as fed into Build.
type TaskOutcome struct {
	Task      dag.TaskNode
	Status    string // "passed", "failed", "skipped"
	ErrorCode string
	Output    string
	ExitCode  int
}

// PriorOccurrence is the minimal slice of an earlier occurrence needed to
// compute recent_outcomes/regressions: task name -> that run's status.
type PriorOccurrence struct {
	RunID    string
	Statuses map[string]string
}

// BuildInput bundles everything Build needs to assemble an Occurrence.
type BuildInput struct {
	RunID      string
	Tasks      []TaskOutcome
	TaskGraph  *dag.TaskGraph
	ProjectRoot string
	LastGoodRef string // git ref to diff against for the reasoning block
	GitSHA, GitBranch, GitRemoteURL string
	PriorOccurrences []PriorOccurrence // most recent last
}

// Build assembles the occurrence document for one completed run.
func Build(ctx context.Context, in BuildInput) (Occurrence, error) {
	var failed []TaskOutcome
	var passed, skipped int
	for _, t := range in.Tasks {
		switch t.Status {
		case "failed":
			failed = append(failed, t)
		case "skipped":
			skipped++
		default:
			passed++
		}
	}

	outcome := OutcomePassed
	occType := TypeRunPassed
	severity := "info"
	if len(failed) > 0 {
		outcome = OutcomeFailed
		occType = TypeRunFailed
		severity = "error"
	}

	occ := Occurrence{
		Version:   1,
		ID:        in.RunID,
		Timestamp: time.Now().UTC(),
		Outcome:   outcome,
		Severity:  severity,
		Type:      occType,
		History:   buildHistoryBlock(in),
		CI:        buildCIData(in, passed, skipped, len(failed)),
	}

	if len(failed) > 0 {
		block, err := buildErrorBlock(ctx, in.ProjectRoot, failed)
		if err != nil {
			return Occurrence{}, err
		}
		occ.Error = &block
		occ.Reasoning = buildReasoningBlock(ctx, in, failed)
	}

	return occ, nil
}

func buildErrorBlock(ctx context.Context, projectRoot string, failed []TaskOutcome) (ErrorBlock, error) {
	if len(failed) == 1 {
		t := failed[0]
		locations, err := ExtractLocations(ctx, projectRoot, t.Output)
		if err != nil {
			return ErrorBlock{}, err
		}
		return ErrorBlock{
			WhatFailed:     fmt.Sprintf("task %q failed with exit code %d", t.Task.Name, t.ExitCode),
			WhyItMatters:   "this task gates its dependents; the run cannot be considered green until it passes",
			PossibleCauses: possibleCauses(t),
			SuggestedFix:   suggestedFix(t),
			Output:         truncateLines(t.Output, 200),
			ExitCode:       t.ExitCode,
			Locations:      locations,
		}, nil
	}

	names := make([]string, 0, len(failed))
	for _, t := range failed {
		names = append(names, t.Task.Name)
	}
	return ErrorBlock{
		WhatFailed:      fmt.Sprintf("%d tasks failed: %v", len(failed), names),
		WhyItMatters:    "multiple independent failures suggest a systemic issue rather than one task's bug",
		PossibleCauses:  []string{"a shared dependency or input regressed", "environment or infra instability"},
		MultiFailure:    true,
		FailedTaskCount: len(failed),
	}, nil
}

func possibleCauses(t TaskOutcome) []string {
	switch t.ErrorCode {
	case "E002":
		return []string{"the task exceeded its timeout", "a downstream process hung waiting on input"}
	case "E003":
		return []string{"a required secret is missing or misconfigured"}
	default:
		return []string{"the command's logic or its inputs changed incompatibly"}
	}
}

func suggestedFix(t TaskOutcome) string {
	if t.ErrorCode == "E003" {
		return "verify the task's declared secrets are provisioned for this target"
	}
	return fmt.Sprintf("inspect task %q's output and the files in its most recently changed inputs", t.Task.Name)
}

func truncateLines(s string, maxLines int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	return strings.Join(lines[:maxLines], "\n") + fmt.Sprintf("\n... truncated (%d more lines)", len(lines)-maxLines)
}

func buildReasoningBlock(ctx context.Context, in BuildInput, failed []TaskOutcome) []ReasoningItem {
	changed, err := delta.ChangedFiles(ctx, in.ProjectRoot, in.LastGoodRef)
	if err != nil {
		changed = nil
	}

	items := make([]ReasoningItem, 0, len(failed))
	for _, t := range failed {
		var hits []string
		node, ok := in.TaskGraph.Node(t.Task.Name)
		if ok {
			for _, pattern := range node.Task.Inputs {
				for _, f := range changed {
					if delta.Match(pattern, f) {
						hits = append(hits, f)
					}
				}
			}
		}
		confidence := 0.2
		summary := fmt.Sprintf("no changed file obviously implicates task %q; inspect its full input set", t.Task.Name)
		if len(hits) > 0 {
			confidence = 0.8
			summary = fmt.Sprintf("task %q's inputs intersect %d changed file(s); most likely cause: %s", t.Task.Name, len(hits), hits[0])
		}
		items = append(items, ReasoningItem{
			Task:         t.Task.Name,
			ChangedFiles: hits,
			Confidence:   confidence,
			Summary:      summary,
		})
	}
	return items
}

func buildHistoryBlock(in BuildInput) HistoryBlock {
	steps := make([]string, 0, len(in.Tasks))
	for _, t := range in.Tasks {
		steps = append(steps, fmt.Sprintf("%s: %s", t.Task.Name, t.Status))
	}

	block := HistoryBlock{Steps: steps}
	if len(in.PriorOccurrences) == 0 {
		return block
	}

	recent := make(map[string][]string)
	for _, prior := range in.PriorOccurrences {
		for task, status := range prior.Statuses {
			recent[task] = append(recent[task], status)
		}
	}
	block.RecentOutcomes = recent

	currentlyFailing := make(map[string]bool)
	for _, t := range in.Tasks {
		if t.Status == "failed" {
			currentlyFailing[t.Task.Name] = true
		}
	}
	for task := range currentlyFailing {
		statuses, ok := recent[task]
		if !ok || len(statuses) == 0 {
			continue
		}
		allPassed := true
		for _, s := range statuses {
			if s != "passed" {
				allPassed = false
				break
			}
		}
		if allPassed {
			block.Regressions = append(block.Regressions, task)
		}
	}
	return block
}

func buildCIData(in BuildInput, passed, skipped, failedCount int) CIData {
	tasks := make([]TaskDetail, 0, len(in.Tasks))
	for _, t := range in.Tasks {
		detail := TaskDetail{
			Name:      t.Task.Name,
			Command:   t.Task.Task.Command,
			Status:    t.Status,
			ErrorCode: t.ErrorCode,
		}
		if sem := t.Task.Task.Semantic; sem != nil {
			detail.Covers = sem.Covers
			detail.Intent = sem.Intent
		}
		tasks = append(tasks, detail)
	}
	return CIData{
		GitSHA:       in.GitSHA,
		GitBranch:    in.GitBranch,
		GitRemoteURL: in.GitRemoteURL,
		TotalTasks:   len(in.Tasks),
		Passed:       passed,
		Failed:       failedCount,
		Skipped:      skipped,
		Tasks:        tasks,
	}
}
