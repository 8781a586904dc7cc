// Package graph parses a pipeline's declarative JSON document into a
// validated dag.TaskGraph (spec §4.1's Graph Loader).
//
// The document shape is `{"tasks":[{...}, ...]}` — there is no top-level
// edges array; dependency edges are derived from each task's depends_on.
package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"sykli/internal/core"
	"sykli/internal/dag"
)

// rawTask mirrors core.Task but leaves Outputs untyped so both the list form
// (`["a","b"]`) and the mapping form (`{"a":"dist/a"}`) decode successfully;
// normalizeOutputs converts either into core.Task's map[string]string.
type rawTask struct {
	Name           string              `json:"name"`
	Command        string              `json:"command"`
	Container      string              `json:"container,omitempty"`
	Workdir        string              `json:"workdir,omitempty"`
	TimeoutSeconds int                 `json:"timeout_seconds,omitempty"`
	DependsOn      []string            `json:"depends_on,omitempty"`
	TaskInputs     []core.TaskInput    `json:"task_inputs,omitempty"`
	Inputs         []string            `json:"inputs,omitempty"`
	Outputs        json.RawMessage     `json:"outputs,omitempty"`
	Retry          int                 `json:"retry,omitempty"`
	Secrets        []string            `json:"secrets,omitempty"`
	Env            map[string]string   `json:"env,omitempty"`
	Mounts         []core.Mount        `json:"mounts,omitempty"`
	Services       []core.Service      `json:"services,omitempty"`
	Requires       []string            `json:"requires,omitempty"`
	Condition      string              `json:"condition,omitempty"`
	Matrix         map[string][]string `json:"matrix,omitempty"`
	MatrixValues   map[string]string   `json:"matrix_values,omitempty"`
	Semantic       *core.SemanticMeta  `json:"semantic,omitempty"`
	AIHooks        *core.AIHooks       `json:"ai_hooks,omitempty"`
	Capability     *core.Capability    `json:"capability,omitempty"`
	Gate           string              `json:"gate,omitempty"`
	Verify         string              `json:"verify,omitempty"`
}

type graphDoc struct {
	Tasks []rawTask `json:"tasks"`
}

// LoadFromFile reads, parses, normalizes, expands, and validates the graph
// document at path, returning a canonical dag.TaskGraph.
func LoadFromFile(path string) (*dag.TaskGraph, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	return LoadFromBytes(b)
}

// LoadFromBytes parses raw JSON bytes into a canonical dag.TaskGraph.
func LoadFromBytes(b []byte) (*dag.TaskGraph, error) {
	var doc graphDoc
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, schemaErrorf("E012", "json_parse_error: %v", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return nil, schemaErrorf("E012", "json_parse_error: trailing data after graph document")
		}
		return nil, schemaErrorf("E012", "json_parse_error: %v", err)
	}
	if len(doc.Tasks) == 0 {
		return nil, schemaErrorf("E011", "invalid_format: no tasks")
	}

	tasks := make([]core.Task, 0, len(doc.Tasks))
	for _, rt := range doc.Tasks {
		t, err := normalizeTask(rt)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	expanded, err := ExpandMatrix(tasks)
	if err != nil {
		return nil, err
	}

	if err := validateArtifacts(expanded); err != nil {
		return nil, err
	}

	edges := deriveEdges(expanded)
	g, err := dag.NewTaskGraph(expanded, edges)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// normalizeTask validates one task's embedded services/mounts, normalizes
// its outputs shape, and dedupes depends_on.
func normalizeTask(rt rawTask) (core.Task, error) {
	if rt.Name == "" {
		return core.Task{}, schemaErrorf("E011", "invalid_format: task name is required")
	}

	for _, s := range rt.Services {
		if s.Image == "" || s.Name == "" {
			return core.Task{}, schemaErrorf("E011", "invalid_format: task %q service missing image or name", rt.Name)
		}
	}
	for _, m := range rt.Mounts {
		if m.Resource == "" || m.Path == "" {
			return core.Task{}, schemaErrorf("E011", "invalid_format: task %q mount missing resource or path", rt.Name)
		}
		if m.Type != core.MountDirectory && m.Type != core.MountCache {
			return core.Task{}, schemaErrorf("E011", "invalid_format: task %q mount has invalid type %q", rt.Name, m.Type)
		}
	}

	outputs, err := normalizeOutputs(rt.Outputs)
	if err != nil {
		return core.Task{}, schemaErrorf("E011", "invalid_format: task %q outputs: %v", rt.Name, err)
	}

	return core.Task{
		Name:           rt.Name,
		Command:        rt.Command,
		Container:      rt.Container,
		Workdir:        rt.Workdir,
		TimeoutSeconds: rt.TimeoutSeconds,
		DependsOn:      dedupeStrings(rt.DependsOn),
		TaskInputs:     rt.TaskInputs,
		Inputs:         rt.Inputs,
		Outputs:        outputs,
		Retry:          rt.Retry,
		Secrets:        rt.Secrets,
		Env:            rt.Env,
		Mounts:         rt.Mounts,
		Services:       rt.Services,
		Requires:       rt.Requires,
		Condition:      rt.Condition,
		Matrix:         rt.Matrix,
		MatrixValues:   rt.MatrixValues,
		Semantic:       rt.Semantic,
		AIHooks:        rt.AIHooks,
		Capability:     rt.Capability,
		Gate:           rt.Gate,
		Verify:         rt.Verify,
	}, nil
}

// normalizeOutputs converts either JSON shape into core.Task's map form. A
// list `["a","b"]` becomes `{"output_0":"a","output_1":"b"}`, preserving
// declaration order in the synthetic names. A mapping passes through as-is.
func normalizeOutputs(raw json.RawMessage) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		out := make(map[string]string, len(asList))
		for i, pattern := range asList {
			out[fmt.Sprintf("output_%d", i)] = pattern
		}
		return out, nil
	}

	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return asMap, nil
	}

	return nil, fmt.Errorf("must be a list of strings or a string map")
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// deriveEdges builds dag.Edge pairs from each task's depends_on list — the
// loader's job, since dag.NewTaskGraph still takes explicit edges.
func deriveEdges(tasks []core.Task) []dag.Edge {
	edges := make([]dag.Edge, 0, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			edges = append(edges, dag.Edge{From: dep, To: t.Name})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}
