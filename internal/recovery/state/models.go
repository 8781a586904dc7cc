package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type RunStatus string

// Run is the persistent execution attempt metadata (spec §4.9's run record).
//
// Schema constraints (frozen): must include run_id, graph_hash, start_time,
// status, and previous_run_id (nullable, set when a run is a retry of a
// prior failed run). TraceHash is populated once the run finishes and
// records the canonical execution trace's hash (internal/trace), so two
// recorded runs can be compared for identical scheduling decisions without
// re-running anything.
type Run struct {
	RunID         string    `json:"run_id"`
	GraphHash     string    `json:"graph_hash"`
	StartTime     time.Time `json:"start_time"`
	Status        RunStatus `json:"status"`
	PreviousRunID *string   `json:"previous_run_id"`
	TraceHash     string    `json:"trace_hash,omitempty"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.GraphHash) == "" {
		errs = append(errs, errors.New("graph_hash is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	if strings.TrimSpace(string(r.Status)) == "" {
		errs = append(errs, errors.New("status is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

type FailureClass string

const (
	FailureClassGraph     FailureClass = "graph"
	FailureClassWorkspace FailureClass = "workspace"
	FailureClassExecution FailureClass = "execution"
	FailureClassSystem    FailureClass = "system"
)

// Failure is a recorded run termination reason.
//
// Schema constraints (frozen): must include failure_class, node_id (optional),
// error_code, error_message, and resumable.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	NodeID       *string      `json:"node_id,omitempty"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
	Resumable    bool         `json:"resumable"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassGraph, FailureClassWorkspace, FailureClassExecution, FailureClassSystem:
		// ok
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.NodeID != nil && strings.TrimSpace(*f.NodeID) == "" {
		errs = append(errs, errors.New("node_id must not be empty when provided"))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
