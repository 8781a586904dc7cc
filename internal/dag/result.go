package dag

import "sykli/internal/core"

// NodeResult is what a TaskRunner.Probe or TaskRunner.Run returns for a
// single task: the deterministic fingerprint it ran (or would run) under,
// its captured output, and whether it was satisfied from cache.
type NodeResult struct {
	Hash      core.Fingerprint
	Stdout    []byte
	Stderr    []byte
	ExitCode  int
	FromCache bool
}

// GraphResult is the deterministic summary of a graph execution attempt.
//
// This intentionally includes:
//   - Final per-node states
//   - The observed execution order (useful for determinism proofs/tests)
//   - A canonical execution trace, for bit-identical replay comparisons
type GraphResult struct {
	GraphHash GraphHash

	// FinalState is the terminal state of each node by name.
	FinalState ExecutionState

	// ExecutionOrder is the ordered list of tasks that were started (transitioned to RUNNING).
	ExecutionOrder []string

	// TaskHashes records the deterministic per-node fingerprint.
	TaskHashes map[string]core.Fingerprint

	// Stdout/Stderr/ExitCode capture the node results (executed or replayed).
	Stdout   map[string][]byte
	Stderr   map[string][]byte
	ExitCode map[string]int

	// TraceHash/TraceBytes are the canonical JSON trace and its hash, used to
	// prove that serial and parallel execution of the same graph produce an
	// identical causal record.
	TraceHash  string
	TraceBytes []byte
}
