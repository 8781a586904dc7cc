// Package target defines the pluggable driver boundary the Executor runs
// tasks through (spec §4.5): a local shell/container driver and a remote
// cluster driver, selected by the CLI's `--target` flag.
package target

import (
	"context"
	"time"

	"sykli/internal/core"
)

// State is an opaque per-run handle returned by Setup and threaded through
// every other Target call. Its concrete type is driver-specific.
type State any

// NetworkInfo is an opaque handle returned by StartServices describing how
// the task can reach its sidecars (e.g. a container network name or set of
// host:port mappings), threaded into StopServices for teardown.
type NetworkInfo any

// Options carry per-run values that are not part of a Task's own definition.
type Options struct {
	GitContext *GitContext
}

// GitContext names a remote repository and ref to clone before a task runs.
// It reaches drivers through Options; neither driver in this module reads it.
type GitContext struct {
	RemoteURL string
	Ref       string
}

// RunOptions bound a single RunTask call.
type RunOptions struct {
	Timeout time.Duration
	// OutputSink, when non-nil, receives the task's output line by line.
	// Cancellation is carried by ctx alone: the local driver sends SIGTERM
	// then SIGKILL to the process group, and the cluster driver deletes the Job.
	OutputSink OutputSink
}

// OutputSink receives buffered, per-line output attributed by task name as a
// task runs, for forwarding onto the event bus (spec §4.5).
type OutputSink interface {
	TaskOutputLine(taskName string, stream string, line string)
}

// RunResult is what RunTask returns whenever the task's command ran to
// completion, whatever its exit code: a non-zero ExitCode comes with a nil
// error. When the command cannot be started or is cancelled, RunTask returns
// a nil RunResult and an error.
type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// RunError is a structured error for a failed task run, carrying its
// command, exit code, output and duration. The drivers in this module do not
// return it; they report a non-zero exit through RunResult.ExitCode.
type RunError struct {
	Command  string
	ExitCode int
	Output   []byte // truncated combined/stderr output
	Duration time.Duration
	Err      error
}

func (e *RunError) Error() string { return "task run failed: " + e.Err.Error() }
func (e *RunError) Unwrap() error { return e.Err }

// Target is the driver boundary: a local shell/container executor or a
// remote cluster executor. Every method must honor ctx cancellation.
type Target interface {
	Setup(ctx context.Context, opts Options) (State, error)
	Teardown(ctx context.Context, state State) error

	ResolveSecret(ctx context.Context, name string, state State) (string, error)

	StartServices(ctx context.Context, taskName string, services []core.Service, state State) (NetworkInfo, error)
	StopServices(ctx context.Context, netInfo NetworkInfo, state State) error

	RunTask(ctx context.Context, task core.Task, state State, opts RunOptions) (*RunResult, error)

	CopyArtifact(ctx context.Context, srcPath, destPath, workdir string, state State) error
	CreateVolume(ctx context.Context, name string, state State) (string, error)
	ArtifactPath(taskName, outputName, workdir string, state State) string
}
