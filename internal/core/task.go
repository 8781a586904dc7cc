// Package core defines the domain model for a Sykli task graph: the declarative
// unit of work (Task) and the small value types it is built from (mounts,
// services, matrix dimensions, artifact wiring).
//
// Design constraints:
//   - No implied fields (e.g., creation timestamps) that could affect the task
//     fingerprint.
//   - Every field that participates in scheduling or caching is explicit and
//     observable on the struct; nothing is derived from ambient process state.
package core

// Task is a single node in a pipeline graph, as emitted by an SDK's `--emit`
// JSON document (see internal/graph for the loader).
type Task struct {
	// Name is unique within a graph. For a matrix task, this is the
	// pre-expansion base name; expansion produces one Task per variant with a
	// derived name (see internal/graph.ExpandMatrix).
	Name string `json:"name" yaml:"name"`

	// Command is the shell command executed for this task.
	Command string `json:"command" yaml:"command"`

	// Container is an optional image reference. When set, Command runs inside
	// a container started from this image rather than directly on the host.
	Container string `json:"container,omitempty" yaml:"container,omitempty"`

	// Workdir is the working directory for the command, relative to the
	// pipeline's project root unless absolute.
	Workdir string `json:"workdir,omitempty" yaml:"workdir,omitempty"`

	// TimeoutSeconds bounds how long the task may run. Zero means the
	// run-level default applies (see internal/executor).
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`

	// DependsOn is the set of task names (pre-expansion) this task waits on.
	// Self-edges are rejected by the graph loader; duplicates are collapsed.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// TaskInputs binds a named output of an upstream task into a local path.
	TaskInputs []TaskInput `json:"task_inputs,omitempty" yaml:"task_inputs,omitempty"`

	// Inputs is an ordered sequence of glob patterns that feed the cache
	// fingerprint and are watched by `sykli watch`.
	Inputs []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// Outputs maps an output name to a path pattern. The graph loader
	// normalizes a JSON list form (`["a", "b"]`) into synthetic names
	// (`output_0`, `output_1`, ...), preserving declaration order.
	Outputs map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// Retry is the number of additional attempts after the first failure.
	// Zero means a single attempt.
	Retry int `json:"retry,omitempty" yaml:"retry,omitempty"`

	// Secrets names the secrets this task requires the target to resolve
	// before execution. A composite `<secret>/<key>` selects one field.
	Secrets []string `json:"secrets,omitempty" yaml:"secrets,omitempty"`

	// Env is the set of environment variables visible to the task. As with
	// the teacher's execution model, this is an allowlist: nothing from the
	// host or build process leaks in beyond this map and the fingerprint
	// whitelist (see config.BuildEnvWhitelist).
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Mounts attaches directories or named caches into the task's execution
	// environment.
	Mounts []Mount `json:"mounts,omitempty" yaml:"mounts,omitempty"`

	// Services are sidecar containers started before the task and torn down
	// after, regardless of outcome.
	Services []Service `json:"services,omitempty" yaml:"services,omitempty"`

	// Requires is the set of node labels a placement candidate must carry.
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`

	// Condition is an expression in the condition-evaluator grammar (see
	// internal/condition). Empty means "always run".
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Matrix expands this task into the Cartesian product of its dimensions.
	// Mutually exclusive with MatrixValues, which identifies an
	// already-expanded variant.
	Matrix map[string][]string `json:"matrix,omitempty" yaml:"matrix,omitempty"`

	// MatrixValues is set on expanded variants: the specific assignment this
	// variant was produced from.
	MatrixValues map[string]string `json:"matrix_values,omitempty" yaml:"matrix_values,omitempty"`

	// Semantic is optional metadata describing what this task verifies.
	Semantic *SemanticMeta `json:"semantic,omitempty" yaml:"semantic,omitempty"`

	// AIHooks configures how an AI-consumption layer should treat this task.
	AIHooks *AIHooks `json:"ai_hooks,omitempty" yaml:"ai_hooks,omitempty"`

	// Capability advertises or requires abstract capabilities for matching
	// this task to collaborating tasks across a graph.
	Capability *Capability `json:"capability,omitempty" yaml:"capability,omitempty"`

	// Gate, when non-empty, names the gate kind (e.g. "manual", "time") this
	// task represents; gates pause scheduling until externally resolved.
	Gate string `json:"gate,omitempty" yaml:"gate,omitempty"`

	// Verify controls cross-platform re-run policy: "never", "cross_platform"
	// (default), or "always". See internal/mesh's verification planner.
	Verify string `json:"verify,omitempty" yaml:"verify,omitempty"`
}

// TaskInput binds output O of task From into local path Dest before this
// task's command runs.
type TaskInput struct {
	FromTask string `json:"from_task" yaml:"from_task"`
	Output   string `json:"output" yaml:"output"`
	Dest     string `json:"dest" yaml:"dest"`
}

// Mount attaches a directory or named cache volume into a task's execution
// environment.
type Mount struct {
	Resource string   `json:"resource" yaml:"resource"`
	Path     string   `json:"path" yaml:"path"`
	Type     MountType `json:"type" yaml:"type"`
}

// MountType is the set of mount kinds a Target must support.
type MountType string

const (
	MountDirectory MountType = "directory"
	MountCache     MountType = "cache"
)

// Service is a sidecar container a task depends on while it runs.
type Service struct {
	Image string   `json:"image" yaml:"image"`
	Name  string   `json:"name" yaml:"name"`
	Ports []string `json:"ports,omitempty" yaml:"ports,omitempty"` // docker-style "host:container[/proto]" specs
}

// SemanticMeta documents what a task is understood to cover, independent of
// its mechanical inputs/outputs.
type SemanticMeta struct {
	Covers      []string `json:"covers,omitempty" yaml:"covers,omitempty"`
	Intent      string   `json:"intent,omitempty" yaml:"intent,omitempty"`
	Criticality string   `json:"criticality,omitempty" yaml:"criticality,omitempty"`
}

// AIHooks configures automated-reasoning consumption of this task's results.
type AIHooks struct {
	SelectionMode string `json:"selection_mode,omitempty" yaml:"selection_mode,omitempty"`
	OnFail        string `json:"on_fail,omitempty" yaml:"on_fail,omitempty"`
}

// Capability declares what a task provides to or needs from other tasks,
// beyond explicit depends_on/task_inputs wiring.
type Capability struct {
	Provides []string `json:"provides,omitempty" yaml:"provides,omitempty"`
	Needs    []string `json:"needs,omitempty" yaml:"needs,omitempty"`
}
