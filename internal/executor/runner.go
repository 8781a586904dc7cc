// Package executor adapts the teacher's depth-staged dag.Executor dispatch
// loop to Sykli's per-worker flow (spec §4.6): resolve task_inputs, evaluate
// the task's condition, validate declared secrets, consult the cache, and on
// a miss start services, run the command with retries, harvest outputs into
// the cache, and stop services — regardless of outcome.
package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"sykli/internal/condition"
	"sykli/internal/core"
	"sykli/internal/dag"
	"sykli/internal/target"
)

// DefaultTimeout bounds a task with no explicit TimeoutSeconds.
const DefaultTimeout = 10 * time.Minute

// Runner implements dag.TaskRunner against a target.Target driver, the
// content-addressed cache, and the condition evaluator.
type Runner struct {
	Target      target.Target
	TargetState target.State
	Cache       core.Cache
	Hasher      *core.Hasher
	ProjectRoot string
	BuildEnv    map[string]string
	ToolVersion string
	Condition   condition.Context

	mu       sync.Mutex
	resolved map[string]resolvedTask // taskName -> work computed during Probe, consumed by Run
}

type resolvedTask struct {
	fingerprint core.Fingerprint
	components  core.ComponentHashes
}

func New(t target.Target, state target.State, cache core.Cache, projectRoot string, buildEnv map[string]string, toolVersion string, condCtx condition.Context) *Runner {
	return &Runner{
		Target:      t,
		TargetState: state,
		Cache:       cache,
		Hasher:      core.NewHasher(),
		ProjectRoot: projectRoot,
		BuildEnv:    buildEnv,
		ToolVersion: toolVersion,
		Condition:   condCtx,
		resolved:    make(map[string]resolvedTask),
	}
}

func (r *Runner) workdir(task core.Task) string {
	if task.Workdir == "" {
		return r.ProjectRoot
	}
	if filepath.IsAbs(task.Workdir) {
		return task.Workdir
	}
	return filepath.Join(r.ProjectRoot, task.Workdir)
}

func (r *Runner) timeout(task core.Task) time.Duration {
	if task.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(task.TimeoutSeconds) * time.Second
}

// Probe resolves task_inputs, evaluates the condition, validates secrets, and
// consults the cache. A false/erroring condition is treated as the spec's
// "record skipped without running": reported as a zero-exit cache hit so the
// generic dag.Executor state machine (which has no standalone skip signal on
// this path) marks the node terminal without ever invoking Run.
func (r *Runner) Probe(ctx context.Context, task core.Task) (*dag.NodeResult, bool, error) {
	if err := r.resolveTaskInputs(ctx, task); err != nil {
		return nil, false, fmt.Errorf("resolving task_inputs for %q: %w", task.Name, err)
	}

	if task.Condition != "" {
		res := condition.Evaluate(task.Condition, r.Condition)
		if res.Err != nil || !res.Value {
			return &dag.NodeResult{FromCache: true, ExitCode: 0}, true, nil
		}
	}

	if err := r.validateSecrets(ctx, task); err != nil {
		return &dag.NodeResult{FromCache: true, ExitCode: 1, Stderr: []byte(err.Error())}, true, nil
	}

	fp, comps, err := r.fingerprint(task)
	if err != nil {
		return nil, false, fmt.Errorf("fingerprinting %q: %w", task.Name, err)
	}
	r.mu.Lock()
	r.resolved[task.Name] = resolvedTask{fingerprint: fp, components: comps}
	r.mu.Unlock()

	check, err := r.Cache.CheckDetailed(task.Name, fp, comps)
	if err != nil {
		return nil, false, fmt.Errorf("checking cache for %q: %w", task.Name, err)
	}
	if !check.Hit {
		return nil, false, nil
	}

	restored, err := r.Cache.Restore(check.Entry, r.workdir(task))
	if err != nil {
		return nil, false, fmt.Errorf("restoring cache for %q: %w", task.Name, err)
	}
	_ = restored
	return &dag.NodeResult{
		Hash:      fp,
		Stdout:    check.Entry.Stdout,
		Stderr:    check.Entry.Stderr,
		ExitCode:  check.Entry.ExitCode,
		FromCache: true,
	}, true, nil
}

// Run executes task fresh: starts services, runs the command with retries,
// harvests declared outputs into the cache, and stops services on every exit
// path regardless of outcome.
func (r *Runner) Run(ctx context.Context, task core.Task) (*dag.NodeResult, error) {
	r.mu.Lock()
	rt, ok := r.resolved[task.Name]
	delete(r.resolved, task.Name)
	r.mu.Unlock()
	if !ok {
		fp, comps, err := r.fingerprint(task)
		if err != nil {
			return nil, fmt.Errorf("fingerprinting %q: %w", task.Name, err)
		}
		rt = resolvedTask{fingerprint: fp, components: comps}
	}

	var netInfo target.NetworkInfo
	if len(task.Services) > 0 {
		ni, err := r.Target.StartServices(ctx, task.Name, task.Services, r.TargetState)
		if err != nil {
			return nil, fmt.Errorf("starting services for %q: %w", task.Name, err)
		}
		netInfo = ni
	}
	defer func() {
		if len(task.Services) > 0 {
			_ = r.Target.StopServices(ctx, netInfo, r.TargetState)
		}
	}()

	attempts := task.Retry + 1
	if attempts < 1 {
		attempts = 1
	}

	var last *target.RunResult
	var runErr error
	for attempt := 0; attempt < attempts; attempt++ {
		last, runErr = r.Target.RunTask(ctx, task, r.TargetState, target.RunOptions{Timeout: r.timeout(task)})
		if runErr == nil && last != nil && last.ExitCode == 0 {
			break
		}
	}

	if last == nil {
		return nil, fmt.Errorf("running %q: no result after %d attempt(s): %w", task.Name, attempts, runErr)
	}

	result := &dag.NodeResult{
		Hash:     rt.fingerprint,
		Stdout:   last.Stdout,
		Stderr:   last.Stderr,
		ExitCode: last.ExitCode,
	}

	if last.ExitCode != 0 {
		return result, nil
	}

	if err := r.store(task, rt); err != nil {
		return nil, fmt.Errorf("storing cache entry for %q: %w", task.Name, err)
	}

	return result, nil
}

func (r *Runner) resolveTaskInputs(ctx context.Context, task core.Task) error {
	for _, ti := range task.TaskInputs {
		srcPath := r.Target.ArtifactPath(ti.FromTask, ti.Output, r.ProjectRoot, r.TargetState)
		destPath := ti.Dest
		if !filepath.IsAbs(destPath) {
			destPath = filepath.Join(r.workdir(task), destPath)
		}
		if err := r.Target.CopyArtifact(ctx, srcPath, destPath, r.ProjectRoot, r.TargetState); err != nil {
			return fmt.Errorf("copying %s/%s -> %s: %w", ti.FromTask, ti.Output, ti.Dest, err)
		}
	}
	return nil
}

func (r *Runner) validateSecrets(ctx context.Context, task core.Task) error {
	for _, name := range task.Secrets {
		if _, err := r.Target.ResolveSecret(ctx, name, r.TargetState); err != nil {
			return &SecretError{Task: task.Name, Secret: name, Cause: err}
		}
	}
	return nil
}

func (r *Runner) fingerprint(task core.Task) (core.Fingerprint, core.ComponentHashes, error) {
	return Fingerprint(task, r.workdir(task), r.BuildEnv, r.ToolVersion)
}

// Fingerprint computes the deterministic fingerprint a Runner would compute
// for task, without needing a Target or cache — used by "sykli explain" to
// report why a task would hit or miss.
func Fingerprint(task core.Task, workdir string, buildEnv map[string]string, toolVersion string) (core.Fingerprint, core.ComponentHashes, error) {
	resolver := core.NewInputResolver(workdir)
	inputs, err := resolver.Resolve(task.Inputs)
	if err != nil {
		return "", core.ComponentHashes{}, err
	}
	fp, comps := core.NewHasher().Compute(core.FingerprintInput{
		TaskName:    task.Name,
		Command:     task.Command,
		Inputs:      inputs,
		Container:   task.Container,
		Env:         task.Env,
		Mounts:      task.Mounts,
		BuildEnv:    buildEnv,
		ToolVersion: toolVersion,
	})
	return fp, comps, nil
}

func (r *Runner) store(task core.Task, rt resolvedTask) error {
	if len(task.Outputs) == 0 {
		entry := &core.CacheEntry{
			Fingerprint: rt.fingerprint,
			TaskName:    task.Name,
			Command:     task.Command,
			Components:  rt.components,
			ExitCode:    0,
			CachedAt:    time.Now().UTC(),
		}
		return r.Cache.Put(entry, nil)
	}

	patterns := make([]string, 0, len(task.Outputs))
	for _, pattern := range task.Outputs {
		patterns = append(patterns, pattern)
	}
	harvester := core.NewHarvesterWithNormalizer(r.workdir(task), core.NewDefaultNormalizer())
	artifacts, err := harvester.Harvest(patterns)
	if err != nil {
		return err
	}

	entry := &core.CacheEntry{
		Fingerprint: rt.fingerprint,
		TaskName:    task.Name,
		Command:     task.Command,
		Components:  rt.components,
		ExitCode:    0,
		CachedAt:    time.Now().UTC(),
	}
	return r.Cache.Put(entry, artifacts.Artifacts)
}
