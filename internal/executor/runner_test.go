package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"sykli/internal/condition"
	"sykli/internal/core"
	"sykli/internal/target"
)

// shellTarget is a minimal target.Target that runs commands via the host
// shell, exercising the real Runner flow without a container/cluster driver.
type shellTarget struct {
	secrets map[string]string
}

func (s *shellTarget) Setup(ctx context.Context, opts target.Options) (target.State, error) { return nil, nil }
func (s *shellTarget) Teardown(ctx context.Context, state target.State) error                { return nil }

func (s *shellTarget) ResolveSecret(ctx context.Context, name string, state target.State) (string, error) {
	v, ok := s.secrets[name]
	if !ok {
		return "", os.ErrNotExist
	}
	return v, nil
}

func (s *shellTarget) StartServices(ctx context.Context, taskName string, services []core.Service, state target.State) (target.NetworkInfo, error) {
	return nil, nil
}
func (s *shellTarget) StopServices(ctx context.Context, netInfo target.NetworkInfo, state target.State) error {
	return nil
}

func (s *shellTarget) RunTask(ctx context.Context, task core.Task, state target.State, opts target.RunOptions) (*target.RunResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", task.Command)
	cmd.Dir = taskWorkdir(task)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return nil, err
		}
	}
	return &target.RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: exitCode}, nil
}

func taskWorkdir(task core.Task) string {
	if task.Workdir == "" {
		return "."
	}
	return task.Workdir
}

func (s *shellTarget) CopyArtifact(ctx context.Context, srcPath, destPath, workdir string, state target.State) error {
	content, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, content, 0o644)
}

func (s *shellTarget) CreateVolume(ctx context.Context, name string, state target.State) (string, error) {
	return name, nil
}

func (s *shellTarget) ArtifactPath(taskName, outputName, workdir string, state target.State) string {
	return filepath.Join(workdir, taskName, outputName)
}

func TestRunner_MissThenHit(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	workDir := filepath.Join(dir, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cache := core.NewFileCache(cacheDir)
	tgt := &shellTarget{secrets: map[string]string{}}

	task := core.Task{
		Name:    "build",
		Command: "echo hi > out.txt",
		Workdir: workDir,
		Outputs: map[string]string{"output_0": "out.txt"},
	}

	newRunner := func() *Runner {
		return New(tgt, nil, cache, workDir, nil, "v1", condition.Context{})
	}

	r1 := newRunner()
	res, cached, err := r1.Probe(context.Background(), task)
	if err != nil {
		t.Fatalf("Probe (miss): %v", err)
	}
	if cached {
		t.Fatalf("expected cache miss on first run")
	}
	_ = res
	runRes, err := r1.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runRes.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d (stderr=%s)", runRes.ExitCode, runRes.Stderr)
	}

	r2 := newRunner()
	res2, cached2, err := r2.Probe(context.Background(), task)
	if err != nil {
		t.Fatalf("Probe (hit): %v", err)
	}
	if !cached2 {
		t.Fatalf("expected cache hit on second probe")
	}
	if res2.ExitCode != 0 {
		t.Fatalf("expected cached exit 0")
	}
}

func TestRunner_ConditionFalseSkipsWithoutRunning(t *testing.T) {
	dir := t.TempDir()
	cache := core.NewFileCache(filepath.Join(dir, "cache"))
	tgt := &shellTarget{}
	task := core.Task{Name: "deploy", Command: "false", Condition: "branch == \"main\""}

	r := New(tgt, nil, cache, dir, nil, "v1", condition.Context{Branch: "feature"})
	res, cached, err := r.Probe(context.Background(), task)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !cached || res.ExitCode != 0 {
		t.Fatalf("expected condition=false to be treated as a skipped/cached no-op, got cached=%v exitCode=%d", cached, res.ExitCode)
	}
}

func TestRunner_MissingSecretFailsTaskWithoutRunning(t *testing.T) {
	dir := t.TempDir()
	cache := core.NewFileCache(filepath.Join(dir, "cache"))
	tgt := &shellTarget{secrets: map[string]string{}}
	task := core.Task{Name: "deploy", Command: "echo should-not-run", Secrets: []string{"API_TOKEN"}}

	r := New(tgt, nil, cache, dir, nil, "v1", condition.Context{})
	res, cached, err := r.Probe(context.Background(), task)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !cached || res.ExitCode == 0 {
		t.Fatalf("expected missing secret to fail the task deterministically, got cached=%v exitCode=%d", cached, res.ExitCode)
	}
}

func TestRunner_RetriesUpToLimit(t *testing.T) {
	dir := t.TempDir()
	cache := core.NewFileCache(filepath.Join(dir, "cache"))
	tgt := &shellTarget{}
	counterFile := filepath.Join(dir, "attempts")

	task := core.Task{
		Name:    "flaky",
		Command: "c=$(cat " + counterFile + " 2>/dev/null || echo 0); c=$((c+1)); echo $c > " + counterFile + "; [ $c -ge 3 ]",
		Retry:   2,
	}

	r := New(tgt, nil, cache, dir, nil, "v1", condition.Context{})
	_, cached, err := r.Probe(context.Background(), task)
	if err != nil || cached {
		t.Fatalf("Probe: cached=%v err=%v", cached, err)
	}
	res, err := r.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected success by the 3rd attempt, got exit %d", res.ExitCode)
	}
}
