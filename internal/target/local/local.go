// Package local implements target.Target by running commands directly on
// the host (or inside a container via the Docker client), adapted from the
// teacher's internal/core executor: allowlist-only environment isolation and
// whole-process-group cancellation.
package local

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"sykli/internal/core"
	"sykli/internal/target"
)

// Target runs tasks on the local host. Workdir is the task's project root;
// Secrets holds named secret values, and ResolveSecret falls back to the
// process environment variable named <secret> (or <secret>_<key> for a
// composite name), with its case unchanged.
type Target struct {
	Workdir string
	Secrets map[string]string

	docker     *dockerclient.Client
	dockerOnce sync.Once
	dockerErr  error
}

func New(workdir string, secrets map[string]string) *Target {
	return &Target{Workdir: workdir, Secrets: secrets}
}

type localState struct {
	networkName string
}

func (t *Target) Setup(ctx context.Context, opts target.Options) (target.State, error) {
	return &localState{}, nil
}

func (t *Target) Teardown(ctx context.Context, state target.State) error {
	return nil
}

func (t *Target) ResolveSecret(ctx context.Context, name string, state target.State) (string, error) {
	secretName, key := splitCompositeSecret(name)
	if v, ok := t.Secrets[secretName]; ok && key == "" {
		return v, nil
	}
	if v, ok := os.LookupEnv(envVarForSecret(secretName, key)); ok {
		return v, nil
	}
	return "", fmt.Errorf("secret %q not found", name)
}

func splitCompositeSecret(name string) (secret, key string) {
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return name[:i], name[i+1:]
		}
	}
	return name, ""
}

func envVarForSecret(secret, key string) string {
	if key == "" {
		return secret
	}
	return secret + "_" + key
}

// serviceHandle is one started sidecar: its container ID (for teardown) and
// the host-side ports Docker actually bound (for a task to discover where
// to reach it, surfaced via target.NetworkInfo).
type serviceHandle struct {
	Name  string
	ID    string
	Ports nat.PortMap
}

func (t *Target) StartServices(ctx context.Context, taskName string, services []core.Service, state target.State) (target.NetworkInfo, error) {
	if len(services) == 0 {
		return nil, nil
	}
	cli, err := t.dockerClient()
	if err != nil {
		return nil, fmt.Errorf("starting services requires docker: %w", err)
	}
	handles := make([]serviceHandle, 0, len(services))
	for _, svc := range services {
		exposedPorts, portBindings, err := nat.ParsePortSpecs(svc.Ports)
		if err != nil {
			return nil, fmt.Errorf("service %q: invalid ports: %w", svc.Name, err)
		}

		resp, err := cli.ContainerCreate(ctx,
			&container.Config{Image: svc.Image, ExposedPorts: exposedPorts},
			&container.HostConfig{PortBindings: portBindings},
			nil, nil, taskName+"-"+svc.Name)
		if err != nil {
			return nil, fmt.Errorf("creating service %q: %w", svc.Name, err)
		}
		if err := cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
			return nil, fmt.Errorf("starting service %q: %w", svc.Name, err)
		}

		ports := nat.PortMap{}
		if inspect, err := cli.ContainerInspect(ctx, resp.ID); err == nil && inspect.NetworkSettings != nil {
			ports = inspect.NetworkSettings.Ports
		}
		handles = append(handles, serviceHandle{Name: svc.Name, ID: resp.ID, Ports: ports})
	}
	return handles, nil
}

func (t *Target) StopServices(ctx context.Context, netInfo target.NetworkInfo, state target.State) error {
	handles, ok := netInfo.([]serviceHandle)
	if !ok || len(handles) == 0 {
		return nil
	}
	cli, err := t.dockerClient()
	if err != nil {
		return err
	}
	var firstErr error
	for _, h := range handles {
		if err := cli.ContainerRemove(ctx, h.ID, types.ContainerRemoveOptions{Force: true}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunTask runs task.Command via "sh -c", isolated to an allowlist
// environment (never os.Environ()), honoring ctx's deadline and killing the
// whole process group on cancellation. If task.Container is set, the
// command instead runs inside that image via the Docker client.
func (t *Target) RunTask(ctx context.Context, task core.Task, state target.State, opts target.RunOptions) (*target.RunResult, error) {
	if task.Command == "" {
		return nil, fmt.Errorf("task %q: command is empty", task.Name)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if task.Container != "" {
		return t.runContainer(runCtx, task, opts)
	}
	return t.runLocal(runCtx, task, opts)
}

func (t *Target) runLocal(ctx context.Context, task core.Task, opts target.RunOptions) (*target.RunResult, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, "sh", "-c", task.Command)

	workdir := t.Workdir
	if task.Workdir != "" {
		if filepath.IsAbs(task.Workdir) {
			workdir = task.Workdir
		} else {
			workdir = filepath.Join(t.Workdir, task.Workdir)
		}
	}
	cmd.Dir = workdir
	cmd.Env = buildIsolatedEnv(task.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = lineTee(&stdout, task.Name, "stdout", opts.OutputSink)
	cmd.Stderr = lineTee(&stderr, task.Name, "stderr", opts.OutputSink)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				<-done
			}
		}
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case waitErr = <-done:
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("executing command: %w", waitErr)
		}
	}

	return &target.RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: exitCode, Duration: time.Since(start)}, nil
}

func (t *Target) runContainer(ctx context.Context, task core.Task, opts target.RunOptions) (*target.RunResult, error) {
	cli, err := t.dockerClient()
	if err != nil {
		return nil, fmt.Errorf("container task requires docker: %w", err)
	}
	start := time.Now()

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:      task.Container,
		Cmd:        []string{"sh", "-c", task.Command},
		Env:        envSlice(task.Env),
		WorkingDir: task.Workdir,
	}, nil, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	defer func() { _ = cli.ContainerRemove(context.Background(), resp.ID, types.ContainerRemoveOptions{Force: true}) }()

	if err := cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	statusCh, errCh := cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("waiting for container: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	out, err := cli.ContainerLogs(ctx, resp.ID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("reading container logs: %w", err)
	}
	defer out.Close()
	logs, _ := io.ReadAll(out)

	return &target.RunResult{Stdout: logs, ExitCode: int(exitCode), Duration: time.Since(start)}, nil
}

func (t *Target) CopyArtifact(ctx context.Context, srcPath, destPath, workdir string, state target.State) error {
	src := srcPath
	if !filepath.IsAbs(src) {
		src = filepath.Join(workdir, src)
	}
	dest := destPath
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(workdir, dest)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading artifact source %q: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating artifact dest dir: %w", err)
	}
	return os.WriteFile(dest, data, 0o644)
}

func (t *Target) CreateVolume(ctx context.Context, name string, state target.State) (string, error) {
	dir := filepath.Join(t.Workdir, ".sykli", "volumes", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (t *Target) ArtifactPath(taskName, outputName, workdir string, state target.State) string {
	return filepath.Join(workdir, ".sykli", "artifacts", taskName, outputName)
}

func (t *Target) dockerClient() (*dockerclient.Client, error) {
	t.dockerOnce.Do(func() {
		t.docker, t.dockerErr = dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	})
	return t.docker, t.dockerErr
}

// buildIsolatedEnv starts from an EMPTY slice and only adds variables
// explicitly declared in task.Env — never os.Environ(). See spec §5's
// "Environment Determinism" and the teacher's original buildIsolatedEnv.
func buildIsolatedEnv(env map[string]string) []string {
	return envSlice(env)
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return []string{}
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

type lineWriter struct {
	buf    *bytes.Buffer
	task   string
	stream string
	sink   target.OutputSink
	carry  []byte
}

func lineTee(buf *bytes.Buffer, task, stream string, sink target.OutputSink) io.Writer {
	if sink == nil {
		return buf
	}
	return io.MultiWriter(buf, &lineWriter{buf: buf, task: task, stream: stream, sink: sink})
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.carry = append(w.carry, p...)
	for {
		idx := bytes.IndexByte(w.carry, '\n')
		if idx < 0 {
			break
		}
		w.sink.TaskOutputLine(w.task, w.stream, string(w.carry[:idx]))
		w.carry = w.carry[idx+1:]
	}
	return len(p), nil
}
