// Package cluster implements target.Target by dispatching tasks as
// Kubernetes Jobs (spec §4.5's "cluster driver"): one Job per task run, a
// workspace volume mount, and secret resolution via the cluster API with an
// environment-variable fallback. Jobs are built without a clone-and-checkout
// init container: Setup ignores Options.GitContext and RunTask passes no git
// context to buildJob.
package cluster

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"sykli/internal/core"
	"sykli/internal/target"
)

// Target dispatches tasks to a Kubernetes cluster as Jobs.
type Target struct {
	Clientset kubernetes.Interface
	Namespace string
}

func New(clientset kubernetes.Interface, namespace string) *Target {
	if namespace == "" {
		namespace = "default"
	}
	return &Target{Clientset: clientset, Namespace: namespace}
}

type clusterState struct{}

func (t *Target) Setup(ctx context.Context, opts target.Options) (target.State, error) {
	return &clusterState{}, nil
}

func (t *Target) Teardown(ctx context.Context, state target.State) error { return nil }

// ResolveSecret reads a Kubernetes Secret's named key (default key "value"),
// falling back to the upper-cased environment variable <SECRET>_<KEY> when no
// clientset is configured, the Secret is not found, or it lacks the key. Any
// other cluster API error is returned.
func (t *Target) ResolveSecret(ctx context.Context, name string, state target.State) (string, error) {
	secretName, key := splitCompositeSecret(name)
	if key == "" {
		key = "value"
	}
	if t.Clientset != nil {
		sec, err := t.Clientset.CoreV1().Secrets(t.Namespace).Get(ctx, secretName, metav1.GetOptions{})
		if err == nil {
			if v, ok := sec.Data[key]; ok {
				return string(v), nil
			}
		} else if !apierrors.IsNotFound(err) {
			return "", fmt.Errorf("resolving secret %q: %w", name, err)
		}
	}
	envKey := strings.ToUpper(secretName + "_" + key)
	if v, ok := os.LookupEnv(envKey); ok {
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

// StartServices is a no-op that returns services as the NetworkInfo. RunTask
// does not add them to the Job, so no sidecar containers are started.
func (t *Target) StartServices(ctx context.Context, taskName string, services []core.Service, state target.State) (target.NetworkInfo, error) {
	return services, nil
}

func (t *Target) StopServices(ctx context.Context, netInfo target.NetworkInfo, state target.State) error {
	return nil
}

// RunTask generates a declarative Job for task, mounts a workspace emptyDir
// volume, and waits for completion. The Job has no init container and no
// service sidecars.
func (t *Target) RunTask(ctx context.Context, task core.Task, state target.State, opts target.RunOptions) (*target.RunResult, error) {
	if t.Clientset == nil {
		return nil, fmt.Errorf("cluster target: no clientset configured")
	}
	start := time.Now()

	var services []core.Service
	if s, ok := state.(*clusterState); ok {
		_ = s
	}

	job := t.buildJob(task, services, nil)
	created, err := t.Clientset.BatchV1().Jobs(t.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	defer func() {
		policy := metav1.DeletePropagationBackground
		_ = t.Clientset.BatchV1().Jobs(t.Namespace).Delete(context.Background(), created.Name, metav1.DeleteOptions{PropagationPolicy: &policy})
	}()

	if err := t.waitForCompletion(ctx, created.Name); err != nil {
		return nil, err
	}

	exitCode := 0
	final, err := t.Clientset.BatchV1().Jobs(t.Namespace).Get(ctx, created.Name, metav1.GetOptions{})
	if err == nil && final.Status.Failed > 0 {
		exitCode = 1
	}

	return &target.RunResult{ExitCode: exitCode, Duration: time.Since(start)}, nil
}

func (t *Target) waitForCompletion(ctx context.Context, name string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("job %q cancelled: %w", name, ctx.Err())
		case <-ticker.C:
			job, err := t.Clientset.BatchV1().Jobs(t.Namespace).Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				return fmt.Errorf("polling job %q: %w", name, err)
			}
			if job.Status.Succeeded > 0 || job.Status.Failed > 0 {
				return nil
			}
		}
	}
}

func (t *Target) buildJob(task core.Task, services []core.Service, gitCtx *target.GitContext) *batchv1.Job {
	backoff := int32(0)
	name := jobName(task.Name)

	env := make([]corev1.EnvVar, 0, len(task.Env))
	for k, v := range task.Env {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}

	workspaceVolume := corev1.Volume{Name: "workspace", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}}
	mount := corev1.VolumeMount{Name: "workspace", MountPath: "/workspace"}

	var initContainers []corev1.Container
	if gitCtx != nil {
		initContainers = append(initContainers, corev1.Container{
			Name:         "clone",
			Image:        "alpine/git",
			Command:      []string{"sh", "-c", fmt.Sprintf("git clone %s /workspace && git -C /workspace checkout %s", gitCtx.RemoteURL, gitCtx.Ref)},
			VolumeMounts: []corev1.VolumeMount{mount},
		})
	}

	containers := []corev1.Container{{
		Name:         "task",
		Image:        task.Container,
		Command:      []string{"sh", "-c", task.Command},
		Env:          env,
		WorkingDir:   "/workspace",
		VolumeMounts: []corev1.VolumeMount{mount},
	}}
	for _, svc := range services {
		containers = append(containers, corev1.Container{Name: "svc-" + svc.Name, Image: svc.Image})
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: t.Namespace},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoff,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"sykli.io/task": task.Name}},
				Spec: corev1.PodSpec{
					RestartPolicy:  corev1.RestartPolicyNever,
					InitContainers: initContainers,
					Containers:     containers,
					Volumes:        []corev1.Volume{workspaceVolume},
				},
			},
		},
	}
}

func jobName(taskName string) string {
	sanitized := strings.ToLower(strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return '-'
	}, taskName))
	return "sykli-" + sanitized
}

func (t *Target) CopyArtifact(ctx context.Context, srcPath, destPath, workdir string, state target.State) error {
	return fmt.Errorf("cluster target: artifact copy is performed via the workspace volume, not out-of-band")
}

func (t *Target) CreateVolume(ctx context.Context, name string, state target.State) (string, error) {
	return "/workspace/.sykli/volumes/" + name, nil
}

func (t *Target) ArtifactPath(taskName, outputName, workdir string, state target.State) string {
	return "/workspace/.sykli/artifacts/" + taskName + "/" + outputName
}
