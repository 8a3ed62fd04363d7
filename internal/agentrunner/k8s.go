package agentrunner

import (
	"context"
	"fmt"
	"sync"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	loopworkerrors "github.com/nadimtuhin/loopwork/internal/errors"
)

// K8sRunner spawns one Job per task, matching the teacher's
// spawner_k8s.go in-cluster-then-kubeconfig resolution strategy.
type K8sRunner struct {
	clientset kubernetes.Interface
	namespace string
	image     string
	models    []string

	mu       sync.Mutex
	modelIdx int
	jobs     map[string]string // taskID -> job name
}

// NewK8sRunner builds a K8sRunner. Its clientset is resolved on
// Preflight via in-cluster config, falling back to the default
// kubeconfig, so Preflight must run before Run.
func NewK8sRunner(namespace, image string, models []string) *K8sRunner {
	if len(models) == 0 {
		models = []string{""}
	}
	return &K8sRunner{namespace: namespace, image: image, models: models, jobs: map[string]string{}}
}

func (r *K8sRunner) Preflight(ctx context.Context) error {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		cfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return fmt.Errorf("%w: resolving kubeconfig: %v", loopworkerrors.ErrPreflightFailed, err)
		}
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return fmt.Errorf("%w: building clientset: %v", loopworkerrors.ErrPreflightFailed, err)
	}
	if _, err := clientset.CoreV1().Namespaces().Get(ctx, r.namespace, metav1.GetOptions{}); err != nil {
		return fmt.Errorf("%w: namespace %s unreachable: %v", loopworkerrors.ErrPreflightFailed, r.namespace, err)
	}
	r.clientset = clientset
	return nil
}

func (r *K8sRunner) GetNextModel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.models[r.modelIdx%len(r.models)]
	r.modelIdx++
	return m
}

func (r *K8sRunner) Run(ctx context.Context, opts RunOptions) (Result, error) {
	name := sanitizeJobName(opts.TaskID)

	command := []string{"agent-run", "--model", opts.Model}
	if opts.ClearCache {
		command = append(command, "--clear-cache")
	}
	command = append(command, opts.Prompt)

	var backoff int32 = 0
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: r.namespace},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoff,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:    "agent",
						Image:   r.image,
						Command: command,
					}},
				},
			},
		},
	}

	jobs := r.clientset.BatchV1().Jobs(r.namespace)
	if _, err := jobs.Get(ctx, name, metav1.GetOptions{}); err == nil {
		if err := jobs.Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return Result{ExitCode: -1}, fmt.Errorf("loopwork: deleting stale job %s: %w", name, err)
		}
	}

	if _, err := jobs.Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("loopwork: creating job %s: %w", name, err)
	}

	r.mu.Lock()
	r.jobs[opts.TaskID] = name
	r.mu.Unlock()

	return r.awaitCompletion(ctx, name)
}

func (r *K8sRunner) awaitCompletion(ctx context.Context, name string) (Result, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			propagation := metav1.DeletePropagationBackground
			_ = r.clientset.BatchV1().Jobs(r.namespace).Delete(context.Background(), name, metav1.DeleteOptions{PropagationPolicy: &propagation})
			return Result{ExitCode: -1}, ctx.Err()
		case <-ticker.C:
			job, err := r.clientset.BatchV1().Jobs(r.namespace).Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				return Result{ExitCode: -1}, fmt.Errorf("loopwork: polling job %s: %w", name, err)
			}
			if job.Status.Succeeded > 0 {
				return Result{ExitCode: 0}, nil
			}
			if job.Status.Failed > 0 {
				return Result{ExitCode: 1}, nil
			}
		}
	}
}

// Cancel deletes the Job backing a single task, if one is running,
// which unblocks that task's awaitCompletion loop via ctx/poll error
// without touching any other task's Job.
func (r *K8sRunner) Cancel(taskID string) error {
	r.mu.Lock()
	name, ok := r.jobs[taskID]
	delete(r.jobs, taskID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	propagation := metav1.DeletePropagationBackground
	if err := r.clientset.BatchV1().Jobs(r.namespace).Delete(context.Background(), name, metav1.DeleteOptions{PropagationPolicy: &propagation}); err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}

func (r *K8sRunner) Cleanup(ctx context.Context) error {
	r.mu.Lock()
	jobs := make(map[string]string, len(r.jobs))
	for k, v := range r.jobs {
		jobs[k] = v
	}
	r.jobs = map[string]string{}
	r.mu.Unlock()

	var firstErr error
	for _, name := range jobs {
		propagation := metav1.DeletePropagationBackground
		if err := r.clientset.BatchV1().Jobs(r.namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &propagation}); err != nil && !apierrors.IsNotFound(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sanitizeJobName makes taskID safe as a Kubernetes object name (DNS
// subdomain: lowercase alphanumerics and '-').
func sanitizeJobName(taskID string) string {
	out := make([]rune, 0, len(taskID)+len("loopwork-"))
	out = append(out, []rune("loopwork-")...)
	for _, r := range taskID {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r-'A'+'a')
		default:
			out = append(out, '-')
		}
	}
	if len(out) > 63 {
		out = out[:63]
	}
	return string(out)
}
