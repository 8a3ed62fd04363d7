package agentrunner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nadimtuhin/loopwork/internal/docker"
	loopworkerrors "github.com/nadimtuhin/loopwork/internal/errors"
)

// DockerRunner runs each task's agent invocation as an exec inside a
// single long-lived container, mirroring the teacher's
// docker-sock-bound workspace container pattern.
type DockerRunner struct {
	client     *docker.Client
	image      string
	workspace  string
	agentCmd   []string
	models     []string

	mu          sync.Mutex
	modelIdx    int
	containerID string
	cancels     map[string]context.CancelFunc // taskID -> exec cancel, for Cancel
}

// NewDockerRunner builds a DockerRunner bound to image, mounting
// workspace at /workspace, invoking agentCmd (with the prompt
// appended) for each task.
func NewDockerRunner(client *docker.Client, image, workspace string, agentCmd []string, models []string) *DockerRunner {
	if len(models) == 0 {
		models = []string{""}
	}
	return &DockerRunner{client: client, image: image, workspace: workspace, agentCmd: agentCmd, models: models, cancels: map[string]context.CancelFunc{}}
}

func (r *DockerRunner) Preflight(ctx context.Context) error {
	if err := r.client.CheckDaemon(ctx); err != nil {
		return fmt.Errorf("%w: %v", loopworkerrors.ErrPreflightFailed, err)
	}
	exists, err := r.client.CheckImage(ctx, r.image)
	if err != nil {
		return fmt.Errorf("%w: %v", loopworkerrors.ErrPreflightFailed, err)
	}
	if !exists {
		if err := r.client.PullImage(ctx, r.image); err != nil {
			return fmt.Errorf("%w: pulling %s: %v", loopworkerrors.ErrPreflightFailed, r.image, err)
		}
	}
	if err := os.MkdirAll(r.workspace, 0o755); err != nil {
		return fmt.Errorf("%w: workspace dir: %v", loopworkerrors.ErrPreflightFailed, err)
	}
	containerID, err := r.client.RunContainer(ctx, r.image, r.workspace)
	if err != nil {
		return fmt.Errorf("%w: %v", loopworkerrors.ErrPreflightFailed, err)
	}
	r.mu.Lock()
	r.containerID = containerID
	r.mu.Unlock()
	return nil
}

func (r *DockerRunner) GetNextModel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.models[r.modelIdx%len(r.models)]
	r.modelIdx++
	return m
}

func (r *DockerRunner) Run(ctx context.Context, opts RunOptions) (Result, error) {
	r.mu.Lock()
	containerID := r.containerID
	r.mu.Unlock()
	if containerID == "" {
		return Result{ExitCode: -1}, fmt.Errorf("%w: docker runner not preflighted", loopworkerrors.ErrPreflightFailed)
	}

	cmd := append([]string{}, r.agentCmd...)
	if opts.Model != "" {
		cmd = append(cmd, "--model", opts.Model)
	}
	if opts.ClearCache {
		cmd = append(cmd, "--clear-cache")
	}
	cmd = append(cmd, opts.Prompt)

	taskCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if opts.TaskID != "" {
		r.mu.Lock()
		r.cancels[opts.TaskID] = cancel
		r.mu.Unlock()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, opts.TaskID)
			r.mu.Unlock()
		}()
	}

	output, exitCode, err := r.client.ExecWithExitCode(taskCtx, containerID, cmd)
	if err != nil {
		return Result{ExitCode: exitCode, Output: output}, err
	}
	return Result{ExitCode: exitCode, Output: output}, nil
}

// Cancel aborts the exec running a single task by cancelling its
// context; the shared container and any other task's exec are
// unaffected. A task with no tracked exec is a no-op.
func (r *DockerRunner) Cancel(taskID string) error {
	r.mu.Lock()
	cancel := r.cancels[taskID]
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	return nil
}

func (r *DockerRunner) Cleanup(ctx context.Context) error {
	r.mu.Lock()
	containerID := r.containerID
	r.containerID = ""
	r.mu.Unlock()
	if containerID == "" {
		return nil
	}
	return r.client.StopContainer(ctx, containerID)
}

// workspaceName builds a unique per-run workspace directory name,
// matching the teacher's temp-workspace-per-job convention.
func workspaceName(taskID string) string {
	id := strings.ReplaceAll(taskID, "/", "-")
	return fmt.Sprintf("loopwork-%s-%s", id, uuid.NewString()[:8])
}
