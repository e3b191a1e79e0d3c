// Package docker provides a local sandbox runtime backed by the Docker SDK.
//
// Each execution runs in a fresh container from a configured image: the code
// is passed to the interpreter via argv, never written to a shared
// filesystem, and the container is removed when the call finishes. Used when
// no remote sandbox service is configured.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/dingjianrui/code-agent/internal/metrics"
	"github.com/dingjianrui/code-agent/internal/sandbox"
)

const removeTimeout = 10 * time.Second

// Runner implements sandbox.Client using one-shot Docker containers
type Runner struct {
	client *client.Client
	image  string
}

// Ensure Runner implements sandbox.Client
var _ sandbox.Client = (*Runner)(nil)

// NewRunner creates a Docker-backed sandbox runner for the given image
func NewRunner(image string) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Runner{client: cli, image: image}, nil
}

// Ping verifies connectivity to the Docker daemon
func (r *Runner) Ping(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

// Close closes the Docker client connection
func (r *Runner) Close() error {
	return r.client.Close()
}

// Execute runs code in a fresh container and returns its outcome.
// The timeout bounds the container's run time; a container that exceeds it
// is killed and the call returns an OutcomeTimedOut.
func (r *Runner) Execute(ctx context.Context, code string, timeout time.Duration) (*sandbox.Outcome, error) {
	start := time.Now()
	outcome, err := r.execute(ctx, code, timeout)
	if outcome != nil {
		metrics.RecordSandboxCall(string(outcome.Kind), time.Since(start).Seconds())
	}
	return outcome, err
}

func (r *Runner) execute(ctx context.Context, code string, timeout time.Duration) (*sandbox.Outcome, error) {
	containerConfig := &dockercontainer.Config{
		Image:           r.image,
		Cmd:             interpreterCommand(code),
		NetworkDisabled: true,
		Labels:          map[string]string{"codeact.sandbox": "true"},
		Tty:             false,
	}
	hostConfig := &dockercontainer.HostConfig{
		AutoRemove: false, // removed explicitly after logs are read
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &sandbox.Outcome{
			Kind:    sandbox.OutcomeTransportError,
			Message: fmt.Sprintf("failed to create container: %v", err),
		}, nil
	}
	containerID := resp.ID
	defer r.removeContainer(containerID)

	if err := r.client.ContainerStart(ctx, containerID, dockercontainer.StartOptions{}); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &sandbox.Outcome{
			Kind:    sandbox.OutcomeTransportError,
			Message: fmt.Sprintf("failed to start container: %v", err),
		}, nil
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	statusCh, errCh := r.client.ContainerWait(waitCtx, containerID, dockercontainer.WaitConditionNotRunning)

	var exitCode int64
	select {
	case status := <-statusCh:
		exitCode = status.StatusCode
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if waitCtx.Err() == context.DeadlineExceeded {
			return &sandbox.Outcome{
				Kind:    sandbox.OutcomeTimedOut,
				Message: fmt.Sprintf("container did not exit within %v", timeout),
			}, nil
		}
		return &sandbox.Outcome{
			Kind:    sandbox.OutcomeTransportError,
			Message: fmt.Sprintf("failed to wait for container: %v", err),
		}, nil
	}

	stdout, stderr, err := r.collectLogs(ctx, containerID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &sandbox.Outcome{
			Kind:    sandbox.OutcomeTransportError,
			Message: fmt.Sprintf("failed to read container logs: %v", err),
		}, nil
	}

	if exitCode != 0 {
		return &sandbox.Outcome{
			Kind:      sandbox.OutcomeRuntimeError,
			Message:   runtimeErrorMessage(stderr, exitCode),
			Traceback: stderr,
		}, nil
	}

	return &sandbox.Outcome{
		Kind:   sandbox.OutcomeSuccess,
		Stdout: stdout,
		Stderr: stderr,
	}, nil
}

// collectLogs reads and demuxes the container's stdout/stderr streams
func (r *Runner) collectLogs(ctx context.Context, containerID string) (string, string, error) {
	logs, err := r.client.ContainerLogs(ctx, containerID, dockercontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", err
	}
	defer func() { _ = logs.Close() }()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, logs); err != nil {
		return "", "", err
	}
	return outBuf.String(), errBuf.String(), nil
}

// removeContainer force-removes a container, killing it if still running.
// Runs on a fresh context so cleanup happens even after cancellation.
func (r *Runner) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()
	_ = r.client.ContainerRemove(ctx, containerID, dockercontainer.RemoveOptions{Force: true})
}

// interpreterCommand builds the container command for a code payload
func interpreterCommand(code string) []string {
	return []string{"python3", "-c", code}
}

// runtimeErrorMessage extracts the last non-empty stderr line as the message
func runtimeErrorMessage(stderr string, exitCode int64) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return fmt.Sprintf("process exited with code %d", exitCode)
}
