package environ

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// workloadSink is where StartWorkload redirects server output inside a
// persistent environment so it can be collected per iteration.
const workloadSink = "/tmp/soakfire-server.log"

// fallbackPattern covers known server process names when an adapter does not
// supply its own process pattern.
const fallbackPattern = "vllm|sglang|api_server|launch_server"

// stopPollTicks bounds how long StopWorkload waits for graceful exit before
// escalating to SIGKILL.
const stopPollTicks = 30

// commandRunner executes external commands; injectable for tests.
type commandRunner interface {
	// Run executes a command to completion and returns combined output.
	Run(ctx context.Context, name string, args ...string) (string, error)
	// Start launches a command with stdout/stderr attached to w and returns
	// a kill function plus a channel closed when the command exits.
	Start(ctx context.Context, w io.Writer, name string, args ...string) (kill func(), done <-chan struct{}, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

func (execRunner) Start(ctx context.Context, w io.Writer, name string, args ...string) (func(), <-chan struct{}, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cmd.Wait()
	}()
	kill := func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	return kill, done, nil
}

// DockerProvider implements Provider on top of the docker CLI. No container
// SDK is used; the harness shells out the same way an operator would.
type DockerProvider struct {
	runner       commandRunner
	stopInterval time.Duration
}

// NewDockerProvider returns a Provider backed by the local docker binary.
func NewDockerProvider() *DockerProvider {
	return &DockerProvider{runner: execRunner{}, stopInterval: time.Second}
}

// CheckAvailable verifies the docker binary is present and responsive.
// A failure here is fatal before iteration 1.
func (p *DockerProvider) CheckAvailable(ctx context.Context) error {
	if _, err := p.runner.Run(ctx, "docker", "version", "--format", "{{.Server.Version}}"); err != nil {
		return fmt.Errorf("docker is not available: %w", err)
	}
	return nil
}

func (p *DockerProvider) CreateEphemeral(ctx context.Context, spec Spec, name string) (*Handle, error) {
	args := p.runArgs(spec, name)
	if len(spec.Entrypoint) > 0 {
		args = append(args, "--entrypoint", spec.Entrypoint[0])
	}
	args = append(args, spec.Image)
	if len(spec.Entrypoint) > 1 {
		args = append(args, spec.Entrypoint[1:]...)
	}
	args = append(args, "/bin/sh", "-c", spec.Command)

	if out, err := p.runner.Run(ctx, "docker", args...); err != nil {
		return nil, fmt.Errorf("docker run %s: %w: %s", name, err, strings.TrimSpace(out))
	}
	return &Handle{Name: name}, nil
}

func (p *DockerProvider) CreatePersistent(ctx context.Context, spec Spec, name string) (*Handle, error) {
	args := p.runArgs(spec, name)
	args = append(args, spec.Image, "/bin/sh", "-c", "sleep infinity")

	if out, err := p.runner.Run(ctx, "docker", args...); err != nil {
		return nil, fmt.Errorf("docker run %s: %w: %s", name, err, strings.TrimSpace(out))
	}
	return &Handle{Name: name, Persistent: true}, nil
}

// runArgs assembles the shared `docker run -d` argument list from a spec.
func (p *DockerProvider) runArgs(spec Spec, name string) []string {
	args := []string{"run", "-d", "--name", name}
	if spec.ShmSize != "" {
		args = append(args, "--shm-size", spec.ShmSize)
	}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	if spec.Port > 0 {
		args = append(args, "-p", fmt.Sprintf("%d:%d", spec.Port, spec.Port))
	}
	for _, device := range spec.Devices {
		args = append(args, "--device", device)
	}
	for _, mount := range spec.Mounts {
		args = append(args, "-v", mount)
	}
	for key, value := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", key, value))
	}
	return args
}

// Destroy force-removes the container. Removing an already-removed container
// is a no-op so a watchdog firing during teardown is harmless.
func (p *DockerProvider) Destroy(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}
	_, _ = p.runner.Run(ctx, "docker", "rm", "-f", h.Name)
}

func (p *DockerProvider) IsAlive(ctx context.Context, h *Handle) bool {
	if h == nil {
		return false
	}
	out, err := p.runner.Run(ctx, "docker", "inspect", "-f", "{{.State.Running}}", h.Name)
	return err == nil && strings.TrimSpace(out) == "true"
}

func (p *DockerProvider) Exec(ctx context.Context, h *Handle, argv ...string) (string, error) {
	args := append([]string{"exec", h.Name}, argv...)
	out, err := p.runner.Run(ctx, "docker", args...)
	if err != nil {
		return out, fmt.Errorf("docker exec %s: %w", h.Name, err)
	}
	return out, nil
}

func (p *DockerProvider) StartWorkload(ctx context.Context, h *Handle, command string) error {
	redirected := fmt.Sprintf("%s > %s 2>&1", command, workloadSink)
	out, err := p.runner.Run(ctx, "docker", "exec", "-d", h.Name, "/bin/sh", "-c", redirected)
	if err != nil {
		return fmt.Errorf("start workload in %s: %w: %s", h.Name, err, strings.TrimSpace(out))
	}
	return nil
}

func (p *DockerProvider) StopWorkload(ctx context.Context, h *Handle, pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		pattern = fallbackPattern
	}

	// pkill exits non-zero when nothing matched; that is already stopped.
	if !p.WorkloadRunning(ctx, h, pattern) {
		return nil
	}
	_, _ = p.runner.Run(ctx, "docker", "exec", h.Name, "pkill", "-TERM", "-f", pattern)

	for i := 0; i < stopPollTicks; i++ {
		if !p.WorkloadRunning(ctx, h, pattern) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.stopInterval):
		}
	}

	_, _ = p.runner.Run(ctx, "docker", "exec", h.Name, "pkill", "-KILL", "-f", pattern)
	if p.WorkloadRunning(ctx, h, pattern) {
		return fmt.Errorf("workload in %s still running after SIGKILL", h.Name)
	}
	return nil
}

func (p *DockerProvider) WorkloadRunning(ctx context.Context, h *Handle, pattern string) bool {
	if strings.TrimSpace(pattern) == "" {
		pattern = fallbackPattern
	}
	out, err := p.runner.Run(ctx, "docker", "exec", h.Name, "pgrep", "-f", pattern)
	return err == nil && strings.TrimSpace(out) != ""
}

// StreamLogs follows the environment's log stream into w. For an ephemeral
// environment that is the container's own output; for a persistent one it is
// the workload sink written by StartWorkload.
func (p *DockerProvider) StreamLogs(ctx context.Context, h *Handle, w io.Writer) (func(), error) {
	var kill func()
	var err error
	if h.Persistent {
		kill, _, err = p.runner.Start(ctx, w, "docker", "exec", h.Name, "/bin/sh", "-c",
			fmt.Sprintf("touch %s && tail -n +1 -f %s", workloadSink, workloadSink))
	} else {
		kill, _, err = p.runner.Start(ctx, w, "docker", "logs", "-f", h.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("stream logs for %s: %w", h.Name, err)
	}
	return kill, nil
}
