// Package environ provisions and tears down the compute environments that
// host a serving workload, and owns their log capture.
package environ

import (
	"context"
	"io"
)

// Handle identifies one provisioned environment. Exactly one ephemeral
// handle is live per iteration; a persistent handle is reused for the run.
type Handle struct {
	Name       string
	Persistent bool
}

// Spec describes the environment to provision.
type Spec struct {
	Image      string
	Command    string // workload shell command; empty for a keep-alive environment
	Entrypoint []string
	Env        map[string]string
	Mounts     []string // host:container
	Devices    []string
	ShmSize    string
	Network    string
	Port       int // published on the host for readiness/workload traffic
}

// Provider abstracts the container runtime.
type Provider interface {
	// CreateEphemeral provisions a fresh environment whose entry workload is
	// spec.Command. Destroyed at the end of the iteration.
	CreateEphemeral(ctx context.Context, spec Spec, name string) (*Handle, error)

	// CreatePersistent provisions a long-lived environment kept alive
	// without running the workload. Invoked once per run.
	CreatePersistent(ctx context.Context, spec Spec, name string) (*Handle, error)

	// Destroy removes the environment. Idempotent and best-effort: it never
	// returns an error because it runs on every exit path.
	Destroy(ctx context.Context, h *Handle)

	// IsAlive reports whether the environment is still running.
	IsAlive(ctx context.Context, h *Handle) bool

	// Exec runs a command inside the environment and returns combined output.
	Exec(ctx context.Context, h *Handle, argv ...string) (string, error)

	// StartWorkload launches the server command in the background inside an
	// existing environment, redirecting output to a capturable sink.
	StartWorkload(ctx context.Context, h *Handle, command string) error

	// StopWorkload gracefully terminates processes matching pattern (or the
	// built-in fallback when empty), polls for exit, and escalates to a
	// forceful signal. A returned error is a warning, not an iteration failure.
	StopWorkload(ctx context.Context, h *Handle, pattern string) error

	// WorkloadRunning reports whether a process matching pattern is alive.
	WorkloadRunning(ctx context.Context, h *Handle, pattern string) bool

	// StreamLogs copies the environment's log stream into w until the
	// returned stop function is called or the environment dies.
	StreamLogs(ctx context.Context, h *Handle, w io.Writer) (stop func(), err error)
}
