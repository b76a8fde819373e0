// Package artifact manages the on-disk run directory: per-iteration log
// files, the cumulative summary log, and the config snapshot.
package artifact

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
)

// NewRunID returns a lexicographically sortable unique run identifier.
func NewRunID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// RunDir is one invocation's artifact directory. It holds an advisory lock
// on the workspace: iterations compete for a single port and device set, so
// two concurrent invocations against the same base dir are rejected.
type RunDir struct {
	Path  string
	RunID string
	lock  *flock.Flock
}

// NewRunDir creates <baseDir>/run-<runID>/ and locks the workspace.
func NewRunDir(baseDir, runID string) (*RunDir, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir %s: %w", baseDir, err)
	}

	lock := flock.New(filepath.Join(baseDir, ".soakfire.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock workspace %s: %w", baseDir, err)
	}
	if !locked {
		return nil, fmt.Errorf("workspace %s is locked by another soakfire run", baseDir)
	}

	path := filepath.Join(baseDir, "run-"+runID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("create run dir %s: %w", path, err)
	}
	return &RunDir{Path: path, RunID: runID, lock: lock}, nil
}

// Close releases the workspace lock.
func (r *RunDir) Close() {
	if r.lock != nil {
		_ = r.lock.Unlock()
	}
}

// SummaryLogPath is the cumulative, timestamped run log.
func (r *RunDir) SummaryLogPath() string {
	return filepath.Join(r.Path, "summary.log")
}

// IterationLogPath is where an in-flight iteration's captured output lands.
func (r *RunDir) IterationLogPath(index int) string {
	return filepath.Join(r.Path, fmt.Sprintf("iteration_%03d.log", index))
}

// OpenIterationLog creates (truncating) the iteration's log file.
func (r *RunDir) OpenIterationLog(index int) (*os.File, error) {
	return os.Create(r.IterationLogPath(index))
}

// FinalizeIterationLog renames the iteration log to embed its terminal
// status, e.g. iteration_003_FAIL.log. Returns the final path.
func (r *RunDir) FinalizeIterationLog(index int, status string) (string, error) {
	src := r.IterationLogPath(index)
	dst := filepath.Join(r.Path, fmt.Sprintf("iteration_%03d_%s.log", index, status))
	if _, err := os.Stat(src); os.IsNotExist(err) {
		// Nothing was captured; leave an empty artifact so every iteration
		// has an inspectable file.
		if err := os.WriteFile(dst, nil, 0o644); err != nil {
			return "", err
		}
		return dst, nil
	}
	if err := os.Rename(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// WriteConfigSnapshot records the resolved configuration for the run.
func (r *RunDir) WriteConfigSnapshot(data []byte) error {
	return os.WriteFile(filepath.Join(r.Path, "config.yaml"), data, 0o644)
}
