package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRunIDUnique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == b {
		t.Errorf("two run IDs collided: %s", a)
	}
	if len(a) != 26 {
		t.Errorf("run ID %q has length %d, want 26", a, len(a))
	}
}

func TestNewRunDirLayout(t *testing.T) {
	base := t.TempDir()
	runID := NewRunID()

	r, err := NewRunDir(base, runID)
	if err != nil {
		t.Fatalf("NewRunDir() error = %v", err)
	}
	defer r.Close()

	if r.Path != filepath.Join(base, "run-"+runID) {
		t.Errorf("Path = %q", r.Path)
	}
	if _, err := os.Stat(r.Path); err != nil {
		t.Errorf("run dir was not created: %v", err)
	}
	if got := r.IterationLogPath(3); !strings.HasSuffix(got, "iteration_003.log") {
		t.Errorf("IterationLogPath(3) = %q", got)
	}
	if got := r.SummaryLogPath(); !strings.HasSuffix(got, "summary.log") {
		t.Errorf("SummaryLogPath() = %q", got)
	}
}

func TestWorkspaceLockRejectsConcurrentRun(t *testing.T) {
	base := t.TempDir()

	first, err := NewRunDir(base, NewRunID())
	if err != nil {
		t.Fatalf("first NewRunDir() error = %v", err)
	}
	defer first.Close()

	if _, err := NewRunDir(base, NewRunID()); err == nil {
		t.Fatal("second NewRunDir() error = nil, want workspace-locked error")
	}

	first.Close()
	third, err := NewRunDir(base, NewRunID())
	if err != nil {
		t.Fatalf("NewRunDir() after unlock error = %v", err)
	}
	third.Close()
}

func TestFinalizeIterationLogRenames(t *testing.T) {
	r, err := NewRunDir(t.TempDir(), NewRunID())
	if err != nil {
		t.Fatalf("NewRunDir() error = %v", err)
	}
	defer r.Close()

	f, err := r.OpenIterationLog(1)
	if err != nil {
		t.Fatalf("OpenIterationLog() error = %v", err)
	}
	if _, err := f.WriteString("captured output\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	final, err := r.FinalizeIterationLog(1, "FAIL")
	if err != nil {
		t.Fatalf("FinalizeIterationLog() error = %v", err)
	}
	if !strings.HasSuffix(final, "iteration_001_FAIL.log") {
		t.Errorf("final path = %q", final)
	}
	data, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("renamed artifact unreadable: %v", err)
	}
	if string(data) != "captured output\n" {
		t.Errorf("artifact content = %q", data)
	}
	if _, err := os.Stat(r.IterationLogPath(1)); !os.IsNotExist(err) {
		t.Error("unrenamed artifact still present")
	}
}

func TestFinalizeIterationLogWithoutCapture(t *testing.T) {
	r, err := NewRunDir(t.TempDir(), NewRunID())
	if err != nil {
		t.Fatalf("NewRunDir() error = %v", err)
	}
	defer r.Close()

	final, err := r.FinalizeIterationLog(2, "SUCCESS")
	if err != nil {
		t.Fatalf("FinalizeIterationLog() error = %v", err)
	}
	info, err := os.Stat(final)
	if err != nil {
		t.Fatalf("empty artifact missing: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("artifact size = %d, want 0", info.Size())
	}
}

func TestWriteConfigSnapshot(t *testing.T) {
	r, err := NewRunDir(t.TempDir(), NewRunID())
	if err != nil {
		t.Fatalf("NewRunDir() error = %v", err)
	}
	defer r.Close()

	if err := r.WriteConfigSnapshot([]byte("framework: vllm\n")); err != nil {
		t.Fatalf("WriteConfigSnapshot() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(r.Path, "config.yaml"))
	if err != nil {
		t.Fatalf("snapshot unreadable: %v", err)
	}
	if string(data) != "framework: vllm\n" {
		t.Errorf("snapshot content = %q", data)
	}
}
