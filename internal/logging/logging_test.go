package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRunLoggerTeesToSummaryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.log")

	logger, err := NewRunLogger(path)
	if err != nil {
		t.Fatalf("NewRunLogger() error = %v", err)
	}
	logger.Info("iteration complete")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("summary log unreadable: %v", err)
	}
	if !strings.Contains(string(data), "iteration complete") {
		t.Errorf("summary log content = %q", data)
	}
	if !strings.Contains(string(data), "INFO") {
		t.Errorf("summary log missing level, content = %q", data)
	}
}

func TestNewRunLoggerBadPath(t *testing.T) {
	if _, err := NewRunLogger("/nonexistent-dir/summary.log"); err == nil {
		t.Fatal("NewRunLogger() error = nil, want open failure")
	}
}

func TestNewNop(t *testing.T) {
	NewNop().Info("discarded")
}
