package config

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestSnapshotRoundTripsThroughLoader(t *testing.T) {
	cfg := Default()
	cfg.Framework = "sglang"
	cfg.Docker.Image = "lmsysorg/sglang:latest"
	cfg.Docker.ShmSize = "16g"
	cfg.Server.ModelPath = "/models/llama"
	cfg.ServerArgs = map[string]interface{}{"tp-size": 2}
	cfg.ErrorPatterns = []string{"CUDA error"}

	data, err := Snapshot(cfg)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	// The snapshot uses the on-disk schema, so loading it back must
	// reproduce the resolved configuration.
	var settings map[string]interface{}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		t.Fatalf("snapshot is not valid YAML: %v", err)
	}
	restored := Default()
	if err := applyConfigSettings(restored, settings); err != nil {
		t.Fatalf("applyConfigSettings() on snapshot error = %v", err)
	}

	if restored.Framework != "sglang" {
		t.Errorf("Framework = %q", restored.Framework)
	}
	if restored.Docker.Image != cfg.Docker.Image {
		t.Errorf("Docker.Image = %q", restored.Docker.Image)
	}
	if restored.Server.ModelPath != cfg.Server.ModelPath {
		t.Errorf("Server.ModelPath = %q", restored.Server.ModelPath)
	}
	if restored.Server.StartupTimeout != cfg.Server.StartupTimeout {
		t.Errorf("Server.StartupTimeout = %v, want %v", restored.Server.StartupTimeout, cfg.Server.StartupTimeout)
	}
	if got, err := asInt(restored.ServerArgs["tp-size"]); err != nil || got != 2 {
		t.Errorf("ServerArgs[tp-size] = %v", restored.ServerArgs["tp-size"])
	}
	if len(restored.ErrorPatterns) != 1 || restored.ErrorPatterns[0] != "CUDA error" {
		t.Errorf("ErrorPatterns = %v", restored.ErrorPatterns)
	}
}
