package config

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how the serving environment is recycled between iterations.
type Mode string

const (
	// ModeEphemeral destroys and recreates the container every iteration.
	ModeEphemeral Mode = "ephemeral"
	// ModePersistent keeps one container alive and restarts only the
	// server process inside it.
	ModePersistent Mode = "persistent"
)

type DockerConfig struct {
	Image   string   `mapstructure:"image"`
	ShmSize string   `mapstructure:"shm_size"`
	Network string   `mapstructure:"network"`
	Devices []string `mapstructure:"devices"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ModelPath      string        `mapstructure:"model_path"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
}

type TimeoutConfig struct {
	Container time.Duration `mapstructure:"container"`
	Prompt    time.Duration `mapstructure:"prompt"`
}

type TestConfig struct {
	NumLoops       int    `mapstructure:"num_loops"`
	PromptsPerLoop int    `mapstructure:"prompts_per_loop"`
	Prompt         string `mapstructure:"prompt"`
	SuccessPattern string `mapstructure:"success_pattern"`
	Mode           Mode   `mapstructure:"mode"`
}

type WorkspaceConfig struct {
	BaseDir string   `mapstructure:"base_dir"`
	Mounts  []string `mapstructure:"mounts"`
}

type TracingConfig struct {
	Enable      bool    `mapstructure:"enable"`
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

func (t TracingConfig) Enabled() bool {
	return t.Enable
}

// Config is the resolved, immutable per-run configuration.
type Config struct {
	Framework     string                 `mapstructure:"framework"`
	Docker        DockerConfig           `mapstructure:"docker"`
	Server        ServerConfig           `mapstructure:"server"`
	ServerArgs    map[string]interface{} `mapstructure:"server_args"`
	Timeouts      TimeoutConfig          `mapstructure:"timeouts"`
	Test          TestConfig             `mapstructure:"test"`
	Workspace     WorkspaceConfig        `mapstructure:"workspace"`
	Env           map[string]string      `mapstructure:"env"`
	ErrorPatterns []string               `mapstructure:"error_patterns"`
	RatePerSecond int                    `mapstructure:"rate"`
	JSONOutput    bool                   `mapstructure:"json_output"`
	Tracing       TracingConfig          `mapstructure:"tracing"`
	ConfigFile    string                 `mapstructure:"-"`
}

// ValidationError aggregates all configuration issues found in one pass.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.Framework) == "" {
		issues = append(issues, "framework is required (use --help for usage information)")
	}
	if strings.TrimSpace(c.Docker.Image) == "" {
		issues = append(issues, "docker.image is required")
	}
	if strings.TrimSpace(c.Server.ModelPath) == "" {
		issues = append(issues, "server.model_path is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		issues = append(issues, "server.port must be between 1 and 65535")
	}
	if c.Server.StartupTimeout <= 0 {
		issues = append(issues, "server.startup_timeout must be > 0")
	}
	if c.Timeouts.Container <= 0 {
		issues = append(issues, "timeouts.container must be > 0")
	}
	if c.Timeouts.Prompt <= 0 {
		issues = append(issues, "timeouts.prompt must be > 0")
	}
	if c.Test.NumLoops < 1 {
		issues = append(issues, "test.num_loops must be >= 1")
	}
	if c.Test.PromptsPerLoop < 1 {
		issues = append(issues, "test.prompts_per_loop must be >= 1")
	}
	if c.RatePerSecond < 0 {
		issues = append(issues, "rate must be >= 0")
	}

	switch c.Test.Mode {
	case ModeEphemeral, ModePersistent:
	default:
		issues = append(issues, fmt.Sprintf("test.mode must be %q or %q, got %q", ModeEphemeral, ModePersistent, c.Test.Mode))
	}

	for idx, mount := range c.Workspace.Mounts {
		if !strings.Contains(mount, ":") {
			issues = append(issues, fmt.Sprintf("workspace.mounts[%d]: expected host:container form, got %q", idx, mount))
		}
	}
	for idx, pattern := range c.ErrorPatterns {
		if strings.TrimSpace(pattern) == "" {
			issues = append(issues, fmt.Sprintf("error_patterns[%d]: pattern cannot be empty", idx))
		}
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1.0 {
		issues = append(issues, "tracing.sample_rate must be between 0.0 and 1.0")
	}
	if c.Tracing.Protocol != "" && c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
		issues = append(issues, fmt.Sprintf("tracing.protocol must be 'grpc' or 'http', got %q", c.Tracing.Protocol))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
