package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the namespace for environment-variable overrides,
// e.g. SOAKFIRE_FRAMEWORK or SOAKFIRE_SERVER_PORT.
const EnvPrefix = "SOAKFIRE_"

// Loader handles loading configuration from files, environment variables,
// and command-line arguments. Precedence: flags > env > file > defaults.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration sources to produce a Config.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	settings := cfgViper.AllSettings()

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg, os.Getenv); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Framework = strings.ToLower(strings.TrimSpace(cfg.Framework))
	cfg.Test.Mode = Mode(strings.ToLower(strings.TrimSpace(string(cfg.Test.Mode))))
	cfg.Docker.Image = strings.TrimSpace(cfg.Docker.Image)
	cfg.Server.ModelPath = strings.TrimSpace(cfg.Server.ModelPath)

	if cfg.Env == nil {
		cfg.Env = map[string]string{}
	}
	if cfg.ServerArgs == nil {
		cfg.ServerArgs = map[string]interface{}{}
	}

	return cfg, nil
}

// Default returns the built-in configuration baseline.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8000,
			StartupTimeout: 5 * time.Minute,
		},
		Timeouts: TimeoutConfig{
			Container: 10 * time.Minute,
			Prompt:    60 * time.Second,
		},
		Test: TestConfig{
			NumLoops:       10,
			PromptsPerLoop: 5,
			Prompt:         "Describe what an inference server does in two sentences.",
			Mode:           ModeEphemeral,
		},
		Workspace: WorkspaceConfig{
			BaseDir: "soakfire-runs",
		},
		Env:        map[string]string{},
		ServerArgs: map[string]interface{}{},
		Tracing:    TracingConfig{SampleRate: 1.0},
	}
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "framework"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("framework: %w", err)
		}
		cfg.Framework = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "docker"); ok {
		if err := applyDockerSettings(cfg, raw); err != nil {
			return fmt.Errorf("docker: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "server"); ok {
		if err := applyServerSettings(cfg, raw); err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "serverargs", "server_args", "server-args"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("server_args: %w", err)
		}
		cfg.ServerArgs = entry
	}

	if raw, ok := lookupSetting(settings, "timeouts"); ok {
		if err := applyTimeoutSettings(cfg, raw); err != nil {
			return fmt.Errorf("timeouts: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "test"); ok {
		if err := applyTestSettings(cfg, raw); err != nil {
			return fmt.Errorf("test: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "workspace"); ok {
		if err := applyWorkspaceSettings(cfg, raw); err != nil {
			return fmt.Errorf("workspace: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "env"); ok {
		vars, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("env: %w", err)
		}
		cfg.Env = vars
	}

	if raw, ok := lookupSetting(settings, "errorpatterns", "error_patterns", "error-patterns"); ok {
		patterns, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("error_patterns: %w", err)
		}
		cfg.ErrorPatterns = patterns
	}

	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		cfg.RatePerSecond = val
	}

	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("jsonOutput: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracingSettings(cfg, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	return nil
}

func applyDockerSettings(cfg *Config, value interface{}) error {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(entry, "image"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("image: %w", err)
		}
		cfg.Docker.Image = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(entry, "shmsize", "shm_size", "shm-size"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("shm_size: %w", err)
		}
		cfg.Docker.ShmSize = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(entry, "network"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("network: %w", err)
		}
		cfg.Docker.Network = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(entry, "devices"); ok {
		devices, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("devices: %w", err)
		}
		cfg.Docker.Devices = devices
	}
	return nil
}

func applyServerSettings(cfg *Config, value interface{}) error {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(entry, "port"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		cfg.Server.Port = val
	}
	if raw, ok := lookupSetting(entry, "modelpath", "model_path", "model-path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("model_path: %w", err)
		}
		cfg.Server.ModelPath = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(entry, "startuptimeout", "startup_timeout", "startup-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("startup_timeout: %w", err)
		}
		cfg.Server.StartupTimeout = dur
	}
	return nil
}

func applyTimeoutSettings(cfg *Config, value interface{}) error {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(entry, "container"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("container: %w", err)
		}
		cfg.Timeouts.Container = dur
	}
	if raw, ok := lookupSetting(entry, "prompt"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("prompt: %w", err)
		}
		cfg.Timeouts.Prompt = dur
	}
	return nil
}

func applyTestSettings(cfg *Config, value interface{}) error {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(entry, "numloops", "num_loops", "num-loops"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("num_loops: %w", err)
		}
		cfg.Test.NumLoops = val
	}
	if raw, ok := lookupSetting(entry, "promptsperloop", "prompts_per_loop", "prompts-per-loop"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("prompts_per_loop: %w", err)
		}
		cfg.Test.PromptsPerLoop = val
	}
	if raw, ok := lookupSetting(entry, "prompt"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("prompt: %w", err)
		}
		if val != "" {
			cfg.Test.Prompt = val
		}
	}
	if raw, ok := lookupSetting(entry, "successpattern", "success_pattern", "success-pattern"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("success_pattern: %w", err)
		}
		cfg.Test.SuccessPattern = val
	}
	if raw, ok := lookupSetting(entry, "mode"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("mode: %w", err)
		}
		if val != "" {
			cfg.Test.Mode = Mode(strings.ToLower(strings.TrimSpace(val)))
		}
	}
	return nil
}

func applyWorkspaceSettings(cfg *Config, value interface{}) error {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(entry, "basedir", "base_dir", "base-dir"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("base_dir: %w", err)
		}
		if strings.TrimSpace(val) != "" {
			cfg.Workspace.BaseDir = strings.TrimSpace(val)
		}
	}
	if raw, ok := lookupSetting(entry, "mounts"); ok {
		mounts, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("mounts: %w", err)
		}
		cfg.Workspace.Mounts = mounts
	}
	return nil
}

func applyTracingSettings(cfg *Config, value interface{}) error {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(entry, "enable", "enabled"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("enable: %w", err)
		}
		cfg.Tracing.Enable = val
	}
	if raw, ok := lookupSetting(entry, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(entry, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(entry, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		cfg.Tracing.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(entry, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		cfg.Tracing.Insecure = val
	}
	if raw, ok := lookupSetting(entry, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		cfg.Tracing.SampleRate = val
	}
	return nil
}

// applyEnvOverrides applies SOAKFIRE_-prefixed environment variables on top of
// file-provided values. The getenv parameter is injectable for tests.
func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if val := getenv(EnvPrefix + name); val != "" {
			*dst = strings.TrimSpace(val)
		}
	}

	str("FRAMEWORK", &cfg.Framework)
	str("DOCKER_IMAGE", &cfg.Docker.Image)
	str("DOCKER_SHM_SIZE", &cfg.Docker.ShmSize)
	str("DOCKER_NETWORK", &cfg.Docker.Network)
	str("SERVER_MODEL_PATH", &cfg.Server.ModelPath)
	str("TEST_PROMPT", &cfg.Test.Prompt)
	str("TEST_SUCCESS_PATTERN", &cfg.Test.SuccessPattern)
	str("WORKSPACE_BASE_DIR", &cfg.Workspace.BaseDir)

	if val := getenv(EnvPrefix + "SERVER_PORT"); val != "" {
		port, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("%sSERVER_PORT: %w", EnvPrefix, err)
		}
		cfg.Server.Port = port
	}
	if val := getenv(EnvPrefix + "SERVER_STARTUP_TIMEOUT"); val != "" {
		dur, err := asDuration(val)
		if err != nil {
			return fmt.Errorf("%sSERVER_STARTUP_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Server.StartupTimeout = dur
	}
	if val := getenv(EnvPrefix + "TIMEOUTS_CONTAINER"); val != "" {
		dur, err := asDuration(val)
		if err != nil {
			return fmt.Errorf("%sTIMEOUTS_CONTAINER: %w", EnvPrefix, err)
		}
		cfg.Timeouts.Container = dur
	}
	if val := getenv(EnvPrefix + "TIMEOUTS_PROMPT"); val != "" {
		dur, err := asDuration(val)
		if err != nil {
			return fmt.Errorf("%sTIMEOUTS_PROMPT: %w", EnvPrefix, err)
		}
		cfg.Timeouts.Prompt = dur
	}
	if val := getenv(EnvPrefix + "TEST_NUM_LOOPS"); val != "" {
		loops, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("%sTEST_NUM_LOOPS: %w", EnvPrefix, err)
		}
		cfg.Test.NumLoops = loops
	}
	if val := getenv(EnvPrefix + "TEST_PROMPTS_PER_LOOP"); val != "" {
		prompts, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("%sTEST_PROMPTS_PER_LOOP: %w", EnvPrefix, err)
		}
		cfg.Test.PromptsPerLoop = prompts
	}
	if val := getenv(EnvPrefix + "TEST_MODE"); val != "" {
		cfg.Test.Mode = Mode(strings.ToLower(strings.TrimSpace(val)))
	}

	return nil
}
