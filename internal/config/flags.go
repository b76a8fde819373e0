package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "soakfire",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Framework and serving flags
	flags.StringP("framework", "f", "", "Serving framework to test (vllm or sglang)")
	flags.String("image", "", "Container image reference for the serving backend")
	flags.StringP("model", "m", "", "Model identifier or on-disk path served by the backend")
	flags.IntP("port", "p", 8000, "Port the server listens on inside the environment")
	flags.StringSlice("server-arg", nil, "Extra server launch argument in key=value form (repeatable)")
	flags.Duration("startup-timeout", 5*time.Minute, "Max time to wait for server readiness")

	// Docker flags
	flags.String("shm-size", "", "Shared memory size for the container (e.g. 16g)")
	flags.String("network", "", "Docker network mode")
	flags.StringSlice("device", nil, "Device to expose to the container (repeatable)")

	// Test loop flags
	flags.IntP("loops", "n", 10, "Number of test iterations to run")
	flags.Int("prompts-per-loop", 5, "Number of prompts to send each iteration")
	flags.String("prompt", "", "Prompt text sent to the server each request")
	flags.String("success-pattern", "", "Case-insensitive substring every response must contain")
	flags.String("mode", string(ModeEphemeral), "Environment recycling mode: 'ephemeral' or 'persistent'")
	flags.IntP("rate", "r", 0, "Prompts per second pacing limit (0 means unlimited)")

	// Timeout flags
	flags.Duration("container-timeout", 10*time.Minute, "Hard per-iteration ceiling enforced by the watchdog")
	flags.Duration("prompt-timeout", 60*time.Second, "Per-request timeout")

	// Workspace flags
	flags.String("base-dir", "soakfire-runs", "Directory where run artifacts are written")
	flags.StringSlice("mount", nil, "Resource mount in host:container form (repeatable)")
	flags.StringSlice("env", nil, "Environment variable for the container in key=value form (repeatable)")
	flags.StringSlice("error-pattern", nil, "Fatal log substring that fails an iteration (repeatable, ordered)")

	// Output flags
	flags.Bool("json-output", false, "Emit the final summary as JSON")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing flags
	flags.Bool("trace", false, "Enable OpenTelemetry tracing of run/iteration phases")
	flags.String("trace-endpoint", "", "OTLP exporter endpoint")
	flags.String("trace-protocol", "", "OTLP exporter protocol: 'grpc' or 'http'")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("framework") {
		val, err := fs.GetString("framework")
		if err != nil {
			return err
		}
		cfg.Framework = strings.TrimSpace(val)
	}
	if fs.Changed("image") {
		val, err := fs.GetString("image")
		if err != nil {
			return err
		}
		cfg.Docker.Image = strings.TrimSpace(val)
	}
	if fs.Changed("model") {
		val, err := fs.GetString("model")
		if err != nil {
			return err
		}
		cfg.Server.ModelPath = strings.TrimSpace(val)
	}
	if fs.Changed("port") {
		val, err := fs.GetInt("port")
		if err != nil {
			return err
		}
		cfg.Server.Port = val
	}
	if fs.Changed("server-arg") {
		entries, err := fs.GetStringSlice("server-arg")
		if err != nil {
			return err
		}
		args, err := parseKeyValues(entries)
		if err != nil {
			return fmt.Errorf("server-arg: %w", err)
		}
		if cfg.ServerArgs == nil {
			cfg.ServerArgs = map[string]interface{}{}
		}
		for key, value := range args {
			cfg.ServerArgs[key] = coerceScalar(value)
		}
	}
	if fs.Changed("startup-timeout") {
		val, err := fs.GetDuration("startup-timeout")
		if err != nil {
			return err
		}
		cfg.Server.StartupTimeout = val
	}
	if fs.Changed("shm-size") {
		val, err := fs.GetString("shm-size")
		if err != nil {
			return err
		}
		cfg.Docker.ShmSize = strings.TrimSpace(val)
	}
	if fs.Changed("network") {
		val, err := fs.GetString("network")
		if err != nil {
			return err
		}
		cfg.Docker.Network = strings.TrimSpace(val)
	}
	if fs.Changed("device") {
		val, err := fs.GetStringSlice("device")
		if err != nil {
			return err
		}
		cfg.Docker.Devices = val
	}
	if fs.Changed("loops") {
		val, err := fs.GetInt("loops")
		if err != nil {
			return err
		}
		cfg.Test.NumLoops = val
	}
	if fs.Changed("prompts-per-loop") {
		val, err := fs.GetInt("prompts-per-loop")
		if err != nil {
			return err
		}
		cfg.Test.PromptsPerLoop = val
	}
	if fs.Changed("prompt") {
		val, err := fs.GetString("prompt")
		if err != nil {
			return err
		}
		cfg.Test.Prompt = val
	}
	if fs.Changed("success-pattern") {
		val, err := fs.GetString("success-pattern")
		if err != nil {
			return err
		}
		cfg.Test.SuccessPattern = val
	}
	if fs.Changed("mode") {
		val, err := fs.GetString("mode")
		if err != nil {
			return err
		}
		cfg.Test.Mode = Mode(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("rate") {
		val, err := fs.GetInt("rate")
		if err != nil {
			return err
		}
		cfg.RatePerSecond = val
	}
	if fs.Changed("container-timeout") {
		val, err := fs.GetDuration("container-timeout")
		if err != nil {
			return err
		}
		cfg.Timeouts.Container = val
	}
	if fs.Changed("prompt-timeout") {
		val, err := fs.GetDuration("prompt-timeout")
		if err != nil {
			return err
		}
		cfg.Timeouts.Prompt = val
	}
	if fs.Changed("base-dir") {
		val, err := fs.GetString("base-dir")
		if err != nil {
			return err
		}
		cfg.Workspace.BaseDir = strings.TrimSpace(val)
	}
	if fs.Changed("mount") {
		val, err := fs.GetStringSlice("mount")
		if err != nil {
			return err
		}
		cfg.Workspace.Mounts = val
	}
	if fs.Changed("env") {
		entries, err := fs.GetStringSlice("env")
		if err != nil {
			return err
		}
		vars, err := parseKeyValues(entries)
		if err != nil {
			return fmt.Errorf("env: %w", err)
		}
		if cfg.Env == nil {
			cfg.Env = map[string]string{}
		}
		for key, value := range vars {
			cfg.Env[key] = value
		}
	}
	if fs.Changed("error-pattern") {
		val, err := fs.GetStringSlice("error-pattern")
		if err != nil {
			return err
		}
		cfg.ErrorPatterns = val
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("trace") {
		val, err := fs.GetBool("trace")
		if err != nil {
			return err
		}
		cfg.Tracing.Enable = val
	}
	if fs.Changed("trace-endpoint") {
		val, err := fs.GetString("trace-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("trace-protocol") {
		val, err := fs.GetString("trace-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	return nil
}
