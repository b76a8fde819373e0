package config

import (
	"gopkg.in/yaml.v3"
)

// Snapshot renders the fully-resolved configuration as YAML using the same
// key set as the on-disk schema, so a run directory records exactly what the
// run saw after defaulting and overrides.
func Snapshot(cfg *Config) ([]byte, error) {
	doc := map[string]interface{}{
		"framework": cfg.Framework,
		"docker": map[string]interface{}{
			"image":    cfg.Docker.Image,
			"shm_size": cfg.Docker.ShmSize,
			"network":  cfg.Docker.Network,
			"devices":  cfg.Docker.Devices,
		},
		"server": map[string]interface{}{
			"port":            cfg.Server.Port,
			"model_path":      cfg.Server.ModelPath,
			"startup_timeout": cfg.Server.StartupTimeout.String(),
		},
		"server_args": cfg.ServerArgs,
		"timeouts": map[string]interface{}{
			"container": cfg.Timeouts.Container.String(),
			"prompt":    cfg.Timeouts.Prompt.String(),
		},
		"test": map[string]interface{}{
			"num_loops":        cfg.Test.NumLoops,
			"prompts_per_loop": cfg.Test.PromptsPerLoop,
			"prompt":           cfg.Test.Prompt,
			"success_pattern":  cfg.Test.SuccessPattern,
			"mode":             string(cfg.Test.Mode),
		},
		"workspace": map[string]interface{}{
			"base_dir": cfg.Workspace.BaseDir,
			"mounts":   cfg.Workspace.Mounts,
		},
		"env":            cfg.Env,
		"error_patterns": cfg.ErrorPatterns,
		"rate":           cfg.RatePerSecond,
	}
	return yaml.Marshal(doc)
}
