package adapter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/soakfire/soakfire/internal/config"
)

func init() {
	Register(sglangAdapter{})
}

// sglangAdapter drives an SGLang server through its OpenAI-compatible surface.
type sglangAdapter struct{}

func (sglangAdapter) Name() string { return "sglang" }

func (sglangAdapter) BuildLaunchCommand(model string, port int, extraArgs []string) string {
	parts := []string{
		"python3", "-m", "sglang.launch_server",
		"--model-path", model,
		"--host", "0.0.0.0",
		"--port", fmt.Sprint(port),
	}
	parts = append(parts, extraArgs...)
	return strings.Join(parts, " ")
}

func (sglangAdapter) HealthPath() string { return "/health" }

func (sglangAdapter) ChatPath() string { return "/v1/chat/completions" }

func (sglangAdapter) BuildPayload(model, prompt string, defaultParams, extraParams map[string]interface{}) ([]byte, error) {
	return BuildChatPayload(model, prompt, defaultParams, extraParams)
}

func (sglangAdapter) ParseResponse(raw []byte) (string, bool) {
	return ParseChatResponse(raw)
}

func (sglangAdapter) ProcessPattern() string {
	return "sglang.launch_server"
}

func (sglangAdapter) EntrypointOverride() []string { return nil }

func (sglangAdapter) ExtraMounts() []Mount { return nil }

func (sglangAdapter) ValidateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Server.ModelPath) == "" {
		return errors.New("server.model_path is required for sglang")
	}
	// SGLang's scheduler uses shared memory for tensor transport and is
	// known to crash with the Docker default of 64m.
	if strings.TrimSpace(cfg.Docker.ShmSize) == "" {
		return errors.New("docker.shm_size is required for sglang (e.g. 16g)")
	}
	return nil
}
