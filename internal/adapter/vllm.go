package adapter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/soakfire/soakfire/internal/config"
)

func init() {
	Register(vllmAdapter{})
}

// vllmAdapter drives a vLLM OpenAI-compatible API server.
type vllmAdapter struct{}

func (vllmAdapter) Name() string { return "vllm" }

func (vllmAdapter) BuildLaunchCommand(model string, port int, extraArgs []string) string {
	parts := []string{
		"python3", "-m", "vllm.entrypoints.openai.api_server",
		"--model", model,
		"--host", "0.0.0.0",
		"--port", fmt.Sprint(port),
	}
	parts = append(parts, extraArgs...)
	return strings.Join(parts, " ")
}

func (vllmAdapter) HealthPath() string { return "/health" }

func (vllmAdapter) ChatPath() string { return "/v1/chat/completions" }

func (vllmAdapter) BuildPayload(model, prompt string, defaultParams, extraParams map[string]interface{}) ([]byte, error) {
	return BuildChatPayload(model, prompt, defaultParams, extraParams)
}

func (vllmAdapter) ParseResponse(raw []byte) (string, bool) {
	return ParseChatResponse(raw)
}

func (vllmAdapter) ProcessPattern() string {
	return "vllm.entrypoints.openai.api_server"
}

func (vllmAdapter) EntrypointOverride() []string { return nil }

func (vllmAdapter) ExtraMounts() []Mount { return nil }

func (vllmAdapter) ValidateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Server.ModelPath) == "" {
		return errors.New("server.model_path is required for vllm")
	}
	return nil
}
