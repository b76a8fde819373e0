// Package adapter defines the pluggable serving-backend contract and the
// startup-time registry that binds a framework name to a concrete adapter.
package adapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/soakfire/soakfire/internal/config"
)

// ErrNotFound is returned when no adapter is registered under a name.
var ErrNotFound = errors.New("adapter not found")

// ErrIncomplete is returned at bind time when an adapter does not provide a
// usable value for a required capability.
var ErrIncomplete = errors.New("adapter incomplete")

// Mount is an additional host:container bind the adapter needs.
type Mount struct {
	Host      string
	Container string
}

// Adapter translates generic orchestration calls into backend-specific
// launch commands, endpoints, and payload formats. Implementations are
// stateless pure strategies; no iteration state is stored on them.
type Adapter interface {
	Name() string
	BuildLaunchCommand(model string, port int, extraArgs []string) string
	HealthPath() string
	ChatPath() string
	BuildPayload(model, prompt string, defaultParams, extraParams map[string]interface{}) ([]byte, error)
	// ParseResponse extracts the assistant text from a raw chat response.
	// On failure it returns a "PARSE_ERROR: ..." sentinel and false.
	ParseResponse(raw []byte) (string, bool)
	ProcessPattern() string
	EntrypointOverride() []string
	ExtraMounts() []Mount
	ValidateConfig(cfg *config.Config) error
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Adapter{}
)

// Register makes an adapter available under its name. Registration happens
// at package init; duplicate names panic because they indicate a build bug.
func Register(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name := strings.ToLower(strings.TrimSpace(a.Name()))
	if name == "" {
		panic("adapter: empty name")
	}
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("adapter: duplicate registration for %q", name))
	}
	registry[name] = a
}

// Names returns the registered framework names sorted alphabetically.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind resolves a framework name to its adapter, validates the configuration
// against it, and audits every required capability before any iteration runs.
func Bind(name string, cfg *config.Config) (Adapter, error) {
	registryMu.RLock()
	a, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrNotFound, name, strings.Join(Names(), ", "))
	}
	if err := a.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("adapter %s: %w", a.Name(), err)
	}
	if err := audit(a, cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// audit exercises each required capability against the bound configuration so
// a broken adapter fails the run before iteration 1 instead of mid-loop.
func audit(a Adapter, cfg *config.Config) error {
	fail := func(capability string) error {
		return fmt.Errorf("%w: %s does not provide %s", ErrIncomplete, a.Name(), capability)
	}

	if strings.TrimSpace(a.HealthPath()) == "" {
		return fail("a health path")
	}
	if strings.TrimSpace(a.ChatPath()) == "" {
		return fail("a chat path")
	}
	if strings.TrimSpace(a.BuildLaunchCommand(cfg.Server.ModelPath, cfg.Server.Port, nil)) == "" {
		return fail("a launch command")
	}

	payload, err := a.BuildPayload(cfg.Server.ModelPath, "capability probe", nil, nil)
	if err != nil {
		return fmt.Errorf("%w: %s payload builder failed: %v", ErrIncomplete, a.Name(), err)
	}
	if !gjson.ValidBytes(payload) {
		return fail("a JSON payload")
	}
	return nil
}

// BuildChatPayload assembles the OpenAI-compatible chat payload shared by the
// bundled adapters: {model, messages} merged with defaultParams then
// extraParams, extraParams winning on key conflict.
func BuildChatPayload(model, prompt string, defaultParams, extraParams map[string]interface{}) ([]byte, error) {
	body := map[string]interface{}{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	for key, value := range defaultParams {
		body[key] = value
	}
	for key, value := range extraParams {
		body[key] = value
	}
	return json.Marshal(body)
}

// ParseChatResponse extracts choices.0.message.content from an
// OpenAI-compatible chat completion response.
func ParseChatResponse(raw []byte) (string, bool) {
	if !gjson.ValidBytes(raw) {
		return "PARSE_ERROR: response is not valid JSON", false
	}
	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() {
		return fmt.Sprintf("PARSE_ERROR: missing choices[0].message.content in %s", truncate(string(raw), 200)), false
	}
	return content.String(), true
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
