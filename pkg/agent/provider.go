package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/dotagent/pkg/tools"
)

// Provider identifies a model backend
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
)

// DefaultOllamaURL is where a local Ollama server listens by default
const DefaultOllamaURL = "http://localhost:11434"

// Providers lists every supported provider
func Providers() []Provider {
	return []Provider{ProviderOpenAI, ProviderOllama, ProviderGemini, ProviderAnthropic}
}

// ParseProvider converts a configuration tag into a Provider
func ParseProvider(tag string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(tag)))
	if !p.Valid() {
		return "", &ConfigurationError{Field: "provider", Reason: fmt.Sprintf("unsupported provider: %s", tag)}
	}
	return p, nil
}

// Valid reports whether p is a supported provider
func (p Provider) Valid() bool {
	for _, known := range Providers() {
		if p == known {
			return true
		}
	}
	return false
}

// RequiresAPIKey reports whether the provider needs an access credential
func (p Provider) RequiresAPIKey() bool {
	return p != ProviderOllama
}

func (p Provider) String() string {
	return string(p)
}

// ModelInvoker produces exactly one assistant message for a conversation.
// The tool definitions bind the model to the registry so it can request calls.
type ModelInvoker interface {
	Generate(ctx context.Context, messages []Message, defs []tools.Definition) (AssistantMessage, error)
	Provider() Provider
	Model() string
}

// InvokerConfig holds the connection parameters of a model backend
type InvokerConfig struct {
	Provider    Provider
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

// InvokerFactory creates ModelInvokers
type InvokerFactory interface {
	NewInvoker(cfg InvokerConfig) (ModelInvoker, error)
}

// ProviderFactory is the InvokerFactory backed by the real provider SDKs
type ProviderFactory struct{}

// NewInvoker creates the binding matching cfg.Provider
func (f *ProviderFactory) NewInvoker(cfg InvokerConfig) (ModelInvoker, error) {
	return NewInvoker(cfg)
}

// NewInvoker validates cfg and creates the matching ModelInvoker
func NewInvoker(cfg InvokerConfig) (ModelInvoker, error) {
	if err := validateInvokerConfig(cfg); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIInvoker(cfg), nil
	case ProviderOllama:
		return NewOllamaInvoker(cfg), nil
	case ProviderGemini:
		return NewGeminiInvoker(cfg)
	case ProviderAnthropic:
		return NewAnthropicInvoker(cfg), nil
	default:
		return nil, &ConfigurationError{Field: "provider", Reason: fmt.Sprintf("unsupported provider: %s", cfg.Provider)}
	}
}

func validateInvokerConfig(cfg InvokerConfig) error {
	if !cfg.Provider.Valid() {
		return &ConfigurationError{Field: "provider", Reason: fmt.Sprintf("unsupported provider: %s", cfg.Provider)}
	}
	if cfg.Model == "" {
		return &ConfigurationError{Field: "model", Reason: "model cannot be empty"}
	}
	if cfg.Provider.RequiresAPIKey() && cfg.APIKey == "" {
		return &ConfigurationError{Field: "api_key", Reason: fmt.Sprintf("%s API key is required", cfg.Provider)}
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return &ConfigurationError{Field: "temperature", Reason: "temperature must be between 0 and 2"}
	}
	if cfg.MaxTokens < 0 {
		return &ConfigurationError{Field: "max_tokens", Reason: "max tokens cannot be negative"}
	}
	return nil
}

// requiredFields extracts the "required" list of a JSON schema
func requiredFields(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
