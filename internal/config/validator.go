package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/harun/dotagent/pkg/agent"
	"github.com/harun/dotagent/pkg/chaintools"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider agent.Provider) error {
	if !provider.RequiresAPIKey() {
		return nil
	}
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case agent.ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case agent.ProviderOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case agent.ProviderGemini:
		if !strings.HasPrefix(key, "AIza") {
			return fmt.Errorf("invalid Gemini API key format (should start with AIza)")
		}
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateLogFormat validates the console output format
func (v *Validator) ValidateLogFormat(format string) error {
	switch format {
	case "", "console", "json":
		return nil
	}
	return fmt.Errorf("invalid log format: %s (must be one of: console, json)", format)
}

// ValidateEndpointURL checks that raw is an absolute URL with one of schemes
func (v *Validator) ValidateEndpointURL(raw string, schemes ...string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: missing host", raw)
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			return nil
		}
	}
	return fmt.Errorf("invalid URL %q: scheme must be one of %s", raw, strings.Join(schemes, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	provider, err := agent.ParseProvider(string(cfg.Agent.Provider))
	if err != nil {
		errors = append(errors, err)
	} else if err := v.ValidateAPIKey(cfg.Agent.APIKey, provider); err != nil {
		errors = append(errors, fmt.Errorf("agent: %w", err))
	}
	if cfg.Agent.Model == "" {
		errors = append(errors, fmt.Errorf("agent: model name cannot be empty"))
	}
	if err := v.ValidateTemperature(cfg.Agent.Temperature); err != nil {
		errors = append(errors, fmt.Errorf("agent: %w", err))
	}
	if err := v.ValidateMaxTokens(cfg.Agent.MaxTokens); err != nil {
		errors = append(errors, fmt.Errorf("agent: %w", err))
	}
	if err := v.ValidateEndpointURL(cfg.Agent.BaseURL, "http", "https"); err != nil {
		errors = append(errors, fmt.Errorf("agent base_url: %w", err))
	}

	if cfg.Chains.RequestTimeout < 0 {
		errors = append(errors, fmt.Errorf("chains.request_timeout must be >= 0"))
	}
	for id, endpoint := range cfg.Chains.Endpoints {
		if !chaintools.IsKnownChain(id) {
			errors = append(errors, fmt.Errorf("chains.endpoints: unknown chain '%s'", id))
			continue
		}
		if err := v.ValidateEndpointURL(endpoint.RPCURL, "ws", "wss"); err != nil {
			errors = append(errors, fmt.Errorf("chain %s rpc_url: %w", id, err))
		}
		if err := v.ValidateEndpointURL(endpoint.SidecarURL, "http", "https"); err != nil {
			errors = append(errors, fmt.Errorf("chain %s sidecar_url: %w", id, err))
		}
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errors = append(errors, fmt.Errorf("invalid gateway port: %d", cfg.Gateway.Port))
	}
	if cfg.Gateway.RequestsPerMinute < -1 {
		errors = append(errors, fmt.Errorf("gateway.requests_per_minute must be >= -1"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateLogFormat(cfg.Logging.Format); err != nil {
		errors = append(errors, err)
	}

	return errors
}
