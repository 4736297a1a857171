package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/harun/dotagent/pkg/agent"
	"github.com/harun/dotagent/pkg/chaintools"
)

// Config represents the main dotagent configuration
type Config struct {
	// Agent binds the session to a model backend
	Agent agent.Config `json:"agent" mapstructure:"agent"`

	// Chains configures the on-chain tools
	Chains ChainsConfig `json:"chains" mapstructure:"chains"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Telemetry configures OpenTelemetry tracing
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ChainsConfig holds chain endpoint overrides
type ChainsConfig struct {
	RequestTimeout int                            `json:"request_timeout" mapstructure:"request_timeout"` // seconds
	Endpoints      map[string]chaintools.Endpoint `json:"endpoints" mapstructure:"endpoints"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	Format    string `json:"format" mapstructure:"format"` // console, json
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port              int    `json:"port" mapstructure:"port"`
	Host              string `json:"host" mapstructure:"host"`
	SharedSecret      string `json:"shared_secret" mapstructure:"shared_secret"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// TelemetryConfig holds tracing configuration
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: agent.Config{
			Provider:  agent.ProviderOllama,
			Model:     "llama3.1",
			MaxTokens: 4096,
		},
		Chains: ChainsConfig{
			RequestTimeout: int(chaintools.DefaultRequestTimeout / time.Second),
			Endpoints:      map[string]chaintools.Endpoint{},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "console",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Port:              8080,
			Host:              "127.0.0.1",
			RequestsPerMinute: 30,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "dotagent",
		},
	}
}

// String returns a JSON representation of the config with the API key masked
func (c *Config) String() string {
	masked := *c
	if masked.Agent.APIKey != "" {
		masked.Agent.APIKey = "***"
	}
	if masked.Gateway.SharedSecret != "" {
		masked.Gateway.SharedSecret = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// ToolkitConfig returns the chain toolkit settings
func (c *Config) ToolkitConfig() chaintools.Config {
	return chaintools.Config{
		Endpoints:      c.Chains.Endpoints,
		RequestTimeout: time.Duration(c.Chains.RequestTimeout) * time.Second,
	}
}

// providerKeyEnv names the conventional API key variable of each provider
var providerKeyEnv = map[agent.Provider]string{
	agent.ProviderOpenAI:    "OPENAI_API_KEY",
	agent.ProviderAnthropic: "ANTHROPIC_API_KEY",
	agent.ProviderGemini:    "GEMINI_API_KEY",
}

// normalize canonicalizes the provider tag and fills a missing API key from
// the provider's conventional variable.
func (c *Config) normalize() {
	provider, err := agent.ParseProvider(string(c.Agent.Provider))
	if err != nil {
		return
	}
	c.Agent.Provider = provider
	if c.Agent.APIKey != "" {
		return
	}
	if name, ok := providerKeyEnv[provider]; ok {
		c.Agent.APIKey = os.Getenv(name)
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	provider, err := agent.ParseProvider(string(c.Agent.Provider))
	if err != nil {
		return err
	}
	if c.Agent.Model == "" {
		return fmt.Errorf("agent model is required")
	}
	if provider.RequiresAPIKey() && c.Agent.APIKey == "" {
		return fmt.Errorf("agent api_key is required for provider %s", provider)
	}

	if c.Chains.RequestTimeout < 0 {
		return fmt.Errorf("chains.request_timeout must be >= 0")
	}
	if _, err := chaintools.NewCatalog(c.Chains.Endpoints); err != nil {
		return err
	}

	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}

	return nil
}
