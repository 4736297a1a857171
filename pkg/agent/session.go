package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/harun/dotagent/internal/observability"
	"github.com/harun/dotagent/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// BaseSystemPrompt is the instruction prompt every session starts from
const BaseSystemPrompt = `You are a Polkadot assistant. You answer questions about accounts, balances,
nomination pools and chain state on Polkadot, Kusama, Westend and Paseo and their Asset Hub chains.

Rules:
- Use the provided tools to read on-chain data. Never invent balances, pool ids or block numbers.
- Always pass the chain identifier the user refers to (for example "polkadot_asset_hub" or "westend_asset_hub").
- If a tool returns an error, explain it to the user or retry with corrected arguments.
- You cannot sign or submit transactions. If asked to, explain that only read-only queries are supported.
- Present token amounts together with their symbol and keep answers short.`

// Config is the configuration a session is initialized with
type Config struct {
	Provider Provider `json:"provider" mapstructure:"provider"`
	Model    string   `json:"model" mapstructure:"model"`
	APIKey   string   `json:"api_key,omitempty" mapstructure:"api_key"`
	// BaseURL overrides the provider endpoint, e.g. a remote Ollama host.
	BaseURL string `json:"base_url,omitempty" mapstructure:"base_url"`
	// SystemPrompt is appended to BaseSystemPrompt as additional instructions.
	SystemPrompt string  `json:"system_prompt,omitempty" mapstructure:"system_prompt"`
	Temperature  float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens    int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
}

// InvokerConfig returns the model connection parameters of the config
func (c Config) InvokerConfig() InvokerConfig {
	return InvokerConfig{
		Provider:    c.Provider,
		Model:       c.Model,
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
}

// Option customizes a Session
type Option func(*sessionOptions)

type sessionOptions struct {
	logger  zerolog.Logger
	factory InvokerFactory
	id      string
}

// WithLogger sets the session logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *sessionOptions) { o.logger = logger }
}

// WithInvokerFactory replaces the provider SDK factory, mainly for tests
func WithInvokerFactory(factory InvokerFactory) Option {
	return func(o *sessionOptions) { o.factory = factory }
}

// WithSessionID fixes the session id instead of generating one
func WithSessionID(id string) Option {
	return func(o *sessionOptions) { o.id = id }
}

// Session is one conversational agent bound to a provider and a tool set.
// Queries are served one at a time; the session is reusable after each run.
type Session struct {
	id           string
	provider     Provider
	model        string
	systemPrompt string
	runner       *Runner
	logger       zerolog.Logger

	ready atomic.Bool

	mu           sync.Mutex
	conversation *Conversation
}

// NewSession initializes a session. It fails with a *ConfigurationError when
// the provider is unknown or a required credential is missing.
func NewSession(cfg Config, finder ToolFinder, opts ...Option) (*Session, error) {
	o := sessionOptions{logger: zerolog.Nop(), factory: &ProviderFactory{}}
	for _, opt := range opts {
		opt(&o)
	}
	if finder == nil {
		return nil, &ConfigurationError{Field: "tools", Reason: "tool registry is required"}
	}

	id := o.id
	if id == "" {
		generated, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session id: %w", err)
		}
		id = generated
	}
	logger := o.logger.With().Str("session_id", id).Logger()

	logger.Info().Str("provider", cfg.Provider.String()).Str("model", cfg.Model).Msg("Initializing agent session")

	invoker, err := o.factory.NewInvoker(cfg.InvokerConfig())
	if err != nil {
		logger.Error().Err(err).Msg("Agent session initialization failed")
		return nil, err
	}

	runner, err := NewRunner(RunnerConfig{
		Invoker: invoker,
		Tools:   finder,
		Logger:  logger,
		Actor:   id,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:           id,
		provider:     invoker.Provider(),
		model:        invoker.Model(),
		systemPrompt: BuildSystemPrompt(cfg.SystemPrompt),
		runner:       runner,
		logger:       logger,
	}
	s.ready.Store(true)

	observability.SessionOpened()
	observability.RecordSessionAudit(context.Background(), "open", id, "success", map[string]interface{}{
		"provider": s.provider.String(),
		"model":    s.model,
	})
	logger.Info().Msg("Agent session initialized")

	return s, nil
}

// BuildSystemPrompt combines the base prompt with optional extra instructions
func BuildSystemPrompt(extra string) string {
	if extra == "" {
		return BaseSystemPrompt
	}
	return BaseSystemPrompt + "\n\nAdditional instructions: " + extra
}

// Run answers one query. Budget exhaustion is reported through the response,
// not as an error.
func (s *Session) Run(ctx context.Context, query string) (AgentResponse, error) {
	if !s.IsReady() {
		return AgentResponse{}, ErrUninitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = tracing.NewRunContext(ctx, s.id)
	conv := NewConversation(SystemMessage{Content: s.systemPrompt}, HumanMessage{Content: query})
	s.conversation = conv

	return s.runner.run(ctx, conv, query)
}

// IsReady reports whether the session can serve queries
func (s *Session) IsReady() bool {
	return s != nil && s.runner != nil && s.ready.Load()
}

// Close ends the session. Subsequent runs fail with ErrUninitialized.
func (s *Session) Close() error {
	if s == nil || !s.ready.CompareAndSwap(true, false) {
		return nil
	}
	observability.SessionClosed()
	observability.RecordSessionAudit(context.Background(), "close", s.id, "success", nil)
	s.logger.Info().Msg("Agent session closed")
	return nil
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Provider returns the bound provider
func (s *Session) Provider() Provider { return s.provider }

// Model returns the bound model id
func (s *Session) Model() string { return s.model }

// SystemPrompt returns the effective system prompt
func (s *Session) SystemPrompt() string { return s.systemPrompt }

// Conversation returns a snapshot of the most recent run's conversation.
// It waits for a run in progress to finish.
func (s *Session) Conversation() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversation == nil {
		return nil
	}
	return s.conversation.Messages()
}
