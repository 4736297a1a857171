package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFactory struct {
	invoker ModelInvoker
	got     InvokerConfig
}

func (f *fakeFactory) NewInvoker(cfg InvokerConfig) (ModelInvoker, error) {
	f.got = cfg
	if err := validateInvokerConfig(cfg); err != nil {
		return nil, err
	}
	return f.invoker, nil
}

func TestNewSession_ConfigurationErrors(t *testing.T) {
	reg := newTestRegistry(t)

	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{name: "unknown provider", cfg: Config{Provider: "bedrock", Model: "m", APIKey: "k"}, field: "provider"},
		{name: "missing openai key", cfg: Config{Provider: ProviderOpenAI, Model: "gpt-4o-mini"}, field: "api_key"},
		{name: "missing gemini key", cfg: Config{Provider: ProviderGemini, Model: "gemini-2.0-flash"}, field: "api_key"},
		{name: "missing anthropic key", cfg: Config{Provider: ProviderAnthropic, Model: "claude-3-5-haiku-latest"}, field: "api_key"},
		{name: "missing model", cfg: Config{Provider: ProviderOllama}, field: "model"},
		{name: "temperature out of range", cfg: Config{Provider: ProviderOllama, Model: "llama3.1", Temperature: 3}, field: "temperature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSession(tt.cfg, reg)
			require.Error(t, err)
			assert.Nil(t, s)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.True(t, IsConfigurationError(err))
		})
	}
}

func TestNewSession_RequiresRegistry(t *testing.T) {
	_, err := NewSession(Config{Provider: ProviderOllama, Model: "llama3.1"}, nil)
	assert.True(t, IsConfigurationError(err))
}

func TestNewSession_OllamaNeedsNoKey(t *testing.T) {
	s, err := NewSession(Config{Provider: ProviderOllama, Model: "llama3.1"}, newTestRegistry(t))
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.IsReady())
	assert.Equal(t, ProviderOllama, s.Provider())
	assert.Equal(t, "llama3.1", s.Model())
	assert.NotEmpty(t, s.ID())
}

func TestNewSession_PassesInvokerConfig(t *testing.T) {
	factory := &fakeFactory{invoker: &scriptedInvoker{}}
	cfg := Config{
		Provider:    ProviderOpenAI,
		Model:       "gpt-4o-mini",
		APIKey:      "sk-test",
		BaseURL:     "http://proxy.local",
		Temperature: 0.2,
		MaxTokens:   512,
	}

	s, err := NewSession(cfg, newTestRegistry(t), WithInvokerFactory(factory), WithSessionID("fixed"))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "fixed", s.ID())
	assert.Equal(t, cfg.InvokerConfig(), factory.got)
}

func TestBuildSystemPrompt(t *testing.T) {
	assert.Equal(t, BaseSystemPrompt, BuildSystemPrompt(""))

	prompt := BuildSystemPrompt("Answer in French.")
	assert.True(t, strings.HasPrefix(prompt, BaseSystemPrompt))
	assert.True(t, strings.HasSuffix(prompt, "\n\nAdditional instructions: Answer in French."))
}

func TestSession_Run(t *testing.T) {
	inv := &scriptedInvoker{responses: []AssistantMessage{{Content: "Hello!"}}}
	s, err := NewSession(
		Config{Provider: ProviderOpenAI, Model: "gpt-4o-mini", APIKey: "sk-test", SystemPrompt: "Be brief."},
		newTestRegistry(t),
		WithInvokerFactory(&fakeFactory{invoker: inv}),
	)
	require.NoError(t, err)
	defer s.Close()

	resp, err := s.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Output)

	require.Len(t, inv.calls, 1)
	system, ok := inv.calls[0][0].(SystemMessage)
	require.True(t, ok)
	assert.Equal(t, BuildSystemPrompt("Be brief."), system.Content)

	conv := s.Conversation()
	require.Len(t, conv, 3)
	assert.Equal(t, HumanMessage{Content: "hi"}, conv[1])
	assert.Equal(t, RoleAssistant, conv[2].Role())
}

func TestSession_ReusableAfterBudgetExhaustion(t *testing.T) {
	exhaust := true
	inv := &scriptedInvoker{next: func(round int, msgs []Message) (AssistantMessage, error) {
		if exhaust {
			return AssistantMessage{ToolCalls: []ToolCall{{ID: "c", Name: "x", Arguments: map[string]interface{}{}}}}, nil
		}
		return AssistantMessage{Content: "finally"}, nil
	}}
	s, err := NewSession(
		Config{Provider: ProviderOllama, Model: "llama3.1"},
		newTestRegistry(t),
		WithInvokerFactory(&fakeFactory{invoker: inv}),
	)
	require.NoError(t, err)
	defer s.Close()

	first, err := s.Run(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.Equal(t, StatusBudgetExhausted, first.Status)

	exhaust = false
	second, err := s.Run(context.Background(), "now answer")
	require.NoError(t, err)
	assert.Equal(t, "finally", second.Output)
	assert.Equal(t, 1, second.Rounds)

	last := inv.calls[len(inv.calls)-1]
	require.Len(t, last, 2, "every run starts from a fresh conversation")
	assert.Equal(t, HumanMessage{Content: "now answer"}, last[1])
}

func TestSession_Uninitialized(t *testing.T) {
	t.Run("nil session", func(t *testing.T) {
		var s *Session
		_, err := s.Run(context.Background(), "q")
		assert.ErrorIs(t, err, ErrUninitialized)
		assert.False(t, s.IsReady())
	})

	t.Run("zero session", func(t *testing.T) {
		s := &Session{}
		_, err := s.Run(context.Background(), "q")
		assert.ErrorIs(t, err, ErrUninitialized)
	})

	t.Run("closed session", func(t *testing.T) {
		inv := &scriptedInvoker{}
		s, err := NewSession(
			Config{Provider: ProviderOllama, Model: "llama3.1"},
			newTestRegistry(t),
			WithInvokerFactory(&fakeFactory{invoker: inv}),
		)
		require.NoError(t, err)

		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
		assert.False(t, s.IsReady())

		_, err = s.Run(context.Background(), "q")
		assert.True(t, errors.Is(err, ErrUninitialized))
		assert.Empty(t, inv.calls)
	})
}
