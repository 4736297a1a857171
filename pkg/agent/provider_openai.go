package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/dotagent/pkg/tools"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIInvoker implements ModelInvoker over the OpenAI chat completions API.
// It also serves any OpenAI-compatible endpoint, which is how Ollama is reached.
type OpenAIInvoker struct {
	client      openai.Client
	provider    Provider
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAIInvoker creates an invoker for api.openai.com, or cfg.BaseURL when set
func NewOpenAIInvoker(cfg InvokerConfig) *OpenAIInvoker {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return newOpenAICompatible(ProviderOpenAI, cfg, opts)
}

// NewOllamaInvoker creates an invoker for a local Ollama server. No credential is needed.
func NewOllamaInvoker(cfg InvokerConfig) *OpenAIInvoker {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultOllamaURL
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "ollama"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(base + "/"),
	}
	return newOpenAICompatible(ProviderOllama, cfg, opts)
}

func newOpenAICompatible(provider Provider, cfg InvokerConfig, opts []option.RequestOption) *OpenAIInvoker {
	// A single attempt per call; retry policy belongs to the caller.
	opts = append(opts, option.WithMaxRetries(0))
	return &OpenAIInvoker{
		client:      openai.NewClient(opts...),
		provider:    provider,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (p *OpenAIInvoker) Provider() Provider { return p.provider }
func (p *OpenAIInvoker) Model() string      { return p.model }

// Generate makes one chat completion call
func (p *OpenAIInvoker) Generate(ctx context.Context, messages []Message, defs []tools.Definition) (AssistantMessage, error) {
	params, err := p.buildParams(messages, defs)
	if err != nil {
		return AssistantMessage{}, err
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return AssistantMessage{}, err
	}

	if len(response.Choices) == 0 {
		return AssistantMessage{}, fmt.Errorf("no response choices returned")
	}
	choice := response.Choices[0]

	toolCalls := []ToolCall{}
	for _, tc := range choice.Message.ToolCalls {
		args, err := decodeArguments(tc.Function.Arguments)
		if err != nil {
			return AssistantMessage{}, fmt.Errorf("failed to parse arguments of %s: %w", tc.Function.Name, err)
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return AssistantMessage{
		Content:   choice.Message.Content,
		ToolCalls: toolCalls,
		Usage: &Usage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}, nil
}

func (p *OpenAIInvoker) buildParams(messages []Message, defs []tools.Definition) (openai.ChatCompletionNewParams, error) {
	converted, err := toOpenAIMessages(messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: converted,
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.maxTokens))
	}
	if p.temperature > 0 {
		params.Temperature = openai.Float(p.temperature)
	}

	if len(defs) > 0 {
		toolParams := make([]openai.ChatCompletionToolParam, 0, len(defs))
		for _, def := range defs {
			toolParams = append(toolParams, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters:  openai.FunctionParameters(def.Parameters),
				},
			})
		}
		params.Tools = toolParams
	}

	return params, nil
}

func toOpenAIMessages(messages []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch m := msg.(type) {
		case SystemMessage:
			out = append(out, openai.SystemMessage(m.Content))
		case HumanMessage:
			out = append(out, openai.UserMessage(m.Content))
		case AssistantMessage:
			if !m.HasToolCalls() {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				argsJSON, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID: tc.CorrelationID(),
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			assistant := openai.ChatCompletionMessage{
				Content:   m.Content,
				ToolCalls: toolCalls,
			}
			out = append(out, assistant.ToParam())
		case ToolResultMessage:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					ToolCallID: m.ToolCallID,
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		default:
			return nil, fmt.Errorf("unsupported message type %T", msg)
		}
	}

	return out, nil
}

// decodeArguments parses a JSON arguments object; an empty string is an empty object
func decodeArguments(raw string) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}
