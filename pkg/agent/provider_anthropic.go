package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/dotagent/pkg/tools"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicInvoker implements ModelInvoker for Anthropic Claude
type AnthropicInvoker struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewAnthropicInvoker creates a new Anthropic invoker
func NewAnthropicInvoker(cfg InvokerConfig) *AnthropicInvoker {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &AnthropicInvoker{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

func (p *AnthropicInvoker) Provider() Provider { return ProviderAnthropic }
func (p *AnthropicInvoker) Model() string      { return p.model }

// Generate makes one Messages API call
func (p *AnthropicInvoker) Generate(ctx context.Context, messages []Message, defs []tools.Definition) (AssistantMessage, error) {
	system, converted := toAnthropicMessages(messages)

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  converted,
		MaxTokens: int64(p.maxTokens),
	}
	if system != "" {
		reqParams.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if p.temperature > 0 {
		reqParams.Temperature = anthropic.Float(p.temperature)
	}

	if len(defs) > 0 {
		toolParams := make([]anthropic.ToolUnionParam, 0, len(defs))
		for _, def := range defs {
			toolParam := anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: def.Parameters["properties"],
					Required:   requiredFields(def.Parameters),
				},
			}
			toolParams = append(toolParams, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		reqParams.Tools = toolParams
	}

	response, err := p.client.Messages.New(ctx, reqParams)
	if err != nil {
		return AssistantMessage{}, err
	}

	var content strings.Builder
	toolCalls := []ToolCall{}
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args := map[string]interface{}{}
			if raw := b.JSON.Input.Raw(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					return AssistantMessage{}, fmt.Errorf("failed to parse tool input: %w", err)
				}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}

	return AssistantMessage{
		Content:   content.String(),
		ToolCalls: toolCalls,
		Usage: &Usage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}

// toAnthropicMessages splits out the system prompt and groups consecutive
// tool results into a single user turn, as the Messages API requires.
func toAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	var system []string
	out := []anthropic.MessageParam{}
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch m := msg.(type) {
		case SystemMessage:
			system = append(system, m.Content)
		case ToolResultMessage:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
		case HumanMessage:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case AssistantMessage:
			flush()
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.CorrelationID(), tc.Arguments, tc.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(""))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	flush()

	return strings.Join(system, "\n\n"), out
}
