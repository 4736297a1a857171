package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/dotagent/pkg/tools"
	"google.golang.org/genai"
)

// GeminiInvoker implements ModelInvoker for Google Gemini
type GeminiInvoker struct {
	client      *genai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewGeminiInvoker creates a new Gemini invoker
func NewGeminiInvoker(cfg InvokerConfig) (*GeminiInvoker, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, &ConfigurationError{Field: "provider", Reason: fmt.Sprintf("failed to create gemini client: %v", err)}
	}

	return &GeminiInvoker{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (p *GeminiInvoker) Provider() Provider { return ProviderGemini }
func (p *GeminiInvoker) Model() string      { return p.model }

// Generate makes one GenerateContent call
func (p *GeminiInvoker) Generate(ctx context.Context, messages []Message, defs []tools.Definition) (AssistantMessage, error) {
	system, contents := toGeminiContents(messages)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if p.temperature > 0 {
		config.Temperature = genai.Ptr(float32(p.temperature))
	}
	if p.maxTokens > 0 {
		config.MaxOutputTokens = int32(p.maxTokens)
	}
	if len(defs) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toGeminiDeclarations(defs)}}
	}

	response, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return AssistantMessage{}, err
	}

	return fromGeminiResponse(response)
}

func toGeminiDeclarations(defs []tools.Definition) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 def.Name,
			Description:          def.Description,
			ParametersJsonSchema: def.Parameters,
		})
	}
	return decls
}

// toGeminiContents maps the conversation onto Gemini contents. Consecutive
// tool results share one user turn.
func toGeminiContents(messages []Message) (string, []*genai.Content) {
	var system []string
	contents := []*genai.Content{}
	var pending []*genai.Part

	flush := func() {
		if len(pending) > 0 {
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: pending})
			pending = nil
		}
	}

	for _, msg := range messages {
		switch m := msg.(type) {
		case SystemMessage:
			system = append(system, m.Content)
		case HumanMessage:
			flush()
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case AssistantMessage:
			flush()
			parts := []*genai.Part{}
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: tc.Arguments,
				}})
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case ToolResultMessage:
			key := "output"
			if m.IsError {
				key = "error"
			}
			pending = append(pending, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     m.Name,
				Response: map[string]any{key: m.Content},
			}})
		}
	}
	flush()

	return strings.Join(system, "\n\n"), contents
}

func fromGeminiResponse(response *genai.GenerateContentResponse) (AssistantMessage, error) {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return AssistantMessage{}, fmt.Errorf("no response candidates returned")
	}

	var content strings.Builder
	toolCalls := []ToolCall{}
	for _, part := range response.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.Text != "" {
			content.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		}
	}

	msg := AssistantMessage{Content: content.String(), ToolCalls: toolCalls}
	if response.UsageMetadata != nil {
		msg.Usage = &Usage{
			InputTokens:  int(response.UsageMetadata.PromptTokenCount),
			OutputTokens: int(response.UsageMetadata.CandidatesTokenCount),
		}
	}
	return msg, nil
}
