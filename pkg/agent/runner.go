package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/dotagent/internal/observability"
	"github.com/harun/dotagent/internal/tracing"
	"github.com/harun/dotagent/pkg/tools"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// MaxRounds is the ceiling on model invocations per run
const MaxRounds = 15

// BudgetExhaustedOutput is the answer returned when no round produced a final response
const BudgetExhaustedOutput = "Maximum iterations reached without completing the task."

// ToolFinder resolves tool names and exposes the schemas the model is bound to.
// *tools.Registry satisfies it.
type ToolFinder interface {
	Find(name string) (tools.Tool, bool)
	Definitions() []tools.Definition
}

// LoopState is the position of a run in the model/tool cycle
type LoopState int

const (
	StateAwaitingModel LoopState = iota
	StateExecutingTools
	StateTerminatedSuccess
	StateTerminatedBudgetExhausted
)

func (s LoopState) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateExecutingTools:
		return "executing_tools"
	case StateTerminatedSuccess:
		return "terminated_success"
	case StateTerminatedBudgetExhausted:
		return "terminated_budget_exhausted"
	default:
		return "unknown"
	}
}

// RunStatus is the terminal state of a completed run
type RunStatus string

const (
	StatusSuccess         RunStatus = "success"
	StatusBudgetExhausted RunStatus = "budget_exhausted"
)

// AgentResponse is the immutable result of one completed query
type AgentResponse struct {
	Input    string    `json:"input"`
	Output   string    `json:"output"`
	Steps    []Message `json:"-"`
	Provider Provider  `json:"provider"`
	Model    string    `json:"model"`
	Rounds   int       `json:"rounds"`
	Status   RunStatus `json:"status"`
}

// Runner drives the model/tool loop for one invoker and tool set
type Runner struct {
	invoker   ModelInvoker
	tools     ToolFinder
	logger    zerolog.Logger
	maxRounds int
	actor     string
}

// RunnerConfig holds runner configuration
type RunnerConfig struct {
	Invoker ModelInvoker
	Tools   ToolFinder
	Logger  zerolog.Logger
	// MaxRounds overrides the round ceiling; zero means MaxRounds.
	MaxRounds int
	// Actor labels audit events, usually the session id.
	Actor string
}

// NewRunner creates a new runner
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Invoker == nil {
		return nil, fmt.Errorf("model invoker is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool finder is required")
	}
	if cfg.MaxRounds < 0 {
		return nil, fmt.Errorf("max rounds cannot be negative")
	}

	maxRounds := cfg.MaxRounds
	if maxRounds == 0 {
		maxRounds = MaxRounds
	}

	return &Runner{
		invoker:   cfg.Invoker,
		tools:     cfg.Tools,
		logger:    cfg.Logger,
		maxRounds: maxRounds,
		actor:     cfg.Actor,
	}, nil
}

// Run answers query starting from [System(systemPrompt), Human(query)]
func (r *Runner) Run(ctx context.Context, systemPrompt, query string) (AgentResponse, error) {
	conv := NewConversation(SystemMessage{Content: systemPrompt}, HumanMessage{Content: query})
	return r.run(ctx, conv, query)
}

func (r *Runner) run(ctx context.Context, conv *Conversation, query string) (AgentResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	provider := r.invoker.Provider()
	ctx, span := tracing.StartSpan(ctx, "agent.run",
		attribute.String("provider", provider.String()),
		attribute.String("model", r.invoker.Model()),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	start := time.Now()
	defs := r.tools.Definitions()
	steps := []Message{}
	state := StateAwaitingModel
	callIDs := map[string]bool{}

	for round := 1; round <= r.maxRounds; round++ {
		logger.Debug().Int("round", round).Stringer("state", state).Msg("Invoking model")

		response, err := r.invoke(ctx, conv, defs, round)
		if err != nil {
			observability.RecordAgentRun(provider.String(), time.Since(start), "error", round)
			tracing.FailSpan(span, err)
			logger.Error().Err(err).Int("round", round).Msg("Model invocation failed")
			return AgentResponse{}, err
		}

		response.ToolCalls = assignCorrelationIDs(response.ToolCalls, callIDs)
		conv.Append(response)
		steps = append(steps, conv.Last())

		if !response.HasToolCalls() {
			state = StateTerminatedSuccess
			observability.RecordAgentRun(provider.String(), time.Since(start), string(StatusSuccess), round)
			logger.Info().Int("rounds", round).Stringer("state", state).Msg("Agent run completed")
			return r.response(query, response.Content, steps, round, StatusSuccess), nil
		}

		state = StateExecutingTools
		logger.Debug().Int("round", round).Int("tool_calls", len(response.ToolCalls)).Stringer("state", state).Msg("Executing tool calls")

		for _, call := range response.ToolCalls {
			result := r.executeTool(ctx, call)
			conv.Append(result)
			steps = append(steps, result)
		}
		state = StateAwaitingModel
	}

	state = StateTerminatedBudgetExhausted
	observability.RecordAgentRun(provider.String(), time.Since(start), string(StatusBudgetExhausted), r.maxRounds)
	span.SetAttributes(attribute.Bool("budget_exhausted", true))
	logger.Warn().Int("rounds", r.maxRounds).Stringer("state", state).Msg("Agent run hit the round ceiling")

	return r.response(query, BudgetExhaustedOutput, steps, r.maxRounds, StatusBudgetExhausted), nil
}

func (r *Runner) response(query, output string, steps []Message, rounds int, status RunStatus) AgentResponse {
	return AgentResponse{
		Input:    query,
		Output:   output,
		Steps:    steps,
		Provider: r.invoker.Provider(),
		Model:    r.invoker.Model(),
		Rounds:   rounds,
		Status:   status,
	}
}

// invoke makes exactly one model call over a snapshot of the conversation
func (r *Runner) invoke(ctx context.Context, conv *Conversation, defs []tools.Definition, round int) (AssistantMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "agent.model_call", attribute.Int("round", round))
	defer span.End()

	start := time.Now()
	response, err := r.invoker.Generate(ctx, conv.Messages(), defs)
	observability.RecordModelCall(r.invoker.Provider().String(), time.Since(start), err == nil)
	if err != nil {
		tracing.FailSpan(span, err)
		var modelErr *ModelInvocationError
		if errors.As(err, &modelErr) {
			return AssistantMessage{}, err
		}
		return AssistantMessage{}, &ModelInvocationError{Provider: r.invoker.Provider(), Round: round, Err: err}
	}
	return response, nil
}

// executeTool runs one tool call. Every failure is captured in the returned
// ToolResult; nothing escapes to the loop.
func (r *Runner) executeTool(ctx context.Context, call ToolCall) ToolResultMessage {
	ctx, span := tracing.StartSpan(ctx, "agent.tool_call",
		attribute.String("tool", call.Name),
		attribute.String("tool_call_id", call.ID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("tool", call.Name).Str("tool_call_id", call.ID).Logger()

	result := ToolResultMessage{ToolCallID: call.CorrelationID(), Name: call.Name}
	start := time.Now()

	tool, ok := r.tools.Find(call.Name)
	if !ok {
		notFound := &tools.ToolNotFoundError{Name: call.Name}
		logger.Warn().Msg("Tool not found")
		observability.RecordToolExecution(call.Name, time.Since(start), "not_found")
		observability.RecordToolAudit(ctx, call.Name, r.actor, "not_found", nil)
		tracing.FailSpan(span, notFound)
		result.Content = "Error: " + notFound.Error()
		result.IsError = true
		return result
	}

	out, err := invokeSafely(ctx, tool, call.Arguments)
	duration := time.Since(start)
	if err != nil {
		logger.Warn().Err(err).Dur("duration", duration).Msg("Tool execution failed")
		observability.RecordToolExecution(call.Name, duration, "error")
		observability.RecordToolAudit(ctx, call.Name, r.actor, "error", map[string]interface{}{"error": err.Error()})
		tracing.FailSpan(span, err)
		result.Content = "Error: " + err.Error()
		result.IsError = true
		return result
	}

	content, truncated := tools.FormatResult(out)
	logger.Debug().Dur("duration", duration).Bool("truncated", truncated).Msg("Tool execution completed")
	observability.RecordToolExecution(call.Name, duration, "success")
	observability.RecordToolAudit(ctx, call.Name, r.actor, "success", map[string]interface{}{"duration_ms": duration.Milliseconds()})
	result.Content = content
	return result
}

// invokeSafely converts a panicking tool into an ordinary failure
func invokeSafely(ctx context.Context, tool tools.Tool, args map[string]interface{}) (out interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), p)
		}
	}()
	var callArgs map[string]interface{}
	if args != nil {
		callArgs = cloneValue(args).(map[string]interface{})
	}
	return tool.Invoke(ctx, callArgs)
}

// assignCorrelationIDs fills in ids for calls that arrived without one. The
// first id-less call with a given name is correlated by the bare name; later
// id-less calls with the same name get "name#N", N being the ordinal among
// those calls. taken holds the ids already used earlier in the run and is
// updated, so fallback ids stay unique across rounds.
func assignCorrelationIDs(calls []ToolCall, taken map[string]bool) []ToolCall {
	if len(calls) == 0 {
		return calls
	}
	if taken == nil {
		taken = map[string]bool{}
	}

	out := make([]ToolCall, len(calls))
	copy(out, calls)
	for _, c := range out {
		if c.ID != "" {
			taken[c.ID] = true
		}
	}

	count := map[string]int{}
	for i := range out {
		if out[i].ID != "" {
			continue
		}
		base := out[i].Name
		if base == "" {
			base = "call"
		}
		count[base]++
		id := base
		if count[base] > 1 {
			id = fmt.Sprintf("%s#%d", base, count[base])
		}
		for taken[id] {
			count[base]++
			id = fmt.Sprintf("%s#%d", base, count[base])
		}
		taken[id] = true
		out[i].ID = id
	}
	return out
}
