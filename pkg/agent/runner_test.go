package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/harun/dotagent/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedInvoker replays a fixed list of responses and records every conversation it receives.
type scriptedInvoker struct {
	responses []AssistantMessage
	// next overrides responses when set
	next  func(round int, msgs []Message) (AssistantMessage, error)
	calls [][]Message
}

func (s *scriptedInvoker) Generate(ctx context.Context, msgs []Message, defs []tools.Definition) (AssistantMessage, error) {
	s.calls = append(s.calls, msgs)
	round := len(s.calls)
	if s.next != nil {
		return s.next(round, msgs)
	}
	if round > len(s.responses) {
		return AssistantMessage{}, fmt.Errorf("unexpected round %d", round)
	}
	return s.responses[round-1], nil
}

func (s *scriptedInvoker) Provider() Provider { return ProviderOpenAI }
func (s *scriptedInvoker) Model() string      { return "test-model" }

func newTestRegistry(t *testing.T, ts ...tools.Tool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(zerolog.Nop())
	for _, tool := range ts {
		require.NoError(t, reg.Register(tool))
	}
	return reg
}

func funcTool(name string, handler tools.Handler, params ...tools.Parameter) tools.Tool {
	return tools.NewFuncTool(tools.FuncToolConfig{
		Name:        name,
		Description: name + " tool",
		Parameters:  params,
		Handler:     handler,
	})
}

func newTestRunner(t *testing.T, inv ModelInvoker, reg ToolFinder) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerConfig{Invoker: inv, Tools: reg, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return r
}

func TestNewRunner(t *testing.T) {
	t.Run("requires invoker", func(t *testing.T) {
		_, err := NewRunner(RunnerConfig{Tools: newTestRegistry(t)})
		assert.Error(t, err)
	})

	t.Run("requires tools", func(t *testing.T) {
		_, err := NewRunner(RunnerConfig{Invoker: &scriptedInvoker{}})
		assert.Error(t, err)
	})

	t.Run("defaults to fifteen rounds", func(t *testing.T) {
		r := newTestRunner(t, &scriptedInvoker{}, newTestRegistry(t))
		assert.Equal(t, 15, r.maxRounds)
	})
}

func TestRunner_FinalAnswerInOneRound(t *testing.T) {
	inv := &scriptedInvoker{responses: []AssistantMessage{{Content: "  Hello there!  "}}}
	r := newTestRunner(t, inv, newTestRegistry(t))

	resp, err := r.Run(context.Background(), "system", "hi")
	require.NoError(t, err)

	assert.Len(t, inv.calls, 1)
	assert.Equal(t, "  Hello there!  ", resp.Output)
	assert.Equal(t, "hi", resp.Input)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, 1, resp.Rounds)
	assert.Equal(t, ProviderOpenAI, resp.Provider)
	assert.Equal(t, "test-model", resp.Model)
	require.Len(t, resp.Steps, 1)
	assert.Equal(t, RoleAssistant, resp.Steps[0].Role())

	require.Len(t, inv.calls[0], 2)
	assert.Equal(t, SystemMessage{Content: "system"}, inv.calls[0][0])
	assert.Equal(t, HumanMessage{Content: "hi"}, inv.calls[0][1])
}

func TestRunner_ConversationOnlyGrows(t *testing.T) {
	reg := newTestRegistry(t, funcTool("ping", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return "pong", nil
	}))
	inv := &scriptedInvoker{next: func(round int, msgs []Message) (AssistantMessage, error) {
		if round < 4 {
			return AssistantMessage{ToolCalls: []ToolCall{{ID: fmt.Sprintf("c%d", round), Name: "ping", Arguments: map[string]interface{}{}}}}, nil
		}
		return AssistantMessage{Content: "done"}, nil
	}}

	_, err := newTestRunner(t, inv, reg).Run(context.Background(), "sys", "q")
	require.NoError(t, err)
	require.Len(t, inv.calls, 4)

	for i := 1; i < len(inv.calls); i++ {
		prev, cur := inv.calls[i-1], inv.calls[i]
		require.Greater(t, len(cur), len(prev))
		assert.Equal(t, prev, cur[:len(prev)], "round %d must extend round %d", i+1, i)
	}
}

func TestRunner_UnknownToolDoesNotTerminate(t *testing.T) {
	inv := &scriptedInvoker{responses: []AssistantMessage{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "missing_tool", Arguments: map[string]interface{}{}}}},
		{Content: "sorry, I cannot do that"},
	}}

	resp, err := newTestRunner(t, inv, newTestRegistry(t)).Run(context.Background(), "sys", "q")
	require.NoError(t, err)

	assert.Len(t, inv.calls, 2)
	assert.Equal(t, "sorry, I cannot do that", resp.Output)

	result, ok := inv.calls[1][3].(ToolResultMessage)
	require.True(t, ok)
	assert.Equal(t, "c1", result.ToolCallID)
	assert.Contains(t, result.Content, "Tool not found")
	assert.True(t, result.IsError)
}

func TestRunner_ToolFailureIsIsolated(t *testing.T) {
	var order []string
	reg := newTestRegistry(t,
		funcTool("fails", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			order = append(order, "fails")
			return nil, errors.New("Nomination pools are only supported on Asset Hub chains. Received 'polkadot'.")
		}),
		funcTool("works", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			order = append(order, "works")
			return map[string]interface{}{"ok": true}, nil
		}),
	)
	inv := &scriptedInvoker{responses: []AssistantMessage{
		{ToolCalls: []ToolCall{
			{ID: "a", Name: "fails", Arguments: map[string]interface{}{}},
			{ID: "b", Name: "works", Arguments: map[string]interface{}{}},
			{ID: "c", Name: "nope", Arguments: map[string]interface{}{}},
		}},
		{Content: "recovered"},
	}}

	resp, err := newTestRunner(t, inv, reg).Run(context.Background(), "sys", "q")
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Output)
	assert.Equal(t, []string{"fails", "works"}, order)

	second := inv.calls[1]
	require.Len(t, second, 6)

	failed := second[3].(ToolResultMessage)
	assert.Equal(t, "a", failed.ToolCallID)
	assert.Contains(t, failed.Content, "Nomination pools are only supported on Asset Hub chains. Received 'polkadot'.")
	assert.True(t, failed.IsError)

	succeeded := second[4].(ToolResultMessage)
	assert.Equal(t, "b", succeeded.ToolCallID)
	assert.JSONEq(t, `{"ok":true}`, succeeded.Content)
	assert.False(t, succeeded.IsError)

	missing := second[5].(ToolResultMessage)
	assert.Equal(t, "c", missing.ToolCallID)
	assert.Contains(t, missing.Content, "Tool not found")
}

func TestRunner_ArgumentValidationFailureIsData(t *testing.T) {
	called := false
	reg := newTestRegistry(t, funcTool("strict", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		called = true
		return nil, nil
	}, tools.Parameter{Name: "account", Type: "string", Description: "Account", Required: true}))

	inv := &scriptedInvoker{responses: []AssistantMessage{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "strict", Arguments: map[string]interface{}{}}}},
		{Content: "ok"},
	}}

	_, err := newTestRunner(t, inv, reg).Run(context.Background(), "sys", "q")
	require.NoError(t, err)
	assert.False(t, called)

	result := inv.calls[1][3].(ToolResultMessage)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "invalid arguments for strict")
}

func TestRunner_PanickingToolIsCaptured(t *testing.T) {
	reg := newTestRegistry(t, funcTool("boom", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		panic("kaboom")
	}))
	inv := &scriptedInvoker{responses: []AssistantMessage{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "boom", Arguments: map[string]interface{}{}}}},
		{Content: "ok"},
	}}

	resp, err := newTestRunner(t, inv, reg).Run(context.Background(), "sys", "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Output)

	result := inv.calls[1][3].(ToolResultMessage)
	assert.Contains(t, result.Content, "kaboom")
}

func TestRunner_NeverExceedsRoundCeiling(t *testing.T) {
	reg := newTestRegistry(t, funcTool("again", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return "still working", nil
	}))
	inv := &scriptedInvoker{next: func(round int, msgs []Message) (AssistantMessage, error) {
		return AssistantMessage{ToolCalls: []ToolCall{{ID: fmt.Sprintf("c%d", round), Name: "again", Arguments: map[string]interface{}{}}}}, nil
	}}

	resp, err := newTestRunner(t, inv, reg).Run(context.Background(), "sys", "q")
	require.NoError(t, err)

	assert.Len(t, inv.calls, MaxRounds)
	assert.Equal(t, BudgetExhaustedOutput, resp.Output)
	assert.Equal(t, StatusBudgetExhausted, resp.Status)
	assert.Equal(t, MaxRounds, resp.Rounds)
	assert.Len(t, resp.Steps, 2*MaxRounds)
}

func TestRunner_ModelFailurePropagates(t *testing.T) {
	cause := errors.New("connection reset by peer")
	reg := newTestRegistry(t, funcTool("ping", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return "pong", nil
	}))
	inv := &scriptedInvoker{next: func(round int, msgs []Message) (AssistantMessage, error) {
		if round == 1 {
			return AssistantMessage{ToolCalls: []ToolCall{{ID: "c1", Name: "ping", Arguments: map[string]interface{}{}}}}, nil
		}
		return AssistantMessage{}, cause
	}}

	_, err := newTestRunner(t, inv, reg).Run(context.Background(), "sys", "q")
	require.Error(t, err)

	var modelErr *ModelInvocationError
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, 2, modelErr.Round)
	assert.Equal(t, ProviderOpenAI, modelErr.Provider)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsModelInvocationError(err))
	assert.Len(t, inv.calls, 2, "model failures are not retried")
}

func TestRunner_CancelledContextSurfacesAsModelFailure(t *testing.T) {
	inv := &scriptedInvoker{next: func(round int, msgs []Message) (AssistantMessage, error) {
		return AssistantMessage{}, context.Canceled
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRunner(t, inv, newTestRegistry(t)).Run(ctx, "sys", "q")
	assert.True(t, IsModelInvocationError(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_ToolCannotMutateHistory(t *testing.T) {
	reg := newTestRegistry(t, funcTool("mutate", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		args["account"] = "tampered"
		return "ok", nil
	}, tools.Parameter{Name: "account", Type: "string", Description: "Account"}))

	inv := &scriptedInvoker{responses: []AssistantMessage{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "mutate", Arguments: map[string]interface{}{"account": "5F"}}}},
		{Content: "ok"},
	}}

	_, err := newTestRunner(t, inv, reg).Run(context.Background(), "sys", "q")
	require.NoError(t, err)

	assistant := inv.calls[1][2].(AssistantMessage)
	assert.Equal(t, "5F", assistant.ToolCalls[0].Arguments["account"])
}

func TestRunner_ScenarioPoolBalance(t *testing.T) {
	var seenArgs map[string]interface{}
	reg := newTestRegistry(t, funcTool("get_nomination_info", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		seenArgs = args
		return map[string]interface{}{"poolId": 3, "points": "1000000000000"}, nil
	},
		tools.Parameter{Name: "account", Type: "string", Description: "SS58 address", Required: true},
		tools.Parameter{Name: "chain", Type: "string", Description: "Chain id", Required: true},
	))

	inv := &scriptedInvoker{next: func(round int, msgs []Message) (AssistantMessage, error) {
		switch round {
		case 1:
			return AssistantMessage{ToolCalls: []ToolCall{{
				ID:   "call_1",
				Name: "get_nomination_info",
				Arguments: map[string]interface{}{
					"account": "5F...",
					"chain":   "westend_asset_hub",
				},
			}}}, nil
		default:
			last := msgs[len(msgs)-1].(ToolResultMessage)
			if last.ToolCallID != "call_1" {
				return AssistantMessage{}, errors.New("missing tool result")
			}
			return AssistantMessage{Content: "Your pool balance is 100 WND in pool 3."}, nil
		}
	}}

	resp, err := newTestRunner(t, inv, reg).Run(context.Background(), "sys", "what is my pool balance")
	require.NoError(t, err)

	assert.Equal(t, "Your pool balance is 100 WND in pool 3.", resp.Output)
	assert.Equal(t, 2, resp.Rounds)
	assert.Len(t, inv.calls, 2)
	assert.Equal(t, "westend_asset_hub", seenArgs["chain"])

	require.Len(t, resp.Steps, 3)
	assert.Equal(t, RoleAssistant, resp.Steps[0].Role())
	assert.Equal(t, RoleToolResult, resp.Steps[1].Role())
	assert.Equal(t, RoleAssistant, resp.Steps[2].Role())
	assert.Contains(t, resp.Steps[1].Text(), `"poolId":3`)
}

func TestRunner_ScenarioEmptyRegistry(t *testing.T) {
	inv := &scriptedInvoker{next: func(round int, msgs []Message) (AssistantMessage, error) {
		return AssistantMessage{ToolCalls: []ToolCall{{ID: fmt.Sprintf("x-%d", round), Name: "x", Arguments: map[string]interface{}{}}}}, nil
	}}

	resp, err := newTestRunner(t, inv, newTestRegistry(t)).Run(context.Background(), "sys", "q")
	require.NoError(t, err)

	assert.Len(t, inv.calls, 15)
	assert.Equal(t, "Maximum iterations reached without completing the task.", resp.Output)
	for _, step := range resp.Steps {
		if res, ok := step.(ToolResultMessage); ok {
			assert.Contains(t, res.Content, "Tool not found")
		}
	}
}

func TestRunner_DuplicateNamesWithoutIDs(t *testing.T) {
	var seen []string
	reg := newTestRegistry(t, funcTool("echo", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		seen = append(seen, args["v"].(string))
		return args["v"], nil
	}, tools.Parameter{Name: "v", Type: "string", Description: "value", Required: true}))

	inv := &scriptedInvoker{responses: []AssistantMessage{
		{ToolCalls: []ToolCall{
			{Name: "echo", Arguments: map[string]interface{}{"v": "first"}},
			{Name: "echo", Arguments: map[string]interface{}{"v": "second"}},
			{Name: "echo", Arguments: map[string]interface{}{"v": "third"}},
		}},
		{Content: "done"},
	}}

	_, err := newTestRunner(t, inv, reg).Run(context.Background(), "sys", "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, seen)

	second := inv.calls[1]
	assistant := second[2].(AssistantMessage)
	require.Len(t, assistant.ToolCalls, 3)
	assert.Equal(t, "echo", assistant.ToolCalls[0].ID)
	assert.Equal(t, "echo#2", assistant.ToolCalls[1].ID)
	assert.Equal(t, "echo#3", assistant.ToolCalls[2].ID)

	first := second[3].(ToolResultMessage)
	assert.Equal(t, "echo", first.ToolCallID)
	assert.Equal(t, "first", first.Content)
	assert.Equal(t, "echo#2", second[4].(ToolResultMessage).ToolCallID)
	assert.Equal(t, "second", second[4].(ToolResultMessage).Content)
	assert.Equal(t, "echo#3", second[5].(ToolResultMessage).ToolCallID)
}

func TestRunner_FallbackIDsUniqueAcrossRounds(t *testing.T) {
	reg := newTestRegistry(t, funcTool("echo", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return "ok", nil
	}))

	inv := &scriptedInvoker{responses: []AssistantMessage{
		{ToolCalls: []ToolCall{{Name: "echo", Arguments: map[string]interface{}{}}}},
		{ToolCalls: []ToolCall{{Name: "echo", Arguments: map[string]interface{}{}}}},
		{Content: "done"},
	}}

	resp, err := newTestRunner(t, inv, reg).Run(context.Background(), "sys", "q")
	require.NoError(t, err)
	require.Len(t, resp.Steps, 5)

	assert.Equal(t, "echo", resp.Steps[0].(AssistantMessage).ToolCalls[0].ID)
	assert.Equal(t, "echo", resp.Steps[1].(ToolResultMessage).ToolCallID)
	assert.Equal(t, "echo#2", resp.Steps[2].(AssistantMessage).ToolCalls[0].ID)
	assert.Equal(t, "echo#2", resp.Steps[3].(ToolResultMessage).ToolCallID)
}

func TestAssignCorrelationIDs(t *testing.T) {
	t.Run("explicit ids are kept", func(t *testing.T) {
		out := assignCorrelationIDs([]ToolCall{{ID: "a", Name: "x"}, {ID: "b", Name: "x"}}, nil)
		assert.Equal(t, "a", out[0].ID)
		assert.Equal(t, "b", out[1].ID)
	})

	t.Run("missing id falls back to name", func(t *testing.T) {
		out := assignCorrelationIDs([]ToolCall{{Name: "x"}}, nil)
		assert.Equal(t, "x", out[0].ID)
	})

	t.Run("fallback avoids explicit ids", func(t *testing.T) {
		out := assignCorrelationIDs([]ToolCall{{ID: "x", Name: "y"}, {Name: "x"}}, nil)
		assert.Equal(t, "x", out[0].ID)
		assert.Equal(t, "x#2", out[1].ID)
	})

	t.Run("ids stay unique across rounds", func(t *testing.T) {
		taken := map[string]bool{}
		first := assignCorrelationIDs([]ToolCall{{Name: "x"}}, taken)
		second := assignCorrelationIDs([]ToolCall{{Name: "x"}, {Name: "x"}}, taken)
		assert.Equal(t, "x", first[0].ID)
		assert.Equal(t, "x#2", second[0].ID)
		assert.Equal(t, "x#3", second[1].ID)
	})

	t.Run("input is not modified", func(t *testing.T) {
		in := []ToolCall{{Name: "x"}}
		_ = assignCorrelationIDs(in, nil)
		assert.Empty(t, in[0].ID)
	})
}

func TestLoopStateString(t *testing.T) {
	assert.Equal(t, "awaiting_model", StateAwaitingModel.String())
	assert.Equal(t, "executing_tools", StateExecutingTools.String())
	assert.Equal(t, "terminated_success", StateTerminatedSuccess.String())
	assert.Equal(t, "terminated_budget_exhausted", StateTerminatedBudgetExhausted.String())
}
