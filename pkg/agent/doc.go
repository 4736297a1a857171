// Package agent drives a language model through bounded tool-calling rounds.
//
// Invariants:
// - A conversation only grows; messages are never reordered or edited once appended.
// - A run makes at most MaxRounds model calls; tool calls in a round run one at a time in request order.
// - Tool failures become ToolResult messages for the model; only model failures reach the caller.
//
// Usage:
//
//	sess, err := agent.NewSession(agent.Config{Provider: agent.ProviderOpenAI, Model: "gpt-4o-mini", APIKey: key}, registry)
//	if err != nil {
//		return err
//	}
//	resp, err := sess.Run(ctx, "what is my pool balance")
//	_ = resp.Output
package agent
