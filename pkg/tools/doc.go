// Package tools holds the registry of named capabilities the model may call.
//
// Invariants:
// - Tool names are case-sensitive unique keys; registering a name twice keeps the last tool.
// - Arguments are validated against the tool's JSON schema before the tool runs.
// - The registry is safe for concurrent readers and may be shared across sessions.
//
// Usage:
//
//	reg := tools.NewRegistry(logger)
//	_ = reg.Register(tools.NewFuncTool(tools.FuncToolConfig{...}))
//	tool, ok := reg.Find("get_nomination_info")
//	if ok {
//		out, err := tool.Invoke(ctx, args)
//		_, _ = out, err
//	}
package tools
