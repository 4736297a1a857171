package tools

import (
	"fmt"
	"strings"
)

// ToolNotFoundError is returned when a tool name is not registered.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("Tool not found: %s", e.Name)
}

// ArgumentValidationError reports arguments that do not satisfy the tool schema.
type ArgumentValidationError struct {
	Tool   string
	Issues []string
}

func (e *ArgumentValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Issues, "; "))
}

// ToolInvocationError wraps a failure raised by a tool. Its message is the
// cause's message, unchanged.
type ToolInvocationError struct {
	Tool string
	Err  error
}

func (e *ToolInvocationError) Error() string {
	return e.Err.Error()
}

func (e *ToolInvocationError) Unwrap() error {
	return e.Err
}
