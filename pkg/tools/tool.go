package tools

import (
	"context"
	"fmt"
)

// Tool is a named capability invocable by the model.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON schema of the arguments object.
	Schema() map[string]interface{}
	Invoke(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Definition is the model-facing description of a registered tool.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Parameter defines a single argument of a FuncTool
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Enum        []string    `json:"enum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler is the function signature backing a FuncTool
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// FuncToolConfig configures a FuncTool
type FuncToolConfig struct {
	Name        string
	Description string
	Parameters  []Parameter
	Handler     Handler
}

// FuncTool adapts a handler function and a parameter list into a Tool.
type FuncTool struct {
	name        string
	description string
	parameters  []Parameter
	handler     Handler
	schema      map[string]interface{}
}

// NewFuncTool creates a FuncTool. The schema is derived from the parameter list.
func NewFuncTool(cfg FuncToolConfig) *FuncTool {
	return &FuncTool{
		name:        cfg.Name,
		description: cfg.Description,
		parameters:  cfg.Parameters,
		handler:     cfg.Handler,
		schema:      schemaFromParameters(cfg.Parameters),
	}
}

func (t *FuncTool) Name() string        { return t.name }
func (t *FuncTool) Description() string { return t.description }

func (t *FuncTool) Schema() map[string]interface{} {
	return t.schema
}

// Invoke calls the handler
func (t *FuncTool) Invoke(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.handler == nil {
		return nil, fmt.Errorf("tool %s has no handler", t.name)
	}
	return t.handler(ctx, args)
}

// validate checks the parameter list of the tool
func (t *FuncTool) validate() error {
	if t.handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range t.parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}
	return nil
}

func schemaFromParameters(params []Parameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, param := range params {
		prop := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			enum := make([]interface{}, len(param.Enum))
			for i, v := range param.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[param.Name] = prop

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
