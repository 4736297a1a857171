package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// maxOutputSize caps serialized tool output fed back to the model.
const maxOutputSize = 10 * 1024

// Registry maps tool names to invocable tools.
type Registry struct {
	tools  map[string]*boundTool
	logger zerolog.Logger
	mu     sync.RWMutex
}

// boundTool validates arguments against the compiled schema before delegating.
type boundTool struct {
	Tool
	schema *gojsonschema.Schema
}

// NewRegistry creates an empty registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*boundTool),
		logger: logger.With().Str("component", "tools").Logger(),
	}
}

// Register adds a tool. A tool registered under an existing name replaces it.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	if tool.Name() == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Description() == "" {
		return fmt.Errorf("tool description cannot be empty for %s", tool.Name())
	}
	if ft, ok := tool.(*FuncTool); ok {
		if err := ft.validate(); err != nil {
			return fmt.Errorf("invalid tool definition %s: %w", tool.Name(), err)
		}
	}

	schema, err := compileSchema(tool.Schema())
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", tool.Name(), err)
	}

	r.mu.Lock()
	_, replaced := r.tools[tool.Name()]
	r.tools[tool.Name()] = &boundTool{Tool: tool, schema: schema}
	r.mu.Unlock()

	r.logger.Debug().Str("tool", tool.Name()).Bool("replaced", replaced).Msg("Tool registered")
	return nil
}

// MustRegister registers every tool and panics on the first failure.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Find looks a tool up by its exact name.
func (r *Registry) Find(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return t, true
}

// Names returns the registered tool names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns model-facing descriptions of all tools, ordered by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (b *boundTool) Invoke(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	if err := validateArguments(b.schema, b.Name(), args); err != nil {
		return nil, err
	}

	out, err := b.Tool.Invoke(ctx, args)
	if err != nil {
		return nil, &ToolInvocationError{Tool: b.Name(), Err: err}
	}
	return out, nil
}

func compileSchema(schema map[string]interface{}) (*gojsonschema.Schema, error) {
	if schema == nil {
		schema = map[string]interface{}{"type": "object"}
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
}

func validateArguments(schema *gojsonschema.Schema, tool string, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &ArgumentValidationError{Tool: tool, Issues: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		issues = append(issues, e.String())
	}
	return &ArgumentValidationError{Tool: tool, Issues: issues}
}

// FormatResult serializes a tool result for the conversation. Strings pass
// through unchanged; everything else is JSON encoded. Output larger than
// 10KiB is cut and marked, in which case the second return value is true.
func FormatResult(v interface{}) (string, bool) {
	var out string
	switch val := v.(type) {
	case string:
		out = val
	case []byte:
		out = string(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			out = fmt.Sprintf("%v", val)
		} else {
			out = string(data)
		}
	}

	if len(out) <= maxOutputSize {
		return out, false
	}
	cut := maxOutputSize
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut] + "\n... [output truncated]", true
}
