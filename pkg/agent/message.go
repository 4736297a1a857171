package agent

// Role identifies the author of a message
type Role string

const (
	RoleSystem     Role = "system"
	RoleHuman      Role = "human"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool"
)

// Message is one entry of a conversation. The set of implementations is closed:
// SystemMessage, HumanMessage, AssistantMessage and ToolResultMessage.
type Message interface {
	Role() Role
	Text() string
	isMessage()
}

// SystemMessage carries behavioral instructions for the model
type SystemMessage struct {
	Content string `json:"content"`
}

// HumanMessage carries the user's query
type HumanMessage struct {
	Content string `json:"content"`
}

// AssistantMessage is a model response, optionally requesting tool calls
type AssistantMessage struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
}

// ToolResultMessage is the outcome of one tool call, correlated by ToolCallID
type ToolResultMessage struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolCall is a structured request from the model to run a tool
type ToolCall struct {
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Usage tracks token consumption of one model call
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (SystemMessage) Role() Role     { return RoleSystem }
func (HumanMessage) Role() Role      { return RoleHuman }
func (AssistantMessage) Role() Role  { return RoleAssistant }
func (ToolResultMessage) Role() Role { return RoleToolResult }

func (m SystemMessage) Text() string     { return m.Content }
func (m HumanMessage) Text() string      { return m.Content }
func (m AssistantMessage) Text() string  { return m.Content }
func (m ToolResultMessage) Text() string { return m.Content }

func (SystemMessage) isMessage()     {}
func (HumanMessage) isMessage()      {}
func (AssistantMessage) isMessage()  {}
func (ToolResultMessage) isMessage() {}

// HasToolCalls reports whether the response requests any tool
func (m AssistantMessage) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// CorrelationID returns the id a ToolResult uses to refer to this call.
func (c ToolCall) CorrelationID() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Name
}

func (m AssistantMessage) clone() AssistantMessage {
	if m.Usage != nil {
		u := *m.Usage
		m.Usage = &u
	}
	if m.ToolCalls == nil {
		return m
	}
	calls := make([]ToolCall, len(m.ToolCalls))
	for i, c := range m.ToolCalls {
		calls[i] = c.clone()
	}
	m.ToolCalls = calls
	return m
}

func (c ToolCall) clone() ToolCall {
	c.Arguments = cloneValue(c.Arguments).(map[string]interface{})
	return c
}

// cloneValue deep-copies JSON-shaped data (maps, slices, primitives).
func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if val == nil {
			return map[string]interface{}(nil)
		}
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// MessageRecord is a flat, serializable view of a Message
type MessageRecord struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// Record flattens a message for logging or transport
func Record(m Message) MessageRecord {
	rec := MessageRecord{Role: m.Role(), Content: m.Text()}
	switch v := copyMessage(m).(type) {
	case AssistantMessage:
		rec.ToolCalls = v.ToolCalls
	case ToolResultMessage:
		rec.ToolCallID = v.ToolCallID
		rec.Name = v.Name
		rec.IsError = v.IsError
	}
	return rec
}

// Records flattens a list of messages
func Records(msgs []Message) []MessageRecord {
	out := make([]MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Record(m))
	}
	return out
}
