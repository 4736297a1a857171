package agent

// Conversation is an append-only, ordered message history.
// It is owned by a single run and is not safe for concurrent use.
type Conversation struct {
	messages []Message
}

// NewConversation creates a conversation seeded with the given messages
func NewConversation(seed ...Message) *Conversation {
	c := &Conversation{}
	c.Append(seed...)
	return c
}

// Append adds messages at the end. Assistant messages are copied so later
// changes by the producer cannot reach the history.
func (c *Conversation) Append(msgs ...Message) {
	for _, m := range msgs {
		if m == nil {
			continue
		}
		c.messages = append(c.messages, copyMessage(m))
	}
}

// Messages returns a snapshot of the history.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = copyMessage(m)
	}
	return out
}

// Len returns the number of messages
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Last returns the most recent message, or nil for an empty conversation
func (c *Conversation) Last() Message {
	if len(c.messages) == 0 {
		return nil
	}
	return copyMessage(c.messages[len(c.messages)-1])
}

func copyMessage(m Message) Message {
	switch v := m.(type) {
	case AssistantMessage:
		return v.clone()
	case *AssistantMessage:
		return v.clone()
	case *SystemMessage:
		return *v
	case *HumanMessage:
		return *v
	case *ToolResultMessage:
		return *v
	default:
		return m
	}
}
