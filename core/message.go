package core

// Role tags the author of a transcript message.
type Role string

const (
	// RoleUser marks caller input.
	RoleUser Role = "user"
	// RoleAssistant marks agent output.
	RoleAssistant Role = "assistant"
	// RoleTool marks a tool result fed back to the model.
	RoleTool Role = "tool"
)

// ToolCall is a tool invocation requested by an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // serialized JSON payload
}

// Message is one entry of the durable conversation transcript.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"` // assistant messages only

	// ToolCallID / ToolName link a tool message back to the originating call.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// UserMessage builds a user-authored text message.
func UserMessage(text string) Message { return Message{Role: RoleUser, Content: text} }

// AssistantMessage builds an assistant text message.
func AssistantMessage(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// ToolMessage builds a tool result message bound to a prior call.
func ToolMessage(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, ToolName: toolName}
}

// Conversation is the ordered transcript of one workflow turn plus any loaded
// history. The orchestration loop appends to it round by round; intermediate
// text of an agent that hands off is never appended.
type Conversation struct {
	messages []Message
}

// NewConversation seeds a transcript from loaded history plus the new input.
func NewConversation(seed ...Message) *Conversation {
	c := &Conversation{}
	c.messages = append(c.messages, seed...)
	return c
}

// Append adds messages to the end of the transcript.
func (c *Conversation) Append(msgs ...Message) { c.messages = append(c.messages, msgs...) }

// Replace swaps the transcript for the given history. Used by handoff input
// filters to rewrite what the next agent sees.
func (c *Conversation) Replace(msgs []Message) {
	c.messages = append(c.messages[:0:0], msgs...)
}

// Messages returns a copy of the full transcript.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }

// LatestUser returns the most recent user message, if any.
func (c *Conversation) LatestUser() (Message, bool) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleUser {
			return c.messages[i], true
		}
	}
	return Message{}, false
}

// Window returns the trailing n messages. With n <= 0 the full transcript is
// returned. A non-empty transcript never yields an empty window: when the
// cut would drop everything, the latest user message is returned so the model
// always sees the request it is answering.
func (c *Conversation) Window(n int) []Message {
	if n <= 0 || n >= len(c.messages) {
		return c.Messages()
	}
	// Never start a window on a dangling tool result; widen until the window
	// opens on a user or assistant message.
	start := len(c.messages) - n
	for start > 0 && c.messages[start].Role == RoleTool {
		start--
	}
	win := make([]Message, len(c.messages)-start)
	copy(win, c.messages[start:])
	return win
}
