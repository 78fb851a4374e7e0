package core

// ChunkType discriminates the payload of a Chunk.
type ChunkType string

const (
	// ChunkTypeText carries an assistant text delta.
	ChunkTypeText ChunkType = "text"
	// ChunkTypeToolCall announces the start of a tool call (id + name).
	ChunkTypeToolCall ChunkType = "tool_call"
	// ChunkTypeToolDelta carries a fragment of a tool call's arguments.
	ChunkTypeToolDelta ChunkType = "tool_delta"
	// ChunkTypeToolResult carries the result payload of a completed tool call.
	ChunkTypeToolResult ChunkType = "tool_result"
	// ChunkTypeStatus carries an orchestration status notice (e.g. routing
	// completed, control handed to another agent).
	ChunkTypeStatus ChunkType = "status"
	// ChunkTypeError is the terminal marker for a failed turn.
	ChunkTypeError ChunkType = "error"
	// ChunkTypeDone is the terminal marker for a completed turn.
	ChunkTypeDone ChunkType = "done"
)

// Chunk is the unit of the outbound stream. One workflow turn produces an
// ordered sequence of chunks ending in exactly one terminal marker (done or
// error); nothing is written after the terminal marker.
type Chunk struct {
	Type  ChunkType `json:"type"`
	Agent string    `json:"agent,omitempty"` // emitting agent name

	TextDelta string `json:"text_delta,omitempty"`

	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ArgsDelta  string `json:"args_delta,omitempty"`
	Result     any    `json:"result,omitempty"`

	Status       string `json:"status,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
}

// IsTerminal reports whether the chunk closes the stream.
func (c Chunk) IsTerminal() bool {
	return c.Type == ChunkTypeDone || c.Type == ChunkTypeError
}

// TextChunk builds an assistant text delta chunk.
func TextChunk(agent, delta string) Chunk {
	return Chunk{Type: ChunkTypeText, Agent: agent, TextDelta: delta}
}

// ToolCallChunk builds a tool call start chunk.
func ToolCallChunk(agent, callID, toolName string) Chunk {
	return Chunk{Type: ChunkTypeToolCall, Agent: agent, ToolCallID: callID, ToolName: toolName}
}

// ToolDeltaChunk builds an argument fragment chunk for a running tool call.
func ToolDeltaChunk(agent, callID, argsDelta string) Chunk {
	return Chunk{Type: ChunkTypeToolDelta, Agent: agent, ToolCallID: callID, ArgsDelta: argsDelta}
}

// ToolResultChunk builds a tool result chunk.
func ToolResultChunk(agent, callID, toolName string, result any) Chunk {
	return Chunk{Type: ChunkTypeToolResult, Agent: agent, ToolCallID: callID, ToolName: toolName, Result: result}
}

// StatusChunk builds an orchestration status chunk.
func StatusChunk(agent, status string) Chunk {
	return Chunk{Type: ChunkTypeStatus, Agent: agent, Status: status}
}

// DoneChunk builds the success terminal marker.
func DoneChunk(agent string) Chunk { return Chunk{Type: ChunkTypeDone, Agent: agent} }

// ErrorChunk builds the failure terminal marker.
func ErrorChunk(agent string, err error) Chunk {
	c := Chunk{Type: ChunkTypeError, Agent: agent}
	if err != nil {
		c.ErrorMessage = err.Error()
	}
	return c
}
