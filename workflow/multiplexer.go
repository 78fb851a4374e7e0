package workflow

import (
	"strings"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/tool"
)

// roundResult is what one drained agent round yields back to the loop.
type roundResult struct {
	// Text is the agent's accumulated assistant text for the round.
	Text string
	// Handoff is the captured handoff instruction, nil when the agent
	// answered directly.
	Handoff *HandoffInstruction
	// ToolResults maps tool name to its latest result payload this round.
	ToolResults map[string]any
}

// drainStream consumes one agent's raw chunk stream to the end, partitioning
// chunks into internal control traffic (the reserved handoff tool) and
// user-visible output forwarded to the sink in arrival order.
//
// Classification keys off the tool call start events: the id of a handoff
// tool call is remembered so later delta/result chunks for the same call are
// recognized even though they do not repeat the tool name. Draining is never
// short-circuited; a handoff result arriving mid-stream must not lose
// trailing chunks. A chunk the sink refuses is logged and skipped, not
// allowed to abort the drain.
func (w *Workflow) drainStream(raw <-chan core.Chunk, errCh <-chan error, sink core.Sink) (*roundResult, error) {
	res := &roundResult{ToolResults: map[string]any{}}
	var text strings.Builder
	handoffCalls := map[string]bool{} // tool call ids of the reserved handoff tool

	for chunk := range raw {
		internal := false
		switch chunk.Type {
		case core.ChunkTypeText:
			text.WriteString(chunk.TextDelta)
		case core.ChunkTypeToolCall:
			if chunk.ToolName == tool.HandoffToolName {
				handoffCalls[chunk.ToolCallID] = true
				internal = true
			}
		case core.ChunkTypeToolDelta:
			internal = handoffCalls[chunk.ToolCallID]
		case core.ChunkTypeToolResult:
			if handoffCalls[chunk.ToolCallID] || chunk.ToolName == tool.HandoffToolName {
				internal = true
				if instr, ok := handoffInstructionFrom(chunk.Result); ok {
					res.Handoff = instr
				} else {
					w.logger.Warn("malformed handoff payload", "agent", chunk.Agent, "call_id", chunk.ToolCallID)
				}
			} else {
				res.ToolResults[chunk.ToolName] = chunk.Result
			}
		case core.ChunkTypeStatus:
			// forwarded as-is
		default:
			w.logger.Warn("dropping malformed chunk", "agent", chunk.Agent, "type", string(chunk.Type))
			continue
		}
		if internal {
			continue
		}
		if err := sink.Write(chunk); err != nil {
			w.logger.Warn("sink rejected chunk", "agent", chunk.Agent, "type", string(chunk.Type), "error", err)
		}
	}

	res.Text = text.String()

	// The producer closes the chunk channel before reporting its outcome.
	if err, ok := <-errCh; ok && err != nil {
		return res, err
	}
	return res, nil
}

// handoffInstructionFrom extracts a handoff instruction from a handoff tool
// result payload.
func handoffInstructionFrom(payload any) (*HandoffInstruction, bool) {
	switch v := payload.(type) {
	case tool.HandoffResult:
		return &HandoffInstruction{Target: v.Agent, Reason: v.Reason}, true
	case *tool.HandoffResult:
		if v == nil {
			return nil, false
		}
		return &HandoffInstruction{Target: v.Agent, Reason: v.Reason}, true
	case map[string]any:
		target, _ := v["agent"].(string)
		if target == "" {
			return nil, false
		}
		reason, _ := v["reason"].(string)
		return &HandoffInstruction{Target: target, Reason: reason}, true
	default:
		return nil, false
	}
}
