package workflow

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agentrelay/core"
)

// HandoffInstruction is the transient control-transfer request extracted
// from a handoff tool result. It exists only within one round and is never
// persisted.
type HandoffInstruction struct {
	Target string
	Reason string
}

// FilterInput is what a handoff input filter sees: the working history and
// the tool results gathered during the round that requested the transfer.
type FilterInput struct {
	History  []core.Message
	NewItems map[string]any
}

// InputFilter rewrites the message history the next agent will see.
type InputFilter func(FilterInput) []core.Message

// HandoffCallback observes a completed transfer on a configured edge.
// Errors are logged and do not abort the handoff.
type HandoffCallback func(turnCtx *core.TurnContext, instr HandoffInstruction) error

// EdgeKey builds the lookup key for per-edge filters and callbacks.
func EdgeKey(from, to string) string { return from + "->" + to }

// transfer rewrites the working history for the target agent, records the
// source agent on the handoff chain and fires the edge callback if present.
func (w *Workflow) transfer(turnCtx *core.TurnContext, conv *core.Conversation, from string, instr HandoffInstruction, toolResults map[string]any) {
	in := FilterInput{History: conv.Messages(), NewItems: toolResults}

	filter := w.inputFilters[EdgeKey(from, instr.Target)]
	if filter == nil {
		filter = w.inputFilters[instr.Target]
	}
	if filter == nil {
		filter = defaultInputFilter
	}
	conv.Replace(filter(in))

	turnCtx.AppendHandoff(from)

	callback := w.handoffCallbacks[EdgeKey(from, instr.Target)]
	if callback == nil {
		callback = w.handoffCallbacks[instr.Target]
	}
	if callback != nil {
		if err := callback(turnCtx, instr); err != nil {
			w.logger.Warn("handoff callback failed", "from", from, "to", instr.Target, "error", err)
		}
	}
}

// defaultInputFilter reduces the history to a minimal context for the next
// agent: the turn's user request, the most recent completed assistant
// answer, and a context note carrying the transfer reason plus any tool
// results gathered this round. The user request is never dropped.
func defaultInputFilter(in FilterInput) []core.Message {
	var out []core.Message

	var lastAssistant *core.Message
	for i := len(in.History) - 1; i >= 0; i-- {
		msg := in.History[i]
		if msg.Role == core.RoleAssistant && msg.Content != "" && len(msg.ToolCalls) == 0 {
			lastAssistant = &in.History[i]
			break
		}
	}
	if lastAssistant != nil {
		out = append(out, *lastAssistant)
	}

	for i := len(in.History) - 1; i >= 0; i-- {
		if in.History[i].Role == core.RoleUser {
			out = append(out, in.History[i])
			break
		}
	}

	if len(in.NewItems) > 0 {
		var b strings.Builder
		b.WriteString("Context gathered before the transfer:")
		for name, result := range in.NewItems {
			fmt.Fprintf(&b, "\n- %s: %v", name, result)
		}
		out = append(out, core.UserMessage(b.String()))
	}

	return out
}
