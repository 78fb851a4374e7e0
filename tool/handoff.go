package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentrelay/core"
)

// HandoffToolName is the reserved name of the control-transfer tool. Chunks
// belonging to a call of this tool are internal orchestration traffic and are
// filtered from the caller-visible stream.
const HandoffToolName = "transfer_to_agent"

// HandoffResult is the payload of a successful handoff tool call. The stream
// multiplexer captures it as the round's handoff instruction.
type HandoffResult struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason,omitempty"`
}

// handoffTool requests orchestration transfer to a named target agent.
type handoffTool struct {
	targets []string
}

// NewHandoffTool constructs the reserved handoff tool for the given target
// agent names. The target list is baked into the description so the model
// only ever names agents it may actually reach.
func NewHandoffTool(targets []string) Tool {
	return &handoffTool{targets: targets}
}

func (t *handoffTool) Name() string { return HandoffToolName }

func (t *handoffTool) Description() string {
	return fmt.Sprintf(
		"Transfer the conversation to another agent when it is better suited to answer. Available agents: %s.",
		strings.Join(t.targets, ", "),
	)
}

func (t *handoffTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent":  map[string]any{"type": "string", "description": "Target agent name", "enum": t.targets},
			"reason": map[string]any{"type": "string", "description": "Why the target agent should take over"},
		},
		"required": []string{"agent"},
	}
}

func (t *handoffTool) Call(_ context.Context, _ *core.TurnContext, args map[string]any) (any, error) {
	raw, ok := args["agent"]
	if !ok {
		return nil, fmt.Errorf("missing required field 'agent'")
	}
	name, ok := raw.(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("field 'agent' must be a non-empty string")
	}
	found := false
	for _, target := range t.targets {
		if target == name {
			found = true
			break
		}
	}
	if !found {
		return nil, &core.UnknownAgentError{Name: name}
	}
	reason, _ := args["reason"].(string)
	return HandoffResult{Agent: name, Reason: reason}, nil
}
