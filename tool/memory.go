package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/memory"
)

// MemoryToolName is the reserved name of the working-memory tool. Calling it
// stages a note on the turn context; the engine persists staged notes once
// the loop terminates, never mid-round.
const MemoryToolName = "update_working_memory"

// memoryTool lets an agent maintain its durable working-memory notes.
type memoryTool struct{}

// NewMemoryTool constructs the reserved working-memory tool. The engine
// injects it automatically when a memory provider is configured.
func NewMemoryTool() Tool { return memoryTool{} }

func (memoryTool) Name() string { return MemoryToolName }

func (memoryTool) Description() string {
	return "Replace your durable working-memory notes for this session or user. " +
		"Notes are injected into your instructions on future turns; write the full note, not a delta."
}

func (memoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scope": map[string]any{
				"type":        "string",
				"description": "Whether the note belongs to the session or the user",
				"enum":        []string{memory.ScopeSession, memory.ScopeUser},
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The complete working-memory note to store",
			},
		},
		"required": []string{"content"},
	}
}

func (memoryTool) Call(_ context.Context, turnCtx *core.TurnContext, args map[string]any) (any, error) {
	content, ok := args["content"].(string)
	if !ok || content == "" {
		return nil, fmt.Errorf("field 'content' must be a non-empty string")
	}
	scope := memory.ScopeSession
	if raw, ok := args["scope"]; ok {
		s, ok := raw.(string)
		if !ok || (s != memory.ScopeSession && s != memory.ScopeUser) {
			return nil, fmt.Errorf("field 'scope' must be %q or %q", memory.ScopeSession, memory.ScopeUser)
		}
		scope = s
	}
	turnCtx.StageMemory(scope, content)
	return "Working memory updated.", nil
}
