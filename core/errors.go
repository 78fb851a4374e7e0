package core

import "fmt"

// BlockStage identifies which guardrail stage blocked a turn.
type BlockStage string

const (
	// BlockStageInput marks a block of the incoming user message.
	BlockStageInput BlockStage = "input"
	// BlockStageOutput marks a block of the outgoing assistant text.
	BlockStageOutput BlockStage = "output"
	// BlockStageTool marks a block raised around a tool execution.
	BlockStageTool BlockStage = "tool"
)

// BlockedError is returned when a guardrail blocks the turn. Callers can
// branch on Stage to distinguish input-blocked from output-blocked turns.
type BlockedError struct {
	Stage  BlockStage
	Reason string
}

func (e *BlockedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("blocked at %s stage", e.Stage)
	}
	return fmt.Sprintf("blocked at %s stage: %s", e.Stage, e.Reason)
}

// ToolDeniedError is returned when a permission hook denies a tool call. It
// is fatal to the tool call; whether it is fatal to the turn is caller policy.
type ToolDeniedError struct {
	Tool   string
	Reason string
}

func (e *ToolDeniedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("tool %q denied", e.Tool)
	}
	return fmt.Sprintf("tool %q denied: %s", e.Tool, e.Reason)
}

// UnknownAgentError is returned when a handoff names an agent that is not
// registered with the workflow.
type UnknownAgentError struct{ Name string }

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent %q", e.Name)
}
