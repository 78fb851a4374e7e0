// Package tool implements the function calling subsystem that lets agents
// invoke structured capabilities with schema described arguments, plus the
// reserved handoff tool the orchestration engine uses for control transfer.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrelay/core"
)

// Tool defines the interface for extending agent capabilities with external
// functions.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions (snake_case names)
//   - Define proper JSON schema for parameters
//   - Be safe for concurrent use; one Tool instance may serve many turns
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description is provided to the model to decide when to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input.
	Parameters() map[string]any

	// Call executes the tool. Arguments are parsed from the model's JSON
	// payload before invocation.
	Call(ctx context.Context, turnCtx *core.TurnContext, args map[string]any) (any, error)
}

// Error represents a failure during tool execution.
type Error struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewError creates an Error with the specified details.
func NewError(tool, message, code string) *Error {
	return &Error{Tool: tool, Message: message, Code: code}
}
