// Package guardrail defines the policy hook interfaces the engine invokes
// around a turn: before dispatching user input, before and after each tool
// execution, and on the final assistant text. Policy content lives with the
// caller; the engine only interprets the returned decision.
package guardrail

import (
	"context"

	"github.com/hupe1980/agentrelay/core"
)

// Decision is the outcome of a guardrail check.
type Decision int

const (
	// Allow lets the checked content pass unchanged.
	Allow Decision = iota
	// Block aborts with a typed error identifying the stage.
	Block
	// Modify substitutes the returned replacement and continues.
	Modify
)

// CheckResult is a guardrail verdict. Replacement is only read for Modify:
// it substitutes the user input, the serialized tool arguments, the tool
// result, or the assistant text, depending on the hook.
type CheckResult struct {
	Decision    Decision
	Replacement string
	Reason      string
}

// Allowed is the pass verdict.
func Allowed() CheckResult { return CheckResult{Decision: Allow} }

// Blocked builds a block verdict with a reason.
func Blocked(reason string) CheckResult { return CheckResult{Decision: Block, Reason: reason} }

// Modified builds a modify verdict carrying the replacement content.
func Modified(replacement string) CheckResult {
	return CheckResult{Decision: Modify, Replacement: replacement}
}

// InputGuard checks the incoming user message before the first round.
type InputGuard interface {
	CheckInput(ctx context.Context, turnCtx *core.TurnContext, input string) (CheckResult, error)
}

// OutputGuard checks the final assistant text before it is committed.
type OutputGuard interface {
	CheckOutput(ctx context.Context, turnCtx *core.TurnContext, output string) (CheckResult, error)
}

// ToolGuard checks tool executions. CheckToolCall runs before dispatch (a
// Modify verdict replaces the serialized arguments); CheckToolResult runs
// after (a Modify verdict replaces the result payload).
type ToolGuard interface {
	CheckToolCall(ctx context.Context, turnCtx *core.TurnContext, call core.ToolCall) (CheckResult, error)
	CheckToolResult(ctx context.Context, turnCtx *core.TurnContext, call core.ToolCall, result any) (CheckResult, error)
}

// InputGuardFunc adapts a function to InputGuard.
type InputGuardFunc func(ctx context.Context, turnCtx *core.TurnContext, input string) (CheckResult, error)

// CheckInput implements InputGuard.
func (f InputGuardFunc) CheckInput(ctx context.Context, turnCtx *core.TurnContext, input string) (CheckResult, error) {
	return f(ctx, turnCtx, input)
}

// OutputGuardFunc adapts a function to OutputGuard.
type OutputGuardFunc func(ctx context.Context, turnCtx *core.TurnContext, output string) (CheckResult, error)

// CheckOutput implements OutputGuard.
func (f OutputGuardFunc) CheckOutput(ctx context.Context, turnCtx *core.TurnContext, output string) (CheckResult, error) {
	return f(ctx, turnCtx, output)
}
