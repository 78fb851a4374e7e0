// Package model defines the runner collaborator interface the orchestration
// engine drives. A runner accepts a system prompt, a tool set and a message
// window and produces either a one-shot result or a chunked event stream with
// a finish callback fired exactly once at end of stream. The engine never
// looks inside a runner; provider adapters live in the subpackages.
package model

import (
	"context"

	"github.com/hupe1980/agentrelay/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset
// expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage captures token usage statistics for one generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is the normalized model input built by the engine per round.
type Request struct {
	Instructions string
	Messages     []core.Message
	Tools        []ToolDefinition

	// OnFinish, when set, is invoked exactly once with the final result:
	// after the last event of a Stream call, or never for Complete (the
	// caller of Complete already holds the result).
	OnFinish func(Result)
}

// Result is the final outcome of one generation.
type Result struct {
	Text             string
	ToolCalls        []core.ToolCall
	Usage            Usage
	ProviderMetadata map[string]any
	FinishReason     string
}

// ToolCallDelta is a fragment of a streaming tool call's arguments.
type ToolCallDelta struct {
	ID        string
	ArgsDelta string
}

// StreamEvent is one element of a runner's chunked output. Exactly one of
// the pointer fields is set per event; TextDelta stands alone.
type StreamEvent struct {
	TextDelta     string
	ToolCallStart *core.ToolCall
	ToolCallDelta *ToolCallDelta
	Finish        *Result
}

// Runner is the model collaborator. Implementations must support both
// calling conventions and must honor context cancellation.
type Runner interface {
	// Complete performs a one-shot generation.
	Complete(ctx context.Context, req Request) (*Result, error)

	// Stream performs a chunked generation. The event channel is closed
	// after the Finish event; a failure is delivered on the error channel
	// and both channels are closed. Req.OnFinish fires exactly once at
	// stream end on success.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, <-chan error)

	// Info returns metadata about the runner implementation.
	Info() Info
}

// Info contains metadata about a runner implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", ...
	SupportsTools bool   `json:"supports_tools"`
}
