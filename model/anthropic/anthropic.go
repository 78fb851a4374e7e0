// Package anthropic implements model.Runner on the Anthropic Messages API,
// including streaming and tool use.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
)

// Options configure the Anthropic runner.
type Options struct {
	Model       anthropicsdk.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Runner wraps the Anthropic Messages API behind model.Runner.
type Runner struct {
	client *anthropicsdk.Client
	opts   Options
}

var _ model.Runner = (*Runner)(nil)

// New creates a runner using the official client. Without an explicit API
// key the client reads it from the environment.
func New(optFns ...func(o *Options)) *Runner {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropicsdk.NewClient(clientOpts...)

	return &Runner{client: &client, opts: opts}
}

// NewFromClient creates a runner from an existing client.
func NewFromClient(client *anthropicsdk.Client, optFns ...func(o *Options)) *Runner {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Runner{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropicsdk.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Complete implements model.Runner.
func (r *Runner) Complete(ctx context.Context, req model.Request) (*model.Result, error) {
	resp, err := r.client.Messages.New(ctx, r.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}
	return resultFromMessage(*resp), nil
}

// Stream implements model.Runner.
func (r *Runner) Stream(ctx context.Context, req model.Request) (<-chan model.StreamEvent, <-chan error) {
	out := make(chan model.StreamEvent, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)

		stream := r.client.Messages.NewStreaming(ctx, r.buildParams(req))
		defer stream.Close()

		acc := anthropicsdk.Message{}
		// Maps content block index to the tool call id so argument deltas can
		// be attributed; the delta events do not repeat the id.
		toolIDs := map[int64]string{}

		for stream.Next() {
			chunk := stream.Current()
			if err := acc.Accumulate(chunk); err != nil {
				errCh <- fmt.Errorf("anthropic stream accumulate: %w", err)
				return
			}
			switch event := chunk.AsAny().(type) {
			case anthropicsdk.ContentBlockStartEvent:
				if block, ok := event.ContentBlock.AsAny().(anthropicsdk.ToolUseBlock); ok {
					toolIDs[event.Index] = block.ID
					if !send(ctx, out, model.StreamEvent{ToolCallStart: &core.ToolCall{ID: block.ID, Name: block.Name}}) {
						errCh <- ctx.Err()
						return
					}
				}
			case anthropicsdk.ContentBlockDeltaEvent:
				switch delta := event.Delta.AsAny().(type) {
				case anthropicsdk.TextDelta:
					if delta.Text != "" {
						if !send(ctx, out, model.StreamEvent{TextDelta: delta.Text}) {
							errCh <- ctx.Err()
							return
						}
					}
				case anthropicsdk.InputJSONDelta:
					if delta.PartialJSON != "" {
						if !send(ctx, out, model.StreamEvent{ToolCallDelta: &model.ToolCallDelta{
							ID:        toolIDs[event.Index],
							ArgsDelta: delta.PartialJSON,
						}}) {
							errCh <- ctx.Err()
							return
						}
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic streaming error: %w", err)
			return
		}

		res := resultFromMessage(acc)
		if req.OnFinish != nil {
			req.OnFinish(*res)
		}
		if !send(ctx, out, model.StreamEvent{Finish: res}) {
			errCh <- ctx.Err()
		}
	}()

	return out, errCh
}

// send forwards an event unless the request context is cancelled. A consumer
// that aborted the turn stops reading the channel; a plain send would park
// this goroutine forever once the buffer fills, with the HTTP stream still
// open behind it.
func send(ctx context.Context, out chan<- model.StreamEvent, ev model.StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- ev:
		return true
	}
}

// resultFromMessage flattens a complete message into the normalized result.
func resultFromMessage(msg anthropicsdk.Message) *model.Result {
	res := &model.Result{
		FinishReason: string(msg.StopReason),
		Usage: model.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		ProviderMetadata: map[string]any{"id": msg.ID, "model": string(msg.Model)},
	}
	for _, content := range msg.Content {
		switch block := content.AsAny().(type) {
		case anthropicsdk.TextBlock:
			res.Text += block.Text
		case anthropicsdk.ToolUseBlock:
			args := ""
			if raw, err := json.Marshal(block.Input); err == nil {
				args = string(raw)
			}
			res.ToolCalls = append(res.ToolCalls, core.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	return res
}

// buildParams assembles the message request. Tool results become tool_result
// blocks inside user-role messages, as the Messages API requires; consecutive
// tool results collapse into one user message.
func (r *Runner) buildParams(req model.Request) anthropicsdk.MessageNewParams {
	params := anthropicsdk.MessageNewParams{
		Model:       r.opts.Model,
		MaxTokens:   r.opts.MaxTokens,
		Temperature: anthropicsdk.Float(r.opts.Temperature),
	}
	if req.Instructions != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.Instructions}}
	}

	var messages []anthropicsdk.MessageParam
	var pendingResults []anthropicsdk.ContentBlockParamUnion
	flushResults := func() {
		if len(pendingResults) > 0 {
			messages = append(messages, anthropicsdk.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleTool:
			pendingResults = append(pendingResults, anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case core.RoleAssistant:
			flushResults()
			var blocks []anthropicsdk.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						input = tc.Arguments
					}
				}
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropicsdk.NewAssistantMessage(blocks...))
			}
		default:
			flushResults()
			if msg.Content != "" {
				messages = append(messages, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
			}
		}
	}
	flushResults()
	params.Messages = messages

	if len(req.Tools) > 0 {
		tools := make([]anthropicsdk.ToolUnionParam, len(req.Tools))
		for i, td := range req.Tools {
			schema := anthropicsdk.ToolInputSchemaParam{Type: constant.Object("object")}
			if td.Parameters != nil {
				if props, ok := td.Parameters["properties"]; ok {
					schema.Properties = props
				}
				schema.Required = requiredStrings(td.Parameters["required"])
			}
			tools[i] = anthropicsdk.ToolUnionParamOfTool(schema, td.Name)
		}
		params.Tools = tools
	}
	return params
}

func requiredStrings(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Info implements model.Runner.
func (r *Runner) Info() model.Info {
	return model.Info{Name: string(r.opts.Model), Provider: "anthropic", SupportsTools: true}
}
