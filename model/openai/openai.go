// Package openai implements model.Runner on the OpenAI Chat Completions API,
// including streaming and function calling.
package openai

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
)

// Options configure the OpenAI runner. Fields mirror a minimal subset of the
// Chat Completion parameters; extend via functional options without breaking
// callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Runner wraps the OpenAI Chat Completions API behind model.Runner.
type Runner struct {
	client *openaisdk.Client
	opts   Options
}

var _ model.Runner = (*Runner)(nil)

// New creates a runner using the default client (API key from environment).
func New(optFns ...func(o *Options)) *Runner {
	client := openaisdk.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a runner from an existing client.
func NewFromClient(client *openaisdk.Client, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Model:               openaisdk.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Runner{client: client, opts: opts}
}

// Complete implements model.Runner.
func (r *Runner) Complete(ctx context.Context, req model.Request) (*model.Result, error) {
	resp, err := r.client.Chat.Completions.New(ctx, r.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	choice := resp.Choices[0]
	res := &model.Result{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: model.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		ProviderMetadata: map[string]any{"id": resp.ID, "model": resp.Model},
	}
	for _, tc := range choice.Message.ToolCalls {
		res.ToolCalls = append(res.ToolCalls, core.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return res, nil
}

// aggCall aggregates partial tool call streaming deltas so the complete call
// can be reconstructed at finish.
type aggCall struct {
	id, name, args string
	started        bool
}

// Stream implements model.Runner.
func (r *Runner) Stream(ctx context.Context, req model.Request) (<-chan model.StreamEvent, <-chan error) {
	out := make(chan model.StreamEvent, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)

		params := r.buildParams(req)
		params.StreamOptions = openaisdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: openaisdk.Bool(true),
		}
		stream := r.client.Chat.Completions.NewStreaming(ctx, params)

		var text strings.Builder
		agg := map[int64]*aggCall{}
		var order []int64
		var usage model.Usage
		var finishReason string
		var respID, respModel string

		for stream.Next() {
			ck := stream.Current()
			if ck.ID != "" {
				respID, respModel = ck.ID, ck.Model
			}
			if ck.Usage.TotalTokens > 0 {
				usage = model.Usage{
					PromptTokens:     int(ck.Usage.PromptTokens),
					CompletionTokens: int(ck.Usage.CompletionTokens),
					TotalTokens:      int(ck.Usage.TotalTokens),
				}
			}
			for _, choice := range ck.Choices {
				if choice.Delta.Content != "" {
					text.WriteString(choice.Delta.Content)
					if !send(ctx, out, model.StreamEvent{TextDelta: choice.Delta.Content}) {
						errCh <- ctx.Err()
						return
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					ac, ok := agg[tc.Index]
					if !ok {
						ac = &aggCall{}
						agg[tc.Index] = ac
						order = append(order, tc.Index)
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					if !ac.started && ac.id != "" && ac.name != "" {
						ac.started = true
						if !send(ctx, out, model.StreamEvent{ToolCallStart: &core.ToolCall{ID: ac.id, Name: ac.name}}) {
							errCh <- ctx.Err()
							return
						}
					}
					if tc.Function.Arguments != "" {
						ac.args += tc.Function.Arguments
						if !send(ctx, out, model.StreamEvent{ToolCallDelta: &model.ToolCallDelta{ID: ac.id, ArgsDelta: tc.Function.Arguments}}) {
							errCh <- ctx.Err()
							return
						}
					}
				}
				if choice.FinishReason != "" {
					finishReason = choice.FinishReason
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai streaming error: %w", err)
			return
		}

		res := model.Result{
			Text:             text.String(),
			Usage:            usage,
			FinishReason:     finishReason,
			ProviderMetadata: map[string]any{"id": respID, "model": respModel},
		}
		for _, idx := range order {
			ac := agg[idx]
			res.ToolCalls = append(res.ToolCalls, core.ToolCall{ID: ac.id, Name: ac.name, Arguments: ac.args})
		}
		if req.OnFinish != nil {
			req.OnFinish(res)
		}
		if !send(ctx, out, model.StreamEvent{Finish: &res}) {
			errCh <- ctx.Err()
		}
	}()

	return out, errCh
}

// send forwards an event unless the request context is cancelled. A consumer
// that aborted the turn stops reading the channel; a plain send would park
// this goroutine forever once the buffer fills.
func send(ctx context.Context, out chan<- model.StreamEvent, ev model.StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- ev:
		return true
	}
}

// buildParams assembles the request parameters, converting the flat message
// transcript into the SDK's message union.
func (r *Runner) buildParams(req model.Request) openaisdk.ChatCompletionNewParams {
	var messages []openaisdk.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openaisdk.SystemMessage(req.Instructions))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleUser:
			messages = append(messages, openaisdk.UserMessage(msg.Content))
		case core.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openaisdk.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openaisdk.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				toolCalls[i] = openaisdk.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			messages = append(messages, openaisdk.ChatCompletionMessageParamUnion{
				OfAssistant: &openaisdk.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
		case core.RoleTool:
			messages = append(messages, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			if msg.Content != "" {
				messages = append(messages, openaisdk.UserMessage(msg.Content))
			}
		}
	}

	params := openaisdk.ChatCompletionNewParams{
		Messages:            messages,
		Model:               r.opts.Model,
		Temperature:         openaisdk.Float(r.opts.Temperature),
		MaxCompletionTokens: openaisdk.Int(r.opts.MaxCompletionTokens),
	}
	if len(req.Tools) > 0 {
		tools := make([]openaisdk.ChatCompletionToolParam, len(req.Tools))
		for i, td := range req.Tools {
			tools[i] = openaisdk.ChatCompletionToolParam{
				Type: "function",
				Function: openaisdk.FunctionDefinitionParam{
					Name:        td.Name,
					Description: openaisdk.String(td.Description),
					Parameters:  td.Parameters,
				},
			}
		}
		params.Tools = tools
	}
	return params
}

// Info implements model.Runner.
func (r *Runner) Info() model.Info {
	return model.Info{Name: r.opts.Model, Provider: "openai", SupportsTools: true}
}
