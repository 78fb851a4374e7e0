package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/guardrail"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
	"github.com/hupe1980/agentrelay/usage"
)

// invokeAgent runs one round of a single agent: resolve the system prompt
// and tool set, drive the model (streaming or one-shot), execute requested
// tools and feed everything as raw chunks to the returned channel. The error
// channel reports the round outcome after the chunk channel closes.
func (w *Workflow) invokeAgent(
	ctx context.Context,
	turnCtx *core.TurnContext,
	ag *agent.Agent,
	window []core.Message,
	callerFinish func(model.Result),
) (<-chan core.Chunk, <-chan error) {
	raw := make(chan core.Chunk, w.chunkBuffer)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(raw)
		if err := w.runRound(ctx, turnCtx, ag, window, callerFinish, raw); err != nil {
			errCh <- err
		}
	}()

	return raw, errCh
}

func (w *Workflow) runRound(
	ctx context.Context,
	turnCtx *core.TurnContext,
	ag *agent.Agent,
	window []core.Message,
	callerFinish func(model.Result),
	raw chan<- core.Chunk,
) error {
	instructions, err := ag.ResolveInstructions(turnCtx)
	if err != nil {
		return fmt.Errorf("resolve instructions for %s: %w", ag.Name(), err)
	}
	tools, err := ag.ResolveTools(turnCtx)
	if err != nil {
		return fmt.Errorf("resolve tools for %s: %w", ag.Name(), err)
	}
	if ag.CanHandOff() {
		if _, ok := tools[tool.HandoffToolName]; !ok {
			tools[tool.HandoffToolName] = tool.NewHandoffTool(ag.Handoffs())
		}
	}
	if w.memory != nil {
		if _, ok := tools[tool.MemoryToolName]; !ok {
			tools[tool.MemoryToolName] = tool.NewMemoryTool()
		}
	}

	defs := make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}

	msgs := make([]core.Message, len(window))
	copy(msgs, window)

	for iter := 0; iter < ag.TurnLimit(); iter++ {
		req := model.Request{Instructions: instructions, Messages: msgs, Tools: defs}

		var res *model.Result
		if w.streaming {
			req.OnFinish = w.usage.FanOutFinish(callerFinish, ag.Name(), turnCtx)
			res, err = w.relayStream(ctx, ag, req, raw)
		} else {
			res, err = w.completeOnce(ctx, turnCtx, ag, req, raw)
		}
		if err != nil {
			return err
		}

		if len(res.ToolCalls) == 0 {
			return nil
		}

		assistant := core.Message{Role: core.RoleAssistant, Content: res.Text, ToolCalls: res.ToolCalls}
		msgs = append(msgs, assistant)

		handedOff := false
		for _, call := range res.ToolCalls {
			payload, fatal := w.executeTool(ctx, turnCtx, tools, call)
			if fatal != nil {
				return fatal
			}
			if !emit(ctx, raw, core.ToolResultChunk(ag.Name(), call.ID, call.Name, payload)) {
				return ctx.Err()
			}
			msgs = append(msgs, core.ToolMessage(call.ID, call.Name, stringifyResult(payload)))
			if call.Name == tool.HandoffToolName {
				if _, ok := payload.(tool.HandoffResult); ok {
					handedOff = true
				}
			}
		}
		// A requested handoff ends the round; control moves to the target
		// instead of another model iteration.
		if handedOff {
			return nil
		}
	}

	w.logger.Debug("turn limit reached", "agent", ag.Name(), "limit", ag.TurnLimit())
	return nil
}

// relayStream drives one streaming generation, translating runner events
// into raw chunks, and returns the finish result.
func (w *Workflow) relayStream(ctx context.Context, ag *agent.Agent, req model.Request, raw chan<- core.Chunk) (*model.Result, error) {
	agentName := ag.Name()
	events, errs := ag.Runner().Stream(ctx, req)

	argBuf := map[string]string{}
	var final *model.Result
	for ev := range events {
		switch {
		case ev.TextDelta != "":
			if !emit(ctx, raw, core.TextChunk(agentName, ev.TextDelta)) {
				return nil, ctx.Err()
			}
		case ev.ToolCallStart != nil:
			if !emit(ctx, raw, core.ToolCallChunk(agentName, ev.ToolCallStart.ID, ev.ToolCallStart.Name)) {
				return nil, ctx.Err()
			}
		case ev.ToolCallDelta != nil:
			argBuf[ev.ToolCallDelta.ID] += ev.ToolCallDelta.ArgsDelta
			if !emit(ctx, raw, core.ToolDeltaChunk(agentName, ev.ToolCallDelta.ID, ev.ToolCallDelta.ArgsDelta)) {
				return nil, ctx.Err()
			}
		case ev.Finish != nil:
			res := *ev.Finish
			final = &res
		}
	}
	if err, ok := <-errs; ok && err != nil {
		return nil, fmt.Errorf("model stream for %s: %w", agentName, err)
	}
	if final == nil {
		return nil, fmt.Errorf("model stream for %s ended without finish event", agentName)
	}
	// Backfill arguments for runners that only deliver them as deltas.
	for i, call := range final.ToolCalls {
		if call.Arguments == "" {
			final.ToolCalls[i].Arguments = argBuf[call.ID]
		}
	}
	return final, nil
}

// completeOnce drives one one-shot generation, synthesizing the chunks a
// stream would have produced and delivering the usage event asynchronously
// with wall-clock duration.
func (w *Workflow) completeOnce(ctx context.Context, turnCtx *core.TurnContext, ag *agent.Agent, req model.Request, raw chan<- core.Chunk) (*model.Result, error) {
	start := time.Now()
	res, err := ag.Runner().Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("model call for %s: %w", ag.Name(), err)
	}
	w.usage.DeliverAsync(usage.NewEvent(ag.Name(), turnCtx, *res, usage.MethodComplete, time.Since(start)))

	if res.Text != "" {
		if !emit(ctx, raw, core.TextChunk(ag.Name(), res.Text)) {
			return nil, ctx.Err()
		}
	}
	for _, call := range res.ToolCalls {
		if !emit(ctx, raw, core.ToolCallChunk(ag.Name(), call.ID, call.Name)) {
			return nil, ctx.Err()
		}
		if call.Arguments != "" {
			if !emit(ctx, raw, core.ToolDeltaChunk(ag.Name(), call.ID, call.Arguments)) {
				return nil, ctx.Err()
			}
		}
	}
	return res, nil
}

// executeTool runs one tool call through the permission hooks. The returned
// payload is fed back to the model and the stream; a non-nil fatal error
// aborts the round (strict tool guard policy only).
func (w *Workflow) executeTool(ctx context.Context, turnCtx *core.TurnContext, tools map[string]tool.Tool, call core.ToolCall) (any, error) {
	if w.toolGuard != nil {
		verdict, err := w.toolGuard.CheckToolCall(ctx, turnCtx, call)
		if err != nil {
			return map[string]any{"error": err.Error()}, nil
		}
		switch verdict.Decision {
		case guardrail.Block:
			denied := &core.ToolDeniedError{Tool: call.Name, Reason: verdict.Reason}
			if w.failOnToolDenial {
				return nil, denied
			}
			return map[string]any{"error": denied.Error()}, nil
		case guardrail.Modify:
			call.Arguments = verdict.Replacement
		}
	}

	t, ok := tools[call.Name]
	if !ok {
		return map[string]any{"error": fmt.Sprintf("tool %q not found", call.Name)}, nil
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return map[string]any{"error": fmt.Sprintf("invalid arguments: %v", err)}, nil
		}
	}

	startedAt := time.Now()
	result, err := t.Call(ctx, turnCtx, args)
	w.logger.Debug("tool executed", "tool", call.Name, "duration_ms", time.Since(startedAt).Milliseconds(), "error", err != nil)
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}

	if w.toolGuard != nil {
		verdict, gerr := w.toolGuard.CheckToolResult(ctx, turnCtx, call, result)
		if gerr == nil {
			switch verdict.Decision {
			case guardrail.Block:
				denied := &core.ToolDeniedError{Tool: call.Name, Reason: verdict.Reason}
				if w.failOnToolDenial {
					return nil, denied
				}
				return map[string]any{"error": denied.Error()}, nil
			case guardrail.Modify:
				return verdict.Replacement, nil
			}
		}
	}

	return result, nil
}

// emit writes a chunk to the raw stream unless the turn was cancelled.
func emit(ctx context.Context, raw chan<- core.Chunk, c core.Chunk) bool {
	select {
	case <-ctx.Done():
		return false
	case raw <- c:
		return true
	}
}

func stringifyResult(payload any) string {
	switch v := payload.(type) {
	case string:
		return v
	default:
		if raw, err := json.Marshal(payload); err == nil {
			return string(raw)
		}
		return fmt.Sprintf("%v", payload)
	}
}
