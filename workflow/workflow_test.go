package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/guardrail"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/memory"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
	"github.com/hupe1980/agentrelay/usage"
)

func handoffCall(id, target, reason string) core.ToolCall {
	return core.ToolCall{
		ID:        id,
		Name:      tool.HandoffToolName,
		Arguments: `{"agent":"` + target + `","reason":"` + reason + `"}`,
	}
}

// collectingTracker records delivered usage events thread-safely.
type collectingTracker struct {
	mu     sync.Mutex
	events []usage.Event
}

func (c *collectingTracker) OnUsage(ev usage.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collectingTracker) Events() []usage.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]usage.Event, len(c.events))
	copy(out, c.events)
	return out
}

func quietOptions(extra ...func(o *Options)) []func(o *Options) {
	return append([]func(o *Options){func(o *Options) {
		o.Logger = logging.NoOpLogger{}
		o.Streaming = true
	}}, extra...)
}

func TestRun_DirectAnswer(t *testing.T) {
	runner := model.NewMockRunner("mock")
	runner.Enqueue(model.Result{Text: "The answer is 4.", FinishReason: "stop"})
	triage := agent.New("triage", runner)

	wf, err := New(triage, nil, quietOptions()...)
	require.NoError(t, err)

	sink := core.NewBufferSink()
	turn, err := wf.Run(context.Background(), core.NewTurnContext("sess"), "what is 2+2?", sink)
	require.NoError(t, err)

	assert.Equal(t, "The answer is 4.", turn.Response)
	assert.Equal(t, 1, turn.Rounds)
	assert.Equal(t, "triage", turn.FinalAgent)
	assert.Equal(t, "The answer is 4.", sink.Text())

	// The triage agent ran itself, so no synthetic routing event appears.
	chunks := sink.Chunks()
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.NotEqual(t, "routing_complete", c.Status)
	}
	last := chunks[len(chunks)-1]
	assert.Equal(t, core.ChunkTypeDone, last.Type)
	for _, c := range chunks[:len(chunks)-1] {
		assert.False(t, c.IsTerminal(), "terminal chunk before end of stream: %+v", c)
	}

	// The committed answer is the last transcript entry.
	msgs := turn.Conversation
	require.NotEmpty(t, msgs)
	assert.Equal(t, core.RoleAssistant, msgs[len(msgs)-1].Role)
	assert.Equal(t, "The answer is 4.", msgs[len(msgs)-1].Content)
}

func TestRun_RoutedTurnEmitsRoutingStatus(t *testing.T) {
	triageRunner := model.NewMockRunner("mock-triage")
	billingRunner := model.NewMockRunner("mock-billing")
	billingRunner.Enqueue(model.Result{Text: "Invoice is settled.", FinishReason: "stop"})

	billing := agent.New("billing", billingRunner, func(o *agent.Options) {
		o.Match = agent.MatchPatterns("invoice")
	})
	triage := agent.New("triage", triageRunner, func(o *agent.Options) {
		o.Handoffs = []string{"billing"}
	})

	wf, err := New(triage, []*agent.Agent{billing}, quietOptions()...)
	require.NoError(t, err)

	turnCtx := core.NewTurnContext("sess")
	sink := core.NewBufferSink()
	turn, err := wf.Run(context.Background(), turnCtx, "question about my invoice", sink)
	require.NoError(t, err)

	assert.Equal(t, "billing", turn.FinalAgent)
	assert.Equal(t, StrategyPatternMatch, turn.Decision.Strategy)
	assert.Empty(t, triageRunner.Requests())

	// The skipped triage agent surfaces as a synthetic routing event and as
	// the head of the handoff chain.
	chunks := sink.Chunks()
	require.NotEmpty(t, chunks)
	assert.Equal(t, core.ChunkTypeStatus, chunks[0].Type)
	assert.Equal(t, "routing_complete", chunks[0].Status)
	assert.Equal(t, "billing", chunks[0].Agent)
	assert.Equal(t, []string{"triage"}, turnCtx.HandoffChain)
}

func TestRun_HandoffToSpecialist(t *testing.T) {
	triageRunner := model.NewMockRunner("mock-triage")
	triageRunner.Enqueue(model.Result{
		Text:         "Routing you to billing.",
		ToolCalls:    []core.ToolCall{handoffCall("h1", "billing", "invoice question")},
		FinishReason: "tool_calls",
	})
	billingRunner := model.NewMockRunner("mock-billing")
	billingRunner.Enqueue(model.Result{Text: "Your invoice is paid.", FinishReason: "stop"})

	triage := agent.New("triage", triageRunner, func(o *agent.Options) {
		o.Handoffs = []string{"billing"}
	})
	billing := agent.New("billing", billingRunner)

	tracker := &collectingTracker{}
	wf, err := New(triage, []*agent.Agent{billing},
		quietOptions(func(o *Options) { o.UsageTracker = tracker })...)
	require.NoError(t, err)

	turnCtx := core.NewTurnContext("sess")
	sink := core.NewBufferSink()
	turn, err := wf.Run(context.Background(), turnCtx, "invoice question", sink)
	require.NoError(t, err)

	assert.Equal(t, "Your invoice is paid.", turn.Response)
	assert.Equal(t, 2, turn.Rounds)
	assert.Equal(t, "billing", turn.FinalAgent)
	assert.Equal(t, []string{"triage"}, turnCtx.HandoffChain)

	// The handing-off agent's text is never committed.
	for _, msg := range turn.Conversation {
		assert.NotEqual(t, "Routing you to billing.", msg.Content)
	}

	// No handoff tool traffic reaches the caller; the transfer surfaces as a
	// status chunk.
	sawHandoffStatus := false
	for _, c := range sink.Chunks() {
		assert.NotEqual(t, tool.HandoffToolName, c.ToolName)
		if c.Type == core.ChunkTypeStatus && c.Status == "handoff:billing" {
			sawHandoffStatus = true
		}
	}
	assert.True(t, sawHandoffStatus)

	// One usage event per invocation; the specialist's event carries the
	// chain including itself, the first agent's carries none.
	events := tracker.Events()
	require.Len(t, events, 2)
	byAgent := map[string]usage.Event{}
	for _, ev := range events {
		byAgent[ev.AgentName] = ev
	}
	assert.Empty(t, byAgent["triage"].HandoffChain)
	assert.Equal(t, []string{"triage", "billing"}, byAgent["billing"].HandoffChain)
	assert.Equal(t, usage.MethodStream, byAgent["billing"].Method)
}

func TestRun_CycleEndsGracefully(t *testing.T) {
	alphaRunner := model.NewMockRunner("mock-alpha")
	alphaRunner.Enqueue(
		model.Result{ToolCalls: []core.ToolCall{handoffCall("h1", "beta", "")}, FinishReason: "tool_calls"},
		model.Result{ToolCalls: []core.ToolCall{handoffCall("h3", "beta", "")}, FinishReason: "tool_calls"},
	)
	betaRunner := model.NewMockRunner("mock-beta")
	betaRunner.Enqueue(
		model.Result{ToolCalls: []core.ToolCall{handoffCall("h2", "alpha", "")}, FinishReason: "tool_calls"},
	)

	alpha := agent.New("alpha", alphaRunner, func(o *agent.Options) { o.Handoffs = []string{"beta"} })
	beta := agent.New("beta", betaRunner, func(o *agent.Options) { o.Handoffs = []string{"alpha"} })

	wf, err := New(alpha, []*agent.Agent{beta}, quietOptions()...)
	require.NoError(t, err)

	sink := core.NewBufferSink()
	turn, err := wf.Run(context.Background(), core.NewTurnContext("sess"), "ping", sink)
	require.NoError(t, err)

	// The repeated target ends the turn without an answer, but cleanly.
	assert.Empty(t, turn.Response)
	assert.Equal(t, 3, turn.Rounds)

	chunks := sink.Chunks()
	last := chunks[len(chunks)-1]
	assert.Equal(t, core.ChunkTypeDone, last.Type)
	sawCycle := false
	for _, c := range chunks {
		if c.Type == core.ChunkTypeStatus && c.Status == "handoff_cycle" {
			sawCycle = true
		}
	}
	assert.True(t, sawCycle)
}

func TestRun_MaxRoundsCapsTheLoop(t *testing.T) {
	triageRunner := model.NewMockRunner("mock-triage")
	triageRunner.Enqueue(model.Result{
		ToolCalls:    []core.ToolCall{handoffCall("h1", "billing", "")},
		FinishReason: "tool_calls",
	})
	billingRunner := model.NewMockRunner("mock-billing")

	triage := agent.New("triage", triageRunner, func(o *agent.Options) { o.Handoffs = []string{"billing"} })
	billing := agent.New("billing", billingRunner)

	wf, err := New(triage, []*agent.Agent{billing},
		quietOptions(func(o *Options) { o.MaxRounds = 1 })...)
	require.NoError(t, err)

	sink := core.NewBufferSink()
	turn, err := wf.Run(context.Background(), core.NewTurnContext("sess"), "hi", sink)
	require.NoError(t, err)

	// The handoff consumed the only round; the target never ran.
	assert.Empty(t, turn.Response)
	assert.Equal(t, 1, turn.Rounds)
	assert.Equal(t, "billing", turn.FinalAgent)
	assert.Empty(t, billingRunner.Requests())
	assert.Equal(t, core.ChunkTypeDone, sink.Chunks()[len(sink.Chunks())-1].Type)
}

func TestRun_InputGuardBlocks(t *testing.T) {
	runner := model.NewMockRunner("mock")
	triage := agent.New("triage", runner)

	guard := guardrail.InputGuardFunc(func(ctx context.Context, turnCtx *core.TurnContext, input string) (guardrail.CheckResult, error) {
		return guardrail.Blocked("policy violation"), nil
	})
	wf, err := New(triage, nil, quietOptions(func(o *Options) {
		o.InputGuards = []guardrail.InputGuard{guard}
	})...)
	require.NoError(t, err)

	sink := core.NewBufferSink()
	_, err = wf.Run(context.Background(), core.NewTurnContext("sess"), "bad input", sink)
	require.Error(t, err)

	var blocked *core.BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, core.BlockStageInput, blocked.Stage)

	// The model never ran; the stream ends with the error marker.
	assert.Empty(t, runner.Requests())
	chunks := sink.Chunks()
	assert.Equal(t, core.ChunkTypeError, chunks[len(chunks)-1].Type)
}

func TestRun_InputGuardModifies(t *testing.T) {
	runner := model.NewMockRunner("mock")
	triage := agent.New("triage", runner)

	guard := guardrail.InputGuardFunc(func(ctx context.Context, turnCtx *core.TurnContext, input string) (guardrail.CheckResult, error) {
		return guardrail.Modified("redacted input"), nil
	})
	wf, err := New(triage, nil, quietOptions(func(o *Options) {
		o.InputGuards = []guardrail.InputGuard{guard}
	})...)
	require.NoError(t, err)

	_, err = wf.Run(context.Background(), core.NewTurnContext("sess"), "secret stuff", core.NewBufferSink())
	require.NoError(t, err)

	reqs := runner.Requests()
	require.Len(t, reqs, 1)
	require.NotEmpty(t, reqs[0].Messages)
	assert.Equal(t, "redacted input", reqs[0].Messages[len(reqs[0].Messages)-1].Content)
}

func TestRun_OutputGuard(t *testing.T) {
	t.Run("modify replaces committed text", func(t *testing.T) {
		runner := model.NewMockRunner("mock")
		runner.Enqueue(model.Result{Text: "raw answer", FinishReason: "stop"})
		triage := agent.New("triage", runner)

		guard := guardrail.OutputGuardFunc(func(ctx context.Context, turnCtx *core.TurnContext, output string) (guardrail.CheckResult, error) {
			return guardrail.Modified("sanitized answer"), nil
		})
		wf, err := New(triage, nil, quietOptions(func(o *Options) {
			o.OutputGuards = []guardrail.OutputGuard{guard}
		})...)
		require.NoError(t, err)

		turn, err := wf.Run(context.Background(), core.NewTurnContext("sess"), "q", core.NewBufferSink())
		require.NoError(t, err)
		assert.Equal(t, "sanitized answer", turn.Response)
	})

	t.Run("block fails the turn", func(t *testing.T) {
		runner := model.NewMockRunner("mock")
		runner.Enqueue(model.Result{Text: "leaked data", FinishReason: "stop"})
		triage := agent.New("triage", runner)

		guard := guardrail.OutputGuardFunc(func(ctx context.Context, turnCtx *core.TurnContext, output string) (guardrail.CheckResult, error) {
			return guardrail.Blocked("contains pii"), nil
		})
		wf, err := New(triage, nil, quietOptions(func(o *Options) {
			o.OutputGuards = []guardrail.OutputGuard{guard}
		})...)
		require.NoError(t, err)

		_, err = wf.Run(context.Background(), core.NewTurnContext("sess"), "q", core.NewBufferSink())
		var blocked *core.BlockedError
		require.ErrorAs(t, err, &blocked)
		assert.Equal(t, core.BlockStageOutput, blocked.Stage)
	})
}

func TestRun_ToolExecution(t *testing.T) {
	echo := tool.NewFunctionTool("echo", "Echo the input.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []string{"text"},
		},
		func(ctx context.Context, turnCtx *core.TurnContext, args map[string]any) (any, error) {
			return args["text"], nil
		})

	runner := model.NewMockRunner("mock")
	runner.Enqueue(
		model.Result{
			ToolCalls:    []core.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"text":"hi"}`}},
			FinishReason: "tool_calls",
		},
		model.Result{Text: "Echoed: hi", FinishReason: "stop"},
	)
	triage := agent.New("triage", runner, func(o *agent.Options) {
		o.Tools = agent.StaticToolset([]tool.Tool{echo})
	})

	wf, err := New(triage, nil, quietOptions()...)
	require.NoError(t, err)

	sink := core.NewBufferSink()
	turn, err := wf.Run(context.Background(), core.NewTurnContext("sess"), "say hi", sink)
	require.NoError(t, err)

	assert.Equal(t, "Echoed: hi", turn.Response)

	// The tool round trip is visible to the caller.
	var sawCall, sawResult bool
	for _, c := range sink.Chunks() {
		if c.Type == core.ChunkTypeToolCall && c.ToolName == "echo" {
			sawCall = true
		}
		if c.Type == core.ChunkTypeToolResult && c.ToolName == "echo" {
			sawResult = true
			assert.Equal(t, "hi", c.Result)
		}
	}
	assert.True(t, sawCall)
	assert.True(t, sawResult)

	// The second model call saw the tool result message.
	reqs := runner.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, core.RoleTool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
}

func TestRun_ToolGuardDeniesCall(t *testing.T) {
	secret := tool.NewFunctionTool("read_secret", "Read a secret.", nil,
		func(ctx context.Context, turnCtx *core.TurnContext, args map[string]any) (any, error) {
			t.Fatal("denied tool must not run")
			return nil, nil
		})

	runner := model.NewMockRunner("mock")
	runner.Enqueue(
		model.Result{
			ToolCalls:    []core.ToolCall{{ID: "c1", Name: "read_secret", Arguments: `{}`}},
			FinishReason: "tool_calls",
		},
		model.Result{Text: "I cannot access that.", FinishReason: "stop"},
	)
	triage := agent.New("triage", runner, func(o *agent.Options) {
		o.Tools = agent.StaticToolset([]tool.Tool{secret})
	})

	denyAll := toolGuardFunc{
		call: func(call core.ToolCall) guardrail.CheckResult {
			return guardrail.Blocked("not allowed")
		},
	}
	wf, err := New(triage, nil, quietOptions(func(o *Options) { o.ToolGuard = denyAll })...)
	require.NoError(t, err)

	sink := core.NewBufferSink()
	turn, err := wf.Run(context.Background(), core.NewTurnContext("sess"), "read it", sink)
	require.NoError(t, err)

	// The denial flows back to the model as an error payload and the agent
	// recovers with a direct answer.
	assert.Equal(t, "I cannot access that.", turn.Response)

	var sawDenial bool
	for _, c := range sink.Chunks() {
		if c.Type == core.ChunkTypeToolResult && c.ToolName == "read_secret" {
			payload, ok := c.Result.(map[string]any)
			require.True(t, ok)
			assert.Contains(t, payload["error"], "denied")
			sawDenial = true
		}
	}
	assert.True(t, sawDenial)
}

// toolGuardFunc is a minimal ToolGuard for tests.
type toolGuardFunc struct {
	call   func(call core.ToolCall) guardrail.CheckResult
	result func(call core.ToolCall, result any) guardrail.CheckResult
}

func (g toolGuardFunc) CheckToolCall(_ context.Context, _ *core.TurnContext, call core.ToolCall) (guardrail.CheckResult, error) {
	if g.call == nil {
		return guardrail.Allowed(), nil
	}
	return g.call(call), nil
}

func (g toolGuardFunc) CheckToolResult(_ context.Context, _ *core.TurnContext, call core.ToolCall, result any) (guardrail.CheckResult, error) {
	if g.result == nil {
		return guardrail.Allowed(), nil
	}
	return g.result(call, result), nil
}

func TestRun_MemoryRoundtrip(t *testing.T) {
	provider := memory.NewInMemoryProvider()
	require.NoError(t, provider.SaveWorkingMemory(context.Background(), memory.ScopeSession, "sess-m", "Customer prefers German."))

	runner := model.NewMockRunner("mock")
	runner.Enqueue(model.Result{Text: "Alles klar.", FinishReason: "stop"})
	triage := agent.New("triage", runner)

	wf, err := New(triage, nil, quietOptions(func(o *Options) { o.Memory = provider })...)
	require.NoError(t, err)

	turnCtx := core.NewTurnContext("sess-m")
	_, err = wf.Run(context.Background(), turnCtx, "hallo", core.NewBufferSink(),
		func(o *RunOptions) { o.ConversationID = "conv-1" })
	require.NoError(t, err)

	// Working memory reached the system prompt.
	reqs := runner.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "Customer prefers German.")

	// Input and committed answer were persisted.
	history, err := provider.LoadHistory(context.Background(), "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, "hallo", history[0].Content)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
	assert.Equal(t, "Alles klar.", history[1].Content)
}

func TestRun_AgentMaintainsWorkingMemory(t *testing.T) {
	provider := memory.NewInMemoryProvider()

	runner := model.NewMockRunner("mock")
	runner.Enqueue(
		model.Result{
			ToolCalls: []core.ToolCall{{
				ID:        "m1",
				Name:      tool.MemoryToolName,
				Arguments: `{"scope":"user","content":"Prefers email follow-ups."}`,
			}},
			FinishReason: "tool_calls",
		},
		model.Result{Text: "Noted.", FinishReason: "stop"},
	)
	triage := agent.New("triage", runner)

	wf, err := New(triage, nil, quietOptions(func(o *Options) { o.Memory = provider })...)
	require.NoError(t, err)

	turnCtx := core.NewTurnContext("sess-m")
	turnCtx.UserID = "user-1"
	turn, err := wf.Run(context.Background(), turnCtx, "remember my preference", core.NewBufferSink())
	require.NoError(t, err)
	assert.Equal(t, "Noted.", turn.Response)

	// The staged note was persisted after the loop terminated.
	note, err := provider.LoadWorkingMemory(context.Background(), memory.ScopeUser, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Prefers email follow-ups.", note)

	// The note shows up in the next turn's instructions.
	runner.Enqueue(model.Result{Text: "Will do.", FinishReason: "stop"})
	nextCtx := core.NewTurnContext("sess-m")
	nextCtx.UserID = "user-1"
	_, err = wf.Run(context.Background(), nextCtx, "follow up please", core.NewBufferSink())
	require.NoError(t, err)

	reqs := runner.Requests()
	last := reqs[len(reqs)-1]
	assert.Contains(t, last.Instructions, "Prefers email follow-ups.")
}

func TestRun_ModelFailureEmitsErrorChunk(t *testing.T) {
	runner := model.NewMockRunner("mock")
	runner.Fail(errors.New("provider down"))
	triage := agent.New("triage", runner)

	wf, err := New(triage, nil, quietOptions()...)
	require.NoError(t, err)

	sink := core.NewBufferSink()
	_, err = wf.Run(context.Background(), core.NewTurnContext("sess"), "hi", sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")

	chunks := sink.Chunks()
	require.NotEmpty(t, chunks)
	assert.Equal(t, core.ChunkTypeError, chunks[len(chunks)-1].Type)
}

func TestNew_Validation(t *testing.T) {
	runner := model.NewMockRunner("mock")

	_, err := New(nil, nil)
	assert.Error(t, err)

	a := agent.New("dup", runner)
	b := agent.New("dup", runner)
	_, err = New(a, []*agent.Agent{b})
	assert.ErrorContains(t, err, "duplicate")

	dangling := agent.New("triage", runner, func(o *agent.Options) { o.Handoffs = []string{"ghost"} })
	_, err = New(dangling, nil)
	assert.ErrorContains(t, err, "unknown agent")
}
