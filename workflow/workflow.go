package workflow

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/guardrail"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/memory"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/usage"
)

const (
	// DefaultMaxRounds caps agent activations per turn when unconfigured.
	DefaultMaxRounds = 8
	// DefaultHistoryLimit bounds loaded conversation history per turn.
	DefaultHistoryLimit = 40
	// Default trailing message windows. Agents that can hand off keep more
	// context than leaf specialists.
	defaultWindowHandoff = 16
	defaultWindowLeaf    = 8
	// defaultChunkBuffer sizes the raw chunk channel between the invoker and
	// the multiplexer.
	defaultChunkBuffer = 64
)

// Options configure a Workflow. Use functional options with New to override
// defaults.
type Options struct {
	// Logger receives engine diagnostics. Defaults to slog via the logging
	// package.
	Logger logging.Logger
	// Memory persists conversation history and working memory. Nil disables
	// persistence.
	Memory memory.Provider
	// InputGuards run against the user input before the first round.
	InputGuards []guardrail.InputGuard
	// OutputGuards run against the final assistant text before it is
	// committed.
	OutputGuards []guardrail.OutputGuard
	// ToolGuard runs before and after every tool execution.
	ToolGuard guardrail.ToolGuard
	// FailOnToolDenial turns a blocked tool call into a turn failure instead
	// of an error payload the model can react to.
	FailOnToolDenial bool
	// UsageTracker receives one event per agent invocation. Nil falls back to
	// the process-wide tracker.
	UsageTracker usage.Tracker
	// InputFilters rewrite history on handoff, keyed by target agent name or
	// by EdgeKey(from, to) for a single edge.
	InputFilters map[string]InputFilter
	// HandoffCallbacks observe completed transfers, keyed like InputFilters.
	HandoffCallbacks map[string]HandoffCallback
	// MaxRounds caps agent activations per turn.
	MaxRounds int
	// HistoryLimit bounds the history loaded from the memory provider.
	HistoryLimit int
	// Streaming selects the chunked model calling convention. Off, the engine
	// uses one-shot completion and synthesizes the stream.
	Streaming bool
}

// Workflow is the orchestration engine: it routes a turn to a starting agent
// and drives the round loop until an agent answers without handing off. A
// Workflow is immutable after New and safe for concurrent turns.
type Workflow struct {
	triage           *agent.Agent
	agents           map[string]*agent.Agent
	logger           logging.Logger
	memory           memory.Provider
	inputGuards      []guardrail.InputGuard
	outputGuards     []guardrail.OutputGuard
	toolGuard        guardrail.ToolGuard
	failOnToolDenial bool
	usage            *usage.Pipeline
	inputFilters     map[string]InputFilter
	handoffCallbacks map[string]HandoffCallback
	maxRounds        int
	historyLimit     int
	streaming        bool
	chunkBuffer      int
}

// New builds a workflow around a triage agent and its specialists. Every
// agent name must be unique; handoff targets naming an unregistered agent are
// rejected.
func New(triage *agent.Agent, specialists []*agent.Agent, optFns ...func(o *Options)) (*Workflow, error) {
	if triage == nil {
		return nil, fmt.Errorf("triage agent is required")
	}

	opts := Options{
		Logger:       logging.NewDefaultSlogLogger(),
		MaxRounds:    DefaultMaxRounds,
		HistoryLimit: DefaultHistoryLimit,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}

	registry := map[string]*agent.Agent{triage.Name(): triage}
	for _, sp := range specialists {
		if sp == nil {
			continue
		}
		if _, exists := registry[sp.Name()]; exists {
			return nil, fmt.Errorf("duplicate agent name %q", sp.Name())
		}
		registry[sp.Name()] = sp
	}

	all := append([]*agent.Agent{triage}, specialists...)
	for _, ag := range all {
		if ag == nil {
			continue
		}
		for _, target := range ag.Handoffs() {
			if _, ok := registry[target]; !ok {
				return nil, fmt.Errorf("agent %q hands off to unknown agent %q", ag.Name(), target)
			}
		}
	}

	return &Workflow{
		triage:           triage,
		agents:           registry,
		logger:           opts.Logger,
		memory:           opts.Memory,
		inputGuards:      opts.InputGuards,
		outputGuards:     opts.OutputGuards,
		toolGuard:        opts.ToolGuard,
		failOnToolDenial: opts.FailOnToolDenial,
		usage:            usage.NewPipeline(opts.UsageTracker, opts.Logger),
		inputFilters:     opts.InputFilters,
		handoffCallbacks: opts.HandoffCallbacks,
		maxRounds:        opts.MaxRounds,
		historyLimit:     opts.HistoryLimit,
		streaming:        opts.Streaming,
		chunkBuffer:      defaultChunkBuffer,
	}, nil
}

// RunOptions configure a single turn.
type RunOptions struct {
	// AgentName routes the turn to a specific handoff target of the triage
	// agent, bypassing pattern matching.
	AgentName string
	// ToolName routes the turn to the first handoff target carrying the tool.
	ToolName string
	// ConversationID keys persisted history. Empty disables history
	// persistence for the turn even when a memory provider is configured;
	// working-memory notes staged by agents are saved regardless.
	ConversationID string
	// OnFinish observes every streaming model result of the turn, alongside
	// usage tracking. Ignored in one-shot mode.
	OnFinish func(model.Result)
}

// Turn is the outcome of one workflow run.
type Turn struct {
	// Response is the committed final assistant text. Empty when the loop
	// terminated without a direct answer (round cap or handoff cycle).
	Response string
	// Conversation is the transcript as the loop left it.
	Conversation []core.Message
	// Rounds counts agent activations.
	Rounds int
	// FinalAgent names the last agent that held control.
	FinalAgent string
	// Decision records how the starting agent was selected.
	Decision RoutingDecision
}

// Run executes one turn: guard the input, load memory, route, drive the
// round loop and persist the outcome. Chunks stream to sink as they arrive;
// exactly one terminal chunk (done or error) closes the stream.
func (w *Workflow) Run(ctx context.Context, turnCtx *core.TurnContext, input string, sink core.Sink, optFns ...func(o *RunOptions)) (*Turn, error) {
	var opts RunOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if turnCtx == nil {
		turnCtx = core.NewTurnContext(core.NewID())
	}
	if sink == nil {
		sink = core.SinkFunc(func(core.Chunk) error { return nil })
	}

	input, err := w.checkInput(ctx, turnCtx, input)
	if err != nil {
		w.writeSink(sink, core.ErrorChunk(w.triage.Name(), err))
		return nil, err
	}

	history := w.loadMemory(ctx, turnCtx, opts.ConversationID)
	conv := core.NewConversation(history...)
	conv.Append(core.UserMessage(input))

	decision := w.route(input, opts.AgentName, opts.ToolName)
	w.logger.Info("turn routed",
		"session", turnCtx.SessionID,
		"agent", decision.Agent.Name(),
		"strategy", string(decision.Strategy),
	)
	if decision.Agent != w.triage {
		// Synthetic event for routed turns: observers see the triage agent as
		// having run for zero rounds. The chain still records where control
		// conceptually started.
		w.writeSink(sink, core.StatusChunk(decision.Agent.Name(), "routing_complete"))
		turnCtx.AppendHandoff(w.triage.Name())
	}

	turn := &Turn{Decision: decision}
	current := decision.Agent
	used := map[string]bool{}

	for round := 1; round <= w.maxRounds; round++ {
		turn.Rounds = round

		raw, errCh := w.invokeAgent(ctx, turnCtx, current, conv.Window(w.windowFor(current)), opts.OnFinish)
		res, err := w.drainStream(raw, errCh, sink)
		if err != nil {
			w.writeSink(sink, core.ErrorChunk(current.Name(), err))
			return nil, err
		}

		if res.Handoff == nil {
			text, err := w.checkOutput(ctx, turnCtx, res.Text)
			if err != nil {
				w.writeSink(sink, core.ErrorChunk(current.Name(), err))
				return nil, err
			}
			conv.Append(core.AssistantMessage(text))
			turn.Response = text
			break
		}

		target, ok := w.agents[res.Handoff.Target]
		if !ok {
			err := &core.UnknownAgentError{Name: res.Handoff.Target}
			w.writeSink(sink, core.ErrorChunk(current.Name(), err))
			return nil, err
		}
		if used[target.Name()] {
			w.logger.Warn("handoff cycle detected, ending turn",
				"session", turnCtx.SessionID,
				"from", current.Name(),
				"to", target.Name(),
			)
			w.writeSink(sink, core.StatusChunk(current.Name(), "handoff_cycle"))
			break
		}
		used[target.Name()] = true

		w.transfer(turnCtx, conv, current.Name(), *res.Handoff, res.ToolResults)
		w.writeSink(sink, core.StatusChunk(target.Name(), "handoff:"+target.Name()))

		if round == w.maxRounds {
			w.logger.Warn("round cap reached, ending turn",
				"session", turnCtx.SessionID,
				"rounds", round,
			)
		}
		current = target
	}

	turn.FinalAgent = current.Name()
	turn.Conversation = conv.Messages()

	w.writeSink(sink, core.DoneChunk(current.Name()))
	w.saveMemory(ctx, turnCtx, opts.ConversationID, input, turn.Response)

	return turn, nil
}

// checkInput runs the input guards in order. A Modify verdict rewrites the
// input for every subsequent guard and the turn itself.
func (w *Workflow) checkInput(ctx context.Context, turnCtx *core.TurnContext, input string) (string, error) {
	for _, g := range w.inputGuards {
		verdict, err := g.CheckInput(ctx, turnCtx, input)
		if err != nil {
			return "", fmt.Errorf("input guard: %w", err)
		}
		switch verdict.Decision {
		case guardrail.Block:
			return "", &core.BlockedError{Stage: core.BlockStageInput, Reason: verdict.Reason}
		case guardrail.Modify:
			input = verdict.Replacement
		}
	}
	return input, nil
}

// checkOutput runs the output guards against the final assistant text.
func (w *Workflow) checkOutput(ctx context.Context, turnCtx *core.TurnContext, output string) (string, error) {
	for _, g := range w.outputGuards {
		verdict, err := g.CheckOutput(ctx, turnCtx, output)
		if err != nil {
			return "", fmt.Errorf("output guard: %w", err)
		}
		switch verdict.Decision {
		case guardrail.Block:
			return "", &core.BlockedError{Stage: core.BlockStageOutput, Reason: verdict.Reason}
		case guardrail.Modify:
			output = verdict.Replacement
		}
	}
	return output, nil
}

// loadMemory fetches conversation history and working memory before the
// first round. Provider failures are logged, never fatal: a turn without
// memory is degraded, not broken.
func (w *Workflow) loadMemory(ctx context.Context, turnCtx *core.TurnContext, conversationID string) []core.Message {
	if w.memory == nil {
		return nil
	}

	var history []core.Message
	if conversationID != "" {
		msgs, err := w.memory.LoadHistory(ctx, conversationID, w.historyLimit)
		if err != nil {
			w.logger.Warn("history load failed", "conversation", conversationID, "error", err)
		} else {
			history = msgs
		}
	}

	var addition string
	if turnCtx.SessionID != "" {
		note, err := w.memory.LoadWorkingMemory(ctx, memory.ScopeSession, turnCtx.SessionID)
		if err != nil {
			w.logger.Warn("working memory load failed", "scope", memory.ScopeSession, "error", err)
		} else if note != "" {
			addition = note
		}
	}
	if turnCtx.UserID != "" {
		note, err := w.memory.LoadWorkingMemory(ctx, memory.ScopeUser, turnCtx.UserID)
		if err != nil {
			w.logger.Warn("working memory load failed", "scope", memory.ScopeUser, "error", err)
		} else if note != "" {
			if addition != "" {
				addition += "\n"
			}
			addition += note
		}
	}
	if addition != "" {
		turnCtx.MemoryAddition = addition
	}

	return history
}

// saveMemory persists the turn's outcome after the loop: working-memory
// notes the agents staged during their rounds, then the user input and the
// committed answer. Failures are logged.
func (w *Workflow) saveMemory(ctx context.Context, turnCtx *core.TurnContext, conversationID, input, response string) {
	if w.memory == nil {
		return
	}

	for scope, note := range turnCtx.StagedMemory() {
		var id string
		switch scope {
		case memory.ScopeSession:
			id = turnCtx.SessionID
		case memory.ScopeUser:
			id = turnCtx.UserID
		}
		if id == "" {
			w.logger.Warn("working memory update dropped, no id for scope", "scope", scope)
			continue
		}
		if err := w.memory.SaveWorkingMemory(ctx, scope, id, note); err != nil {
			w.logger.Warn("working memory save failed", "scope", scope, "error", err)
		}
	}

	if conversationID == "" {
		return
	}
	if err := w.memory.SaveMessage(ctx, conversationID, core.UserMessage(input)); err != nil {
		w.logger.Warn("message save failed", "conversation", conversationID, "error", err)
	}
	if response == "" {
		return
	}
	if err := w.memory.SaveMessage(ctx, conversationID, core.AssistantMessage(response)); err != nil {
		w.logger.Warn("message save failed", "conversation", conversationID, "error", err)
	}
}

// windowFor picks the trailing message window for an agent, applying the
// policy default when the agent does not configure one.
func (w *Workflow) windowFor(ag *agent.Agent) int {
	if n := ag.WindowSize(); n > 0 {
		return n
	}
	if ag.CanHandOff() {
		return defaultWindowHandoff
	}
	return defaultWindowLeaf
}

// writeSink forwards an orchestration chunk, logging a refusal instead of
// failing the turn.
func (w *Workflow) writeSink(sink core.Sink, c core.Chunk) {
	if err := sink.Write(c); err != nil {
		w.logger.Warn("sink rejected chunk", "type", string(c.Type), "error", err)
	}
}
