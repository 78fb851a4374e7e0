// Package agentrelay provides a high-level façade over the workflow engine
// for building multi-agent systems with rule-based and model-driven routing.
// Most applications interact with this package by:
//  1. Creating agents via agent.New, each bound to a model runner
//  2. Creating a Relay via New() around a triage agent and its specialists
//  3. Running turns synchronously (Run) or with a live chunk stream (RunStream)
//
// The façade delegates orchestration to workflow.Workflow while keeping setup
// ergonomics concise. All defaults are safe for local development; production
// deployments typically supply a durable memory provider and a structured
// logger.
package agentrelay

import (
	"context"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/memory"
	"github.com/hupe1980/agentrelay/usage"
	"github.com/hupe1980/agentrelay/workflow"
)

// Options configure the Relay instance.
type Options struct {
	// Memory persists conversation history and working memory. Defaults to an
	// in-memory provider.
	Memory memory.Provider

	// Logger receives engine diagnostics. Defaults to the NoOp logger.
	Logger logging.Logger

	// UsageTracker receives one event per agent invocation.
	UsageTracker usage.Tracker

	// Streaming selects the chunked model calling convention.
	Streaming bool

	// MaxRounds caps agent activations per turn. Zero means the engine
	// default.
	MaxRounds int

	// WorkflowOptions applies overrides directly on the underlying engine
	// options for concerns not surfaced here (guards, filters, callbacks).
	WorkflowOptions []func(o *workflow.Options)
}

// Relay is the high-level façade around one workflow.
type Relay struct {
	opts Options
	wf   *workflow.Workflow
}

// New creates a Relay around a triage agent and its specialists. Any unset
// service is initialized with an in-memory implementation.
func New(triage *agent.Agent, specialists []*agent.Agent, optFns ...func(o *Options)) (*Relay, error) {
	opts := Options{
		Memory: memory.NewInMemoryProvider(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	fns := append([]func(o *workflow.Options){func(o *workflow.Options) {
		o.Memory = opts.Memory
		o.Logger = opts.Logger
		o.UsageTracker = opts.UsageTracker
		o.Streaming = opts.Streaming
		o.MaxRounds = opts.MaxRounds
	}}, opts.WorkflowOptions...)

	wf, err := workflow.New(triage, specialists, fns...)
	if err != nil {
		return nil, err
	}
	return &Relay{opts: opts, wf: wf}, nil
}

// Workflow exposes the underlying engine for advanced use.
func (r *Relay) Workflow() *workflow.Workflow { return r.wf }

// Run executes one turn synchronously and returns the outcome. Chunks are
// buffered internally; use RunStream for live output.
func (r *Relay) Run(ctx context.Context, turnCtx *core.TurnContext, input string, optFns ...func(o *workflow.RunOptions)) (*workflow.Turn, error) {
	return r.wf.Run(ctx, turnCtx, input, core.NewBufferSink(), optFns...)
}

// RunStream executes one turn, forwarding chunks onto the returned channel as
// they arrive. The chunk channel closes after the terminal chunk; the error
// channel delivers at most one error and closes with the turn.
func (r *Relay) RunStream(ctx context.Context, turnCtx *core.TurnContext, input string, optFns ...func(o *workflow.RunOptions)) (<-chan core.Chunk, <-chan error) {
	out := make(chan core.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)
		if _, err := r.wf.Run(ctx, turnCtx, input, core.NewChannelSink(out), optFns...); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}
