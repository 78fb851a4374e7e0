// Package agent defines the immutable description of one workflow
// participant: its instructions, tool set, model runner, routing match rule
// and the names of the agents it may hand off to. An Agent carries no
// per-turn state and is safe to share across concurrent turns.
package agent

import (
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
)

// Options configure an Agent instance. Use functional options with New to
// override defaults.
type Options struct {
	// Description is surfaced to sibling agents deciding whether to hand off.
	Description string
	// Instructions is the system prompt, static or derived per round.
	Instructions Instruction
	// Tools is the agent's tool set, static or derived per round.
	Tools Toolset
	// Handoffs lists the names of agents this agent may transfer to.
	// Targets are resolved by name at transfer time, so mutually referencing
	// agents need no object cycle.
	Handoffs []string
	// TurnLimit caps model iterations (generate, run tools, generate again)
	// within a single round.
	TurnLimit int
	// WindowSize caps the trailing message window sent to the model. Zero
	// lets the workflow pick a policy default: agents with handoff targets
	// get a wider window than leaf specialists.
	WindowSize int
	// Match is the routing rule evaluated against the normalized user input.
	Match MatchRule
}

// Agent is an immutable workflow participant definition.
type Agent struct {
	name         string
	description  string
	instructions Instruction
	tools        Toolset
	runner       model.Runner
	handoffs     []string
	turnLimit    int
	windowSize   int
	match        MatchRule
}

// DefaultTurnLimit bounds model iterations within one round when no limit is
// configured.
const DefaultTurnLimit = 4

// New constructs an Agent bound to a model runner.
func New(name string, runner model.Runner, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Description:  "Agent " + name,
		Instructions: StaticInstruction("You are " + name + ", a helpful assistant."),
		Tools:        StaticToolset(nil),
		TurnLimit:    DefaultTurnLimit,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &Agent{
		name:         name,
		description:  opts.Description,
		instructions: opts.Instructions,
		tools:        opts.Tools,
		runner:       runner,
		turnLimit:    opts.TurnLimit,
		windowSize:   opts.WindowSize,
		match:        opts.Match,
	}
	a.handoffs = append(a.handoffs, opts.Handoffs...)
	return a
}

// Name returns the unique agent name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent's purpose summary.
func (a *Agent) Description() string { return a.description }

// Runner returns the model runner handle.
func (a *Agent) Runner() model.Runner { return a.runner }

// Handoffs returns a copy of the handoff target names.
func (a *Agent) Handoffs() []string {
	out := make([]string, len(a.handoffs))
	copy(out, a.handoffs)
	return out
}

// CanHandOff reports whether the agent has any handoff targets.
func (a *Agent) CanHandOff() bool { return len(a.handoffs) > 0 }

// TurnLimit returns the per-round model iteration cap.
func (a *Agent) TurnLimit() int { return a.turnLimit }

// WindowSize returns the configured message window, 0 meaning policy default.
func (a *Agent) WindowSize() int { return a.windowSize }

// Match returns the routing match rule.
func (a *Agent) Match() MatchRule { return a.match }

// HasTool reports whether the agent's tool set carries the named tool.
// Derived tool sets are resolved with a nil turn context for this check.
func (a *Agent) HasTool(name string) bool { return a.tools.Contains(name) }

// ResolveInstructions produces the system prompt for the current round.
// Derived instructions are re-resolved every round; a pending memory addition
// on the turn context is appended so working memory reaches the model.
func (a *Agent) ResolveInstructions(turnCtx *core.TurnContext) (string, error) {
	text, err := a.instructions.Resolve(turnCtx)
	if err != nil {
		return "", err
	}
	if turnCtx != nil && turnCtx.MemoryAddition != "" {
		text += "\n\n# Working memory\n" + turnCtx.MemoryAddition
	}
	return text, nil
}

// ResolveTools produces the tool set for the current round keyed by name.
func (a *Agent) ResolveTools(turnCtx *core.TurnContext) (map[string]tool.Tool, error) {
	return a.tools.Resolve(turnCtx)
}
