package workflow

import (
	"strings"

	"github.com/hupe1980/agentrelay/agent"
)

// Strategy names the routing rule that selected the starting agent.
type Strategy string

const (
	// StrategyExplicit means the caller named the agent directly.
	StrategyExplicit Strategy = "explicit"
	// StrategyToolChoice means the caller named a tool and the resolver
	// picked the agent carrying it.
	StrategyToolChoice Strategy = "tool-choice"
	// StrategyPatternMatch means a match rule won the pattern scoring.
	StrategyPatternMatch Strategy = "pattern-match"
	// StrategyModelDriven means the triage agent runs and any further
	// routing happens through a model-issued handoff tool call.
	StrategyModelDriven Strategy = "model-driven"
	// StrategyNone means no rule applied and no handoff targets exist.
	StrategyNone Strategy = "none"
)

// RoutingDecision is the ephemeral result of the routing resolver.
type RoutingDecision struct {
	Agent    *agent.Agent
	Strategy Strategy
	Reason   string
}

// route decides the starting agent for a turn. Rules apply in priority
// order; a rule that does not match falls through to the next.
func (w *Workflow) route(input, explicitAgent, toolName string) RoutingDecision {
	candidates := w.handoffCandidates(w.triage)

	// Rule 1: explicit choice. An unknown name is ignored, not an error.
	if explicitAgent != "" {
		for _, cand := range candidates {
			if cand.Name() == explicitAgent {
				return RoutingDecision{Agent: cand, Strategy: StrategyExplicit, Reason: "caller named agent " + explicitAgent}
			}
		}
		w.logger.Warn("explicit routing choice not a handoff target", "agent", explicitAgent)
	}

	// Rule 2: tool choice.
	if toolName != "" {
		for _, cand := range candidates {
			if cand.HasTool(toolName) {
				return RoutingDecision{Agent: cand, Strategy: StrategyToolChoice, Reason: "caller named tool " + toolName}
			}
		}
		w.logger.Warn("no handoff target carries requested tool", "tool", toolName)
	}

	// Rule 3: pattern match over the normalized input. Predicate rules
	// short-circuit; otherwise the highest score > 0 wins, ties broken by
	// declaration order.
	normalized := normalizeInput(input)
	var best *agent.Agent
	bestScore := 0
	for _, cand := range candidates {
		rule := cand.Match()
		if rule.IsZero() {
			continue
		}
		score := rule.Score(normalized)
		if score >= agent.PredicateScore {
			return RoutingDecision{Agent: cand, Strategy: StrategyPatternMatch, Reason: "predicate matched"}
		}
		if score > bestScore {
			best, bestScore = cand, score
		}
	}
	if best != nil {
		return RoutingDecision{Agent: best, Strategy: StrategyPatternMatch, Reason: "pattern score won"}
	}

	// Rule 4: no match. The triage agent runs and relies on a model-issued
	// handoff during generation.
	if len(candidates) > 0 {
		return RoutingDecision{Agent: w.triage, Strategy: StrategyModelDriven, Reason: "no routing rule matched"}
	}
	return RoutingDecision{Agent: w.triage, Strategy: StrategyNone, Reason: "no handoff targets"}
}

// handoffCandidates resolves an agent's handoff target names against the
// registry, preserving declaration order and skipping unknown names.
func (w *Workflow) handoffCandidates(a *agent.Agent) []*agent.Agent {
	targets := a.Handoffs()
	out := make([]*agent.Agent, 0, len(targets))
	for _, name := range targets {
		if cand, ok := w.agents[name]; ok {
			out = append(out, cand)
		}
	}
	return out
}

// normalizeInput lowercases, strips digits and trims whitespace before
// matching.
func normalizeInput(input string) string {
	lowered := strings.ToLower(input)
	stripped := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return -1
		}
		return r
	}, lowered)
	return strings.TrimSpace(stripped)
}
