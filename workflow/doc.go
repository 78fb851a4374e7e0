// Package workflow implements the orchestration engine: the routing resolver
// that picks the starting agent for a turn, the round-based handoff state
// machine, the stream multiplexer that hides control traffic from the caller,
// and the handoff transfer that rewrites history between agents.
//
// One Workflow value serves many concurrent turns; all per-turn state lives
// in the TurnContext and Conversation created per Run call.
package workflow
