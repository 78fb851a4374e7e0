package core

// TurnContext is the per-turn execution context. The caller seeds it with
// identifiers and arbitrary values; the engine adds the handoff chain and an
// optional memory addition at turn start. It is created once per turn, passed
// by reference through every round and never shared across turns, so no
// locking is required.
type TurnContext struct {
	SessionID string
	UserID    string

	// HandoffChain lists the agents that have run during this turn, in order.
	// Owned by the engine; appended on every handoff.
	HandoffChain []string

	// MemoryAddition is working-memory text injected into the next resolved
	// system prompt. Owned by the engine.
	MemoryAddition string

	values map[string]any

	// memoryStaged holds working-memory updates gathered during the turn,
	// keyed by scope. The engine persists them after the loop terminates; it
	// never writes working memory mid-round.
	memoryStaged map[string]string
}

// NewTurnContext builds a context for one turn of the given session.
func NewTurnContext(sessionID string) *TurnContext {
	return &TurnContext{SessionID: sessionID, values: map[string]any{}}
}

// Set stores a caller-defined value under key.
func (tc *TurnContext) Set(key string, v any) { tc.values[key] = v }

// Value returns the caller-defined value for key.
func (tc *TurnContext) Value(key string) (any, bool) {
	v, ok := tc.values[key]
	return v, ok
}

// StageMemory records a working-memory update for scope, replacing any
// update staged earlier this turn for the same scope.
func (tc *TurnContext) StageMemory(scope, note string) {
	if tc.memoryStaged == nil {
		tc.memoryStaged = map[string]string{}
	}
	tc.memoryStaged[scope] = note
}

// StagedMemory returns the working-memory updates staged during this turn,
// keyed by scope.
func (tc *TurnContext) StagedMemory() map[string]string { return tc.memoryStaged }

// AppendHandoff records that agent name has run. Idempotent when name is
// already the last entry, so repeated transfer bookkeeping cannot duplicate
// the tail of the chain.
func (tc *TurnContext) AppendHandoff(name string) {
	if n := len(tc.HandoffChain); n > 0 && tc.HandoffChain[n-1] == name {
		return
	}
	tc.HandoffChain = append(tc.HandoffChain, name)
}

// ChainWith returns a copy of the handoff chain with name appended, applying
// the same dedup rule as AppendHandoff. Used for usage attribution, where an
// event reports the agents visited so far including the reporting agent.
func (tc *TurnContext) ChainWith(name string) []string {
	out := make([]string, len(tc.HandoffChain))
	copy(out, tc.HandoffChain)
	if n := len(out); n > 0 && out[n-1] == name {
		return out
	}
	return append(out, name)
}
