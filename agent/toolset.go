package agent

import (
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/tool"
)

// Toolset represents either a static tool map or one derived from the turn
// context per round, mirroring the static-or-derived shape of Instruction.
type Toolset struct {
	tools    map[string]tool.Tool
	provider func(*core.TurnContext) (map[string]tool.Tool, error)
}

// StaticToolset creates a Toolset from fixed tools, keyed by tool name.
func StaticToolset(tools []tool.Tool) Toolset {
	m := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		m[t.Name()] = t
	}
	return Toolset{tools: m}
}

// DerivedToolset creates a Toolset resolved per round from the turn context.
func DerivedToolset(f func(*core.TurnContext) (map[string]tool.Tool, error)) Toolset {
	return Toolset{provider: f}
}

// IsStatic reports whether the tool set is fixed.
func (s Toolset) IsStatic() bool { return s.provider == nil }

// Resolve returns the tool map for the current round. The returned map is a
// copy; callers may add engine-owned tools without mutating the definition.
func (s Toolset) Resolve(tc *core.TurnContext) (map[string]tool.Tool, error) {
	src := s.tools
	if s.provider != nil {
		resolved, err := s.provider(tc)
		if err != nil {
			return nil, err
		}
		src = resolved
	}
	out := make(map[string]tool.Tool, len(src))
	for name, t := range src {
		out[name] = t
	}
	return out, nil
}

// Contains reports whether the static tool set carries the named tool.
// Derived tool sets are resolved with a nil context; a resolution error
// counts as absence, since routing must not fail the turn.
func (s Toolset) Contains(name string) bool {
	tools, err := s.Resolve(nil)
	if err != nil {
		return false
	}
	_, ok := tools[name]
	return ok
}
