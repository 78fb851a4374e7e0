package agent

import "github.com/hupe1980/agentrelay/core"

// InstructionProvider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from turn values, time of day, etc.
type InstructionProvider interface {
	Instruction(*core.TurnContext) (string, error)
}

// InstructionFunc is a functional adapter to allow ordinary functions to be
// used as InstructionProviders.
type InstructionFunc func(*core.TurnContext) (string, error)

// Instruction implements InstructionProvider.
func (f InstructionFunc) Instruction(tc *core.TurnContext) (string, error) { return f(tc) }

// Instruction represents either a static instruction string or a dynamic
// provider. This mirrors a union of string | provider in a Go-idiomatic way.
type Instruction struct {
	text     string
	provider InstructionProvider
}

// StaticInstruction creates an Instruction from a fixed string.
func StaticInstruction(text string) Instruction { return Instruction{text: text} }

// DerivedInstruction creates an Instruction resolved per round from the turn
// context.
func DerivedInstruction(f func(*core.TurnContext) (string, error)) Instruction {
	return Instruction{provider: InstructionFunc(f)}
}

// InstructionFromProvider creates an Instruction from a provider value.
func InstructionFromProvider(p InstructionProvider) Instruction { return Instruction{provider: p} }

// IsStatic reports whether the instruction is backed by a fixed string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(tc *core.TurnContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(tc)
	}
	return i.text, nil
}
