// Package memory defines the persistence collaborator of the orchestration
// engine: conversation history plus durable working memory. The engine loads
// before the first round and saves after the loop terminates; it never calls
// the provider mid-round.
package memory

import (
	"context"

	"github.com/hupe1980/agentrelay/core"
)

// Provider persists conversation transcripts and working-memory notes.
// Implementations must be safe for concurrent use across turns.
type Provider interface {
	// LoadHistory returns up to limit trailing messages of a conversation,
	// oldest first. limit <= 0 returns everything.
	LoadHistory(ctx context.Context, conversationID string, limit int) ([]core.Message, error)

	// SaveMessage appends one message to a conversation.
	SaveMessage(ctx context.Context, conversationID string, msg core.Message) error

	// LoadWorkingMemory returns the free-text note stored for (scope, id),
	// empty when none exists.
	LoadWorkingMemory(ctx context.Context, scope, id string) (string, error)

	// SaveWorkingMemory replaces the note stored for (scope, id).
	SaveWorkingMemory(ctx context.Context, scope, id, text string) error
}

// Working-memory scopes used by the engine. Callers may define their own.
const (
	ScopeSession = "session"
	ScopeUser    = "user"
)
