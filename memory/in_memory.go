package memory

import (
	"context"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// InMemoryProvider is a volatile Provider implementation storing transcripts
// and notes in process-local maps. It is safe for concurrent access and best
// suited for tests or ephemeral demo setups.
type InMemoryProvider struct {
	mu       sync.RWMutex
	history  map[string][]core.Message
	working  map[string]string // scope + "\x00" + id -> note
}

// NewInMemoryProvider constructs an empty in-memory provider.
func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{
		history: make(map[string][]core.Message),
		working: make(map[string]string),
	}
}

// LoadHistory implements Provider.
func (p *InMemoryProvider) LoadHistory(_ context.Context, conversationID string, limit int) ([]core.Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	msgs := p.history[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// SaveMessage implements Provider.
func (p *InMemoryProvider) SaveMessage(_ context.Context, conversationID string, msg core.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[conversationID] = append(p.history[conversationID], msg)
	return nil
}

// LoadWorkingMemory implements Provider.
func (p *InMemoryProvider) LoadWorkingMemory(_ context.Context, scope, id string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.working[scope+"\x00"+id], nil
}

// SaveWorkingMemory implements Provider.
func (p *InMemoryProvider) SaveWorkingMemory(_ context.Context, scope, id, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.working[scope+"\x00"+id] = text
	return nil
}
