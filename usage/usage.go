// Package usage builds one structured tracking event per agent invocation and
// delivers it to an external tracker without letting tracker failures affect
// the turn.
package usage

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
)

// Method distinguishes the two model calling conventions on an event.
type Method string

const (
	// MethodComplete marks a one-shot generation.
	MethodComplete Method = "complete"
	// MethodStream marks a chunked generation.
	MethodStream Method = "stream"
)

// Event is built once per agent invocation, handed to the tracker and
// discarded.
type Event struct {
	AgentName        string            `json:"agent_name"`
	SessionID        string            `json:"session_id"`
	HandoffChain     []string          `json:"handoff_chain,omitempty"`
	Usage            model.Usage       `json:"usage"`
	ProviderMetadata map[string]any    `json:"provider_metadata,omitempty"`
	Method           Method            `json:"method"`
	FinishReason     string            `json:"finish_reason,omitempty"`
	// Duration is wall-clock time of the call. Zero for streaming events;
	// streaming time is the caller's concern.
	Duration time.Duration     `json:"duration,omitempty"`
	Context  *core.TurnContext `json:"-"`
}

// Tracker receives usage events. OnError, when non-nil, receives failures
// raised by OnUsage; otherwise failures are logged.
type Tracker interface {
	OnUsage(Event)
}

// ErrorHandler is the optional error surface of a Tracker.
type ErrorHandler interface {
	OnError(err error, ev Event)
}

// TrackerFunc adapts a function to Tracker.
type TrackerFunc func(Event)

// OnUsage implements Tracker.
func (f TrackerFunc) OnUsage(ev Event) { f(ev) }

// NewEvent builds an event for one invocation of agent within turnCtx. The
// handoff chain is the context's chain with the agent's own name appended, so
// each event reports the agents visited so far including the reporting one.
// A turn without handoffs yields no chain at all.
func NewEvent(agentName string, turnCtx *core.TurnContext, res model.Result, method Method, duration time.Duration) Event {
	ev := Event{
		AgentName:        agentName,
		Usage:            res.Usage,
		ProviderMetadata: res.ProviderMetadata,
		Method:           method,
		FinishReason:     res.FinishReason,
		Duration:         duration,
		Context:          turnCtx,
	}
	if turnCtx != nil {
		ev.SessionID = turnCtx.SessionID
		if len(turnCtx.HandoffChain) > 0 {
			ev.HandoffChain = turnCtx.ChainWith(agentName)
		}
	}
	return ev
}

// Pipeline delivers events to a tracker, isolating the turn from tracker
// failures. A nil Pipeline is valid and drops all events.
type Pipeline struct {
	tracker Tracker
	logger  logging.Logger
}

// NewPipeline builds a delivery pipeline. A nil tracker falls back to the
// process-wide tracker at delivery time.
func NewPipeline(tracker Tracker, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Pipeline{tracker: tracker, logger: logger}
}

// Deliver hands ev to the tracker synchronously, recovering panics and
// routing errors to the tracker's error handler or the logger. It never
// returns an error: tracker outcome must not affect the turn.
func (p *Pipeline) Deliver(ev Event) {
	tracker := p.resolve()
	if tracker == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = &trackerPanicError{value: r}
			}
			if eh, ok := tracker.(ErrorHandler); ok {
				eh.OnError(err, ev)
				return
			}
			p.logger.Error("usage tracker failed", "agent", ev.AgentName, "error", err)
		}
	}()
	tracker.OnUsage(ev)
}

// DeliverAsync hands ev to the tracker on its own goroutine so delivery does
// not delay returning the result to the caller. The returned channel closes
// when delivery finishes; callers that do not care may discard it.
func (p *Pipeline) DeliverAsync(ev Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Deliver(ev)
	}()
	return done
}

// FanOutFinish composes the tracker delivery with a caller-supplied finish
// callback. Both run as independent, concurrently-awaited tasks; a failure
// in one never prevents the other from completing.
func (p *Pipeline) FanOutFinish(callerFinish func(model.Result), agentName string, turnCtx *core.TurnContext) func(model.Result) {
	return func(res model.Result) {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Deliver(NewEvent(agentName, turnCtx, res, MethodStream, 0))
		}()
		go func() {
			defer wg.Done()
			if callerFinish == nil {
				return
			}
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("finish callback failed", "agent", agentName, "panic", r)
				}
			}()
			callerFinish(res)
		}()
		wg.Wait()
	}
}

func (p *Pipeline) resolve() Tracker {
	if p == nil {
		return Global()
	}
	if p.tracker != nil {
		return p.tracker
	}
	return Global()
}

type trackerPanicError struct{ value any }

func (e *trackerPanicError) Error() string { return fmt.Sprintf("tracker panic: %v", e.value) }

// Process-wide default tracker. Prefer injecting a Pipeline; the global
// exists for ergonomics when one tracker serves the whole process. Tests
// must Clear between cases.
var (
	globalMu      sync.RWMutex
	globalTracker Tracker
)

// Set installs the process-wide tracker, replacing any previous one.
func Set(t Tracker) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalTracker = t
}

// Clear removes the process-wide tracker.
func Clear() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalTracker = nil
}

// Global returns the process-wide tracker, nil when unset.
func Global() Tracker {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalTracker
}
