package usage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
)

// recordingTracker collects events and optionally panics.
type recordingTracker struct {
	mu        sync.Mutex
	events    []Event
	errs      []error
	panicWith any
}

func (r *recordingTracker) OnUsage(ev Event) {
	if r.panicWith != nil {
		panic(r.panicWith)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingTracker) OnError(err error, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingTracker) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingTracker) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}

func TestNewEvent(t *testing.T) {
	res := model.Result{
		Usage:            model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		FinishReason:     "stop",
		ProviderMetadata: map[string]any{"id": "resp-1"},
	}

	t.Run("no handoffs yields no chain", func(t *testing.T) {
		turnCtx := core.NewTurnContext("sess-1")
		ev := NewEvent("triage", turnCtx, res, MethodComplete, 120*time.Millisecond)

		assert.Equal(t, "triage", ev.AgentName)
		assert.Equal(t, "sess-1", ev.SessionID)
		assert.Empty(t, ev.HandoffChain)
		assert.Equal(t, 15, ev.Usage.TotalTokens)
		assert.Equal(t, MethodComplete, ev.Method)
		assert.Equal(t, 120*time.Millisecond, ev.Duration)
	})

	t.Run("chain includes the reporting agent", func(t *testing.T) {
		turnCtx := core.NewTurnContext("sess-1")
		turnCtx.AppendHandoff("triage")
		ev := NewEvent("billing", turnCtx, res, MethodStream, 0)

		assert.Equal(t, []string{"triage", "billing"}, ev.HandoffChain)
		assert.Zero(t, ev.Duration)
	})

	t.Run("nil context tolerated", func(t *testing.T) {
		ev := NewEvent("triage", nil, res, MethodComplete, 0)
		assert.Empty(t, ev.SessionID)
		assert.Empty(t, ev.HandoffChain)
	})
}

func TestPipeline_Deliver(t *testing.T) {
	tracker := &recordingTracker{}
	p := NewPipeline(tracker, logging.NoOpLogger{})

	p.Deliver(Event{AgentName: "a"})
	require.Len(t, tracker.Events(), 1)
}

func TestPipeline_DeliverRecoversPanic(t *testing.T) {
	tracker := &recordingTracker{panicWith: "tracker exploded"}
	p := NewPipeline(tracker, logging.NoOpLogger{})

	assert.NotPanics(t, func() { p.Deliver(Event{AgentName: "a"}) })

	// The panic surfaced through the tracker's own error handler.
	errs := tracker.Errors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "tracker exploded")
}

func TestPipeline_DeliverAsync(t *testing.T) {
	tracker := &recordingTracker{}
	p := NewPipeline(tracker, logging.NoOpLogger{})

	done := p.DeliverAsync(Event{AgentName: "a"})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async delivery did not finish")
	}
	assert.Len(t, tracker.Events(), 1)
}

func TestPipeline_FanOutFinish(t *testing.T) {
	tracker := &recordingTracker{}
	p := NewPipeline(tracker, logging.NoOpLogger{})

	var callerRes model.Result
	finish := p.FanOutFinish(func(res model.Result) { callerRes = res }, "billing", core.NewTurnContext("sess"))
	finish(model.Result{Text: "done", Usage: model.Usage{TotalTokens: 3}})

	// Both sides completed before finish returned.
	assert.Equal(t, "done", callerRes.Text)
	require.Len(t, tracker.Events(), 1)
	assert.Equal(t, MethodStream, tracker.Events()[0].Method)
}

func TestPipeline_FanOutFinishIsolatesCallerPanic(t *testing.T) {
	tracker := &recordingTracker{}
	p := NewPipeline(tracker, logging.NoOpLogger{})

	finish := p.FanOutFinish(func(model.Result) { panic("caller broke") }, "billing", nil)
	assert.NotPanics(t, func() { finish(model.Result{}) })

	// Tracker delivery still happened.
	assert.Len(t, tracker.Events(), 1)
}

func TestPipeline_NilCallerFinish(t *testing.T) {
	p := NewPipeline(&recordingTracker{}, logging.NoOpLogger{})
	finish := p.FanOutFinish(nil, "a", nil)
	assert.NotPanics(t, func() { finish(model.Result{}) })
}

func TestGlobalTracker(t *testing.T) {
	t.Cleanup(Clear)

	assert.Nil(t, Global())

	tracker := &recordingTracker{}
	Set(tracker)
	assert.Equal(t, Tracker(tracker), Global())

	// A pipeline without its own tracker falls back to the global one.
	p := NewPipeline(nil, logging.NoOpLogger{})
	p.Deliver(Event{AgentName: "a"})
	assert.Len(t, tracker.Events(), 1)

	Clear()
	assert.Nil(t, Global())

	// With neither a pipeline nor a global tracker delivery is a no-op.
	assert.NotPanics(t, func() { p.Deliver(Event{AgentName: "b"}) })
}
