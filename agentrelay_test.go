package agentrelay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
)

func TestRelay_Run(t *testing.T) {
	runner := model.NewMockRunner("mock")
	runner.Enqueue(model.Result{Text: "Hello there.", FinishReason: "stop"})
	triage := agent.New("triage", runner)

	relay, err := New(triage, nil)
	require.NoError(t, err)

	turn, err := relay.Run(context.Background(), core.NewTurnContext("sess"), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", turn.Response)
	assert.Equal(t, "triage", turn.FinalAgent)
}

func TestRelay_RunStream(t *testing.T) {
	runner := model.NewMockRunner("mock")
	runner.Enqueue(model.Result{Text: "Streaming hello.", FinishReason: "stop"})
	triage := agent.New("triage", runner)

	relay, err := New(triage, nil, func(o *Options) { o.Streaming = true })
	require.NoError(t, err)

	chunks, errs := relay.RunStream(context.Background(), core.NewTurnContext("sess"), "hi")

	var text string
	var sawDone bool
	for c := range chunks {
		if c.Type == core.ChunkTypeText {
			text += c.TextDelta
		}
		if c.Type == core.ChunkTypeDone {
			sawDone = true
		}
	}
	if err, ok := <-errs; ok && err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	assert.Equal(t, "Streaming hello.", text)
	assert.True(t, sawDone)
}

func TestNew_PropagatesValidationErrors(t *testing.T) {
	runner := model.NewMockRunner("mock")
	bad := agent.New("triage", runner, func(o *agent.Options) { o.Handoffs = []string{"ghost"} })

	_, err := New(bad, nil)
	assert.Error(t, err)
}
