package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockRunner is a lightweight in-memory Runner useful for tests & examples.
// Results are served from a FIFO script; when the script is empty a canned
// echo of the last user message is produced.
type MockRunner struct {
	mu       sync.Mutex
	info     Info
	script   []Result
	requests []Request
	err      error
}

// NewMockRunner constructs a MockRunner with tool support enabled.
func NewMockRunner(name string) *MockRunner {
	return &MockRunner{info: Info{Name: name, Provider: "mock", SupportsTools: true}}
}

// Enqueue appends scripted results served in order by Complete / Stream.
func (m *MockRunner) Enqueue(results ...Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, results...)
}

// Fail makes every subsequent call return err.
func (m *MockRunner) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns a copy of every request seen so far.
func (m *MockRunner) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockRunner) next(req Request) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return Result{}, m.err
	}
	if len(m.script) > 0 {
		res := m.script[0]
		m.script = m.script[1:]
		return res, nil
	}
	var lastUser string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUser = req.Messages[i].Content
			break
		}
	}
	return Result{
		Text:         fmt.Sprintf("Mock response to: %s", lastUser),
		FinishReason: "stop",
		Usage:        Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}, nil
}

// Complete implements Runner.
func (m *MockRunner) Complete(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := m.next(req)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Stream implements Runner. Text is emitted word by word, tool calls as a
// start event followed by a single arguments delta, then the finish event.
func (m *MockRunner) Stream(ctx context.Context, req Request) (<-chan StreamEvent, <-chan error) {
	events := make(chan StreamEvent, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errCh)

		res, err := m.next(req)
		if err != nil {
			errCh <- err
			return
		}
		for _, word := range strings.SplitAfter(res.Text, " ") {
			if word == "" {
				continue
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case events <- StreamEvent{TextDelta: word}:
			}
		}
		for _, tc := range res.ToolCalls {
			call := tc
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case events <- StreamEvent{ToolCallStart: &call}:
			}
			if call.Arguments != "" {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case events <- StreamEvent{ToolCallDelta: &ToolCallDelta{ID: call.ID, ArgsDelta: call.Arguments}}:
				}
			}
		}
		if req.OnFinish != nil {
			req.OnFinish(res)
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case events <- StreamEvent{Finish: &res}:
		}
	}()

	return events, errCh
}

// Info implements Runner.
func (m *MockRunner) Info() Info { return m.info }
