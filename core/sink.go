package core

import "sync"

// Sink receives the user-visible chunk stream of one workflow turn in order.
// Implementations must tolerate Write being called from a single goroutine at
// a time; the engine never writes concurrently and never writes after a
// terminal chunk.
type Sink interface {
	Write(Chunk) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(Chunk) error

// Write implements Sink.
func (f SinkFunc) Write(c Chunk) error { return f(c) }

// ChannelSink forwards chunks onto a caller-owned channel.
type ChannelSink struct{ Ch chan<- Chunk }

// NewChannelSink wraps ch as a Sink.
func NewChannelSink(ch chan<- Chunk) *ChannelSink { return &ChannelSink{Ch: ch} }

// Write implements Sink. It blocks until the channel accepts the chunk.
func (s *ChannelSink) Write(c Chunk) error {
	s.Ch <- c
	return nil
}

// BufferSink accumulates chunks in memory. Intended for tests and for
// callers that want the full stream after the turn completes.
type BufferSink struct {
	mu     sync.Mutex
	chunks []Chunk
}

// NewBufferSink returns an empty buffering sink.
func NewBufferSink() *BufferSink { return &BufferSink{} }

// Write implements Sink.
func (s *BufferSink) Write(c Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, c)
	return nil
}

// Chunks returns a copy of everything written so far.
func (s *BufferSink) Chunks() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Text concatenates the text deltas of all written chunks.
func (s *BufferSink) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out string
	for _, c := range s.chunks {
		out += c.TextDelta
	}
	return out
}
