package core

import "github.com/google/uuid"

// NewID returns a new unique identifier for turns and tool calls.
func NewID() string { return uuid.NewString() }
