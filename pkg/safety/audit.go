package safety

import (
	"context"
	"time"
)

// Recorder stores one event per finished invocation. Implementations must be
// safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Event describes a finished invocation. It never carries command output or
// credentials.
type Event struct {
	InvocationID string
	Caller       string
	Command      string
	Operation    string
	Kind         string
	Reason       string
	Duration     time.Duration
	At           time.Time
}

// NoopRecorder drops every event.
type NoopRecorder struct{}

func (NoopRecorder) Record(context.Context, Event) error { return nil }
