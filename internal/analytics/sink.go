package analytics

import (
	"context"
	"time"
)

// Sink consumes batches of analytics events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts individual events. Emit never blocks on delivery and never
// reports failure back to the caller; Hub satisfies this interface so
// trackers can remain agnostic about how events are buffered or persisted.
type Emitter interface {
	Emit(evt Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit calls f(evt).
func (f EmitterFunc) Emit(evt Event) {
	f(evt)
}

// NopEmitter swallows every event.
type NopEmitter struct{}

// Emit discards evt.
func (NopEmitter) Emit(Event) {}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// CancelFunc cancels a scheduled task. Calling it more than once, or after
// the task ran, has no effect.
type CancelFunc func()

// Scheduler runs fn once after delay unless the returned CancelFunc is
// called first.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) CancelFunc
}
