package telemetry

import "context"

// EventEmitter emits lifecycle events (e.g. to Kafka or OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, *Event) error { return nil }

// Multi fans an event out to every emitter and returns the first error.
type Multi []EventEmitter

func (m Multi) Emit(ctx context.Context, event *Event) error {
	var first error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
