// Package producer writes session lifecycle events to a message broker.
package producer

import (
	"context"

	"collab-realtime/backend/internal/telemetry"
)

// Producer emits lifecycle events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call through telemetry.EmitAsync from hot paths.
	Emit(ctx context.Context, event *telemetry.Event) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
