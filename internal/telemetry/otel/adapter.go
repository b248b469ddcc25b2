package otel

import (
	"context"
	"strconv"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"collab-realtime/backend/internal/telemetry"
)

const instrumentationName = "collab-realtime"

// recordEmitter is the subset of otellog.Logger used by the emitter.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return telemetry.Nop{}
	}
	return &otelEmitter{logger: provider.Logger(instrumentationName)}
}

// NewEventEmitterWithLogger returns an EventEmitter writing to logger. Used by tests to capture records.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to an OTel log record. The body is the event type; identifiers become attributes.
func (e *otelEmitter) Emit(ctx context.Context, event *telemetry.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetBody(otellog.StringValue(event.Type))
	rec.AddAttributes(otellog.String("event_type", event.Type))
	if event.Document != "" {
		rec.AddAttributes(otellog.String("document", event.Document))
	}
	if event.ResourceKind != "" {
		rec.AddAttributes(otellog.String("resource_kind", event.ResourceKind))
	}
	if event.ResourceID != 0 {
		rec.AddAttributes(otellog.String("resource_id", strconv.FormatInt(event.ResourceID, 10)))
	}
	if event.UserID != 0 {
		rec.AddAttributes(otellog.String("user_id", strconv.FormatInt(event.UserID, 10)))
	}
	if event.ConnectionID != "" {
		rec.AddAttributes(otellog.String("connection_id", event.ConnectionID))
	}
	if event.Reason != "" {
		rec.AddAttributes(otellog.String("reason", event.Reason))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
