package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the session service instruments. A nil *Metrics records nothing.
type Metrics struct {
	activeConnections metric.Int64UpDownCounter
	frames            metric.Int64Counter
	documentsLoaded   metric.Int64Counter
	saves             metric.Int64Counter
}

// NewMetrics creates the instruments on provider's meter.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(instrumentationName)
	active, err := meter.Int64UpDownCounter("collab.connections.active",
		metric.WithDescription("Live collab connections"))
	if err != nil {
		return nil, err
	}
	frames, err := meter.Int64Counter("collab.frames.received",
		metric.WithDescription("Inbound frames by type"))
	if err != nil {
		return nil, err
	}
	loaded, err := meter.Int64Counter("collab.documents.loaded",
		metric.WithDescription("Documents populated from the record store"))
	if err != nil {
		return nil, err
	}
	saves, err := meter.Int64Counter("collab.documents.saves",
		metric.WithDescription("Record store saves by result"))
	if err != nil {
		return nil, err
	}
	return &Metrics{activeConnections: active, frames: frames, documentsLoaded: loaded, saves: saves}, nil
}

func (m *Metrics) ConnectionOpened(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.activeConnections.Add(ctx, 1, metric.WithAttributes(attribute.String("resource_kind", kind)))
}

func (m *Metrics) ConnectionClosed(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.activeConnections.Add(ctx, -1, metric.WithAttributes(attribute.String("resource_kind", kind)))
}

func (m *Metrics) FrameReceived(ctx context.Context, frameType string) {
	if m == nil {
		return
	}
	m.frames.Add(ctx, 1, metric.WithAttributes(attribute.String("frame_type", frameType)))
}

func (m *Metrics) DocumentLoaded(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.documentsLoaded.Add(ctx, 1, metric.WithAttributes(attribute.String("resource_kind", kind)))
}

func (m *Metrics) SaveCompleted(ctx context.Context, kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.saves.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_kind", kind),
		attribute.String("result", result),
	))
}
