// Package persistence bridges document lifecycle hooks to the backend record store: documents of
// persisted kinds are loaded when first created, and content changes are saved, debounced, as the
// editing principal.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/benbjohnson/clock"

	"collab-realtime/backend/internal/document"
	"collab-realtime/backend/internal/record"
	"collab-realtime/backend/internal/session/domain"
	"collab-realtime/backend/internal/telemetry"
)

// Metadata keys written into every persisted document.
const (
	MetaSavedAt  = "savedAt"
	MetaLoadedAt = "loadedAt"
)

// Scheduler coalesces saves per document. *debounce.Scheduler implements it.
type Scheduler interface {
	Schedule(key string, action func())
}

// Recorder is the minimal metrics surface needed by the bridge. *otel.Metrics implements it.
type Recorder interface {
	DocumentLoaded(ctx context.Context, kind string)
	SaveCompleted(ctx context.Context, kind string, ok bool)
}

// Options configures a Bridge. Zero values are usable.
type Options struct {
	Clock   clock.Clock
	Metrics Recorder
	Events  telemetry.EventEmitter
}

// Bridge implements the document registry's create and change hooks.
type Bridge struct {
	store     record.Store
	scheduler Scheduler
	clock     clock.Clock
	metrics   Recorder
	events    telemetry.EventEmitter
}

// NewBridge returns a bridge saving through scheduler into store.
func NewBridge(store record.Store, scheduler Scheduler, opts Options) *Bridge {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Bridge{store: store, scheduler: scheduler, clock: clk, metrics: opts.Metrics, events: opts.Events}
}

// OnCreateDocument loads the backing record into a new document of a persisted kind and initialises
// its save metadata. Documents of other kinds are left empty.
func (b *Bridge) OnCreateDocument(ctx context.Context, doc *document.Document, session domain.Context) error {
	spec, ok := session.ResourceKind.Spec()
	if !ok || !spec.Persisted {
		return nil
	}
	rec, err := b.store.Load(ctx, session.ResourceKind, session.ResourceID, session.Credential)
	if err != nil {
		return err
	}
	if rec == nil || len(rec.Fields) == 0 {
		return fmt.Errorf("%w: invalid or empty response for %s", record.ErrLoadFailed, doc.Name())
	}

	for field, raw := range rec.Fields {
		if field == document.MetaField {
			continue
		}
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		value, err := document.FromJSON(raw)
		if err != nil {
			return fmt.Errorf("%w: field %s: %v", record.ErrLoadFailed, field, err)
		}
		doc.Merge(field, value)
	}

	meta := map[string]any{
		MetaSavedAt:  int64(0),
		MetaLoadedAt: b.clock.Now().UnixMilli(),
	}
	for k, v := range spec.Flags {
		meta[k] = v
	}
	if err := doc.UpdateMeta(meta); err != nil {
		return err
	}

	log.Printf("bridge: loaded %s from the record store", doc.Name())
	if b.metrics != nil {
		b.metrics.DocumentLoaded(ctx, string(session.ResourceKind))
	}
	b.emit(telemetry.EventDocumentLoaded, doc, session, "")
	return nil
}

// OnChange schedules a save of doc as the mutating session. Sessions without a credential and
// documents of non-persisted kinds are ignored.
func (b *Bridge) OnChange(doc *document.Document, session domain.Context) {
	if session.Credential == "" || !session.ResourceKind.Persisted() {
		return
	}
	b.scheduler.Schedule(doc.Name(), func() { b.save(doc, session) })
}

// save pushes every tracked field. Failures are logged and dropped; the next change schedules another attempt.
func (b *Bridge) save(doc *document.Document, session domain.Context) {
	spec, _ := session.ResourceKind.Spec()
	fields := make(map[string]json.RawMessage, len(spec.Fields))
	for _, f := range spec.Fields {
		raw, ok := doc.Field(f)
		if !ok {
			fields[f] = json.RawMessage("null")
			continue
		}
		js, err := document.ToJSON(raw)
		if err != nil {
			b.saveFailed(doc, session, fmt.Errorf("field %s: %w", f, err))
			return
		}
		fields[f] = js
	}

	ctx := context.Background()
	err := b.store.Save(ctx, session.ResourceKind, session.ResourceID, &record.Record{Fields: fields}, session.Credential)
	if err != nil {
		b.saveFailed(doc, session, err)
		return
	}
	if err := doc.SetMeta(MetaSavedAt, b.clock.Now().UnixMilli()); err != nil {
		log.Printf("bridge: %s saved but metadata update failed: %v", doc.Name(), err)
	}
	if b.metrics != nil {
		b.metrics.SaveCompleted(ctx, string(session.ResourceKind), true)
	}
	b.emit(telemetry.EventDocumentSaved, doc, session, "")
}

func (b *Bridge) saveFailed(doc *document.Document, session domain.Context, err error) {
	log.Printf("bridge: pushing changes of %s to the record store failed: %v", doc.Name(), err)
	if b.metrics != nil {
		b.metrics.SaveCompleted(context.Background(), string(session.ResourceKind), false)
	}
	b.emit(telemetry.EventDocumentSaveFailed, doc, session, err.Error())
}

func (b *Bridge) emit(eventType string, doc *document.Document, session domain.Context, reason string) {
	if b.events == nil {
		return
	}
	telemetry.EmitAsync(b.events, &telemetry.Event{
		Type:         eventType,
		Document:     doc.Name(),
		ResourceKind: string(session.ResourceKind),
		ResourceID:   session.ResourceID,
		UserID:       session.UserID,
		Reason:       reason,
		CreatedAt:    b.clock.Now().UTC(),
	})
}
