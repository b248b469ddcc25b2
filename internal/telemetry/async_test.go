package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*Event
	emitErr error
	ctxErr  error
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	m.ctxErr = ctx.Err()
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

func waitForEvents(t *testing.T, m *mockEventEmitter, n int) []*Event {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ev := m.getEvents(); len(ev) >= n {
			return ev
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d events, got %d", n, len(m.getEvents()))
	return nil
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(nil, &Event{Type: EventConnectionOpened})
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, nil)
	time.Sleep(10 * time.Millisecond)
	if n := len(emitter.getEvents()); n != 0 {
		t.Errorf("expected 0 events, got %d", n)
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, &Event{Type: EventDocumentSaved, Document: "proposal-7", UserID: 3})

	events := waitForEvents(t, emitter, 1)
	if events[0].Type != EventDocumentSaved {
		t.Errorf("event type = %q, want %q", events[0].Type, EventDocumentSaved)
	}
	if events[0].Document != "proposal-7" {
		t.Errorf("document = %q, want %q", events[0].Document, "proposal-7")
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped")
	}
	if emitter.ctxErr != nil {
		t.Errorf("emit context already done: %v", emitter.ctxErr)
	}
}

func TestEmitAsync_KeepsCreatedAt(t *testing.T) {
	emitter := &mockEventEmitter{}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	EmitAsync(emitter, &Event{Type: EventConnectionClosed, CreatedAt: at})

	events := waitForEvents(t, emitter, 1)
	if !events[0].CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want %v", events[0].CreatedAt, at)
	}
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	emitter := &mockEventEmitter{emitErr: errors.New("broker down")}
	EmitAsync(emitter, &Event{Type: EventConnectionOpened})
	waitForEvents(t, emitter, 1)
}

func TestEmitAsync_ConcurrentAccess(t *testing.T) {
	emitter := &mockEventEmitter{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(emitter, &Event{Type: EventConnectionOpened})
		}()
	}
	wg.Wait()
	waitForEvents(t, emitter, 10)
}

func TestMulti_FansOutAndReturnsFirstError(t *testing.T) {
	a := &mockEventEmitter{emitErr: errors.New("a failed")}
	b := &mockEventEmitter{}
	m := Multi{a, nil, b}

	err := m.Emit(context.Background(), &Event{Type: EventDocumentLoaded})
	if err == nil || err.Error() != "a failed" {
		t.Fatalf("Emit error = %v, want a failed", err)
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Errorf("events a=%d b=%d, want 1 each", len(a.getEvents()), len(b.getEvents()))
	}
	if err := (Nop{}).Emit(context.Background(), nil); err != nil {
		t.Errorf("Nop.Emit: %v", err)
	}
}
