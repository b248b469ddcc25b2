package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"collab-realtime/backend/internal/connection"
	"collab-realtime/backend/internal/document"
	"collab-realtime/backend/internal/record"
	"collab-realtime/backend/internal/session/domain"
	"collab-realtime/backend/internal/telemetry"
	"collab-realtime/backend/internal/transport/ws"
)

// CollabPath is the websocket route; the final segment is the document name.
const CollabPath = "/collab/{document}"

const tokenQueryParam = "authToken"

// Resolver is the minimal session resolver needed by the handshake.
type Resolver interface {
	ResolveDocument(credential, documentName string) (domain.Context, error)
	Resolve(credential string, kind domain.ResourceKind, id int64) (domain.Context, error)
}

// Registry is the minimal document registry needed by the handshake. *document.Registry implements it.
type Registry interface {
	Acquire(ctx context.Context, session domain.Context) (*document.Document, error)
	Release(doc *document.Document)
}

// Options configures the collab handler. Zero values are usable.
type Options struct {
	Upgrader          *websocket.Upgrader
	Clock             clock.Clock
	KeepaliveInterval time.Duration
	WriteTimeout      time.Duration
	Metrics           connection.Recorder
	Events            telemetry.EventEmitter
}

// CollabHandler authenticates websocket handshakes and binds each accepted transport to its document.
type CollabHandler struct {
	resolver Resolver
	registry Registry
	opts     Options

	wg sync.WaitGroup
}

// NewCollabHandler returns a handler serving CollabPath.
func NewCollabHandler(resolver Resolver, registry Registry, opts Options) *CollabHandler {
	if opts.Upgrader == nil {
		opts.Upgrader = ws.NewUpgrader(nil)
	}
	return &CollabHandler{resolver: resolver, registry: registry, opts: opts}
}

// ServeHTTP runs the handshake. Every rejection is answered with a plain HTTP status before the
// connection is attached to any document.
func (h *CollabHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.wg.Add(1)
	defer h.wg.Done()

	name := r.PathValue("document")
	session, err := h.resolver.ResolveDocument(credentialFrom(r), name)
	if err != nil {
		log.Printf("server: rejected handshake for %q: %v", name, err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	doc, err := h.registry.Acquire(r.Context(), session)
	if err != nil {
		log.Printf("server: loading %s failed: %v", name, err)
		http.Error(w, "document unavailable", statusFor(err))
		return
	}

	wsConn, err := h.opts.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.registry.Release(doc)
		return
	}
	transport := ws.Wrap(wsConn, h.opts.WriteTimeout)

	conn, err := connection.New(transport, doc, session, h.resolver, connection.Options{
		Clock:             h.opts.Clock,
		KeepaliveInterval: h.opts.KeepaliveInterval,
		OnClose:           func(connection.Document) { h.registry.Release(doc) },
		Metrics:           h.opts.Metrics,
		Events:            h.opts.Events,
	})
	if err != nil {
		// An expired session was never attached, so OnClose will not run. Any other failure already
		// ran teardown, including the release.
		if errors.Is(err, connection.ErrSessionExpired) {
			h.registry.Release(doc)
		}
		return
	}
	transport.Serve(conn)
}

// Wait blocks until every in-flight handshake and served transport has returned or ctx is done.
func (h *CollabHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// credentialFrom reads the bearer credential from the authToken query parameter, falling back to the
// Authorization header.
func credentialFrom(r *http.Request) string {
	if tok := r.URL.Query().Get(tokenQueryParam); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}

// statusFor maps handshake errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidDocumentName), errors.Is(err, domain.ErrUnknownResourceKind):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCredentialMissing),
		errors.Is(err, domain.ErrCredentialInvalid),
		errors.Is(err, domain.ErrCredentialExpired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, record.ErrLoadFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
