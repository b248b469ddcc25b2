// Package connection implements the per-transport collab session: frame dispatch, keepalive,
// credential expiry and refresh, and exactly-once teardown.
package connection

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"collab-realtime/backend/internal/document"
	"collab-realtime/backend/internal/session/domain"
	"collab-realtime/backend/internal/telemetry"
	"collab-realtime/backend/internal/wire"
)

// DefaultKeepaliveInterval is used when Options.KeepaliveInterval is zero.
const DefaultKeepaliveInterval = 30 * time.Second

// ErrSessionExpired is returned by New when the session had already expired. The connection was
// never attached to the document and its transport has been closed.
var ErrSessionExpired = errors.New("connection: session expired")

// ErrClosedWhileOpening is returned by New when the connection was torn down after attaching but
// before going live. Teardown has already run OnClose and closed the transport.
var ErrClosedWhileOpening = errors.New("connection: closed while opening")

// State is the connection lifecycle state.
type State int32

const (
	StateOpening State = iota
	StateLive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close reasons reported in connection_closed events.
const (
	reasonClosed        = "closed"
	reasonExpired       = "credential_expired"
	reasonRefreshFailed = "refresh_failed"
	reasonKeepalive     = "keepalive_timeout"
	reasonSendFailed    = "send_failed"
)

// Transport is the duplex frame stream under a connection.
type Transport interface {
	Send(frame []byte) error
	// Ping transmits a liveness probe; the response is reported through Connection.HandlePong.
	Ping() error
	Close() error
}

// Document is the minimal document surface needed by a connection.
type Document interface {
	Name() string
	AddConnection(p document.Peer)
	RemoveConnection(p document.Peer)
	HasConnection(p document.Peer) bool
	SyncStep1() []byte
	ApplySync(origin document.Peer, payload []byte) ([]byte, error)
	ApplyPresence(origin document.Peer, state []byte)
	HasPresence() bool
	PresenceUpdate() []byte
}

// Resolver re-authenticates a refreshed credential against the connection's fixed resource binding.
type Resolver interface {
	Resolve(credential string, kind domain.ResourceKind, id int64) (domain.Context, error)
}

// Recorder is the minimal metrics surface needed by a connection. *otel.Metrics implements it.
type Recorder interface {
	ConnectionOpened(ctx context.Context, kind string)
	ConnectionClosed(ctx context.Context, kind string)
	FrameReceived(ctx context.Context, frameType string)
}

// Options configures a Connection. Zero values are usable.
type Options struct {
	Clock             clock.Clock
	KeepaliveInterval time.Duration
	// OnClose runs once during teardown if the connection was attached to the document.
	OnClose func(Document)
	Metrics Recorder
	Events  telemetry.EventEmitter
}

// Connection binds one transport to one document for the lifetime of the transport.
type Connection struct {
	id        string
	transport Transport
	doc       Document
	resolver  Resolver
	clock     clock.Clock
	interval  time.Duration
	metrics   Recorder
	events    telemetry.EventEmitter

	state        atomic.Int32
	pongReceived atomic.Bool
	closeReason  atomic.Value // string

	// frameMu serializes inbound frame processing, including credential refresh.
	frameMu sync.Mutex

	mu        sync.Mutex
	session   domain.Context
	keepalive *clock.Timer
	expiry    *clock.Timer
	stopped   bool
	onClose   []func(Document)

	done chan struct{}
}

// New attaches a connection for session to doc and starts it. On return the peer has been sent the
// document's first sync step and, when any exists, the current presence state.
//
// If the session is already expired, New closes the transport without attaching and returns the
// connection together with ErrSessionExpired; the caller still owns its reference to doc. If the
// connection is closed while it is being attached, New returns ErrClosedWhileOpening and OnClose
// has already run.
func New(t Transport, doc Document, session domain.Context, resolver Resolver, opts Options) (*Connection, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	interval := opts.KeepaliveInterval
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	c := &Connection{
		id:        uuid.NewString(),
		transport: t,
		doc:       doc,
		resolver:  resolver,
		clock:     clk,
		interval:  interval,
		metrics:   opts.Metrics,
		events:    opts.Events,
		session:   session,
		done:      make(chan struct{}),
	}
	if opts.OnClose != nil {
		c.onClose = append(c.onClose, opts.OnClose)
	}
	c.pongReceived.Store(true)

	if session.Expired(clk.Now()) {
		log.Printf("connection: %s for %s: credential already expired", c.id, doc.Name())
		c.shutdown(reasonExpired)
		return c, ErrSessionExpired
	}

	// Once attached, the peer is reachable by broadcasts and CloseAll, so teardown may already have run.
	doc.AddConnection(c)
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return c, ErrClosedWhileOpening
	}
	c.keepalive = c.clock.AfterFunc(c.interval, c.checkLiveness)
	c.armExpiryLocked(session.ExpiresAt)
	c.mu.Unlock()
	if !c.state.CompareAndSwap(int32(StateOpening), int32(StateLive)) {
		return c, ErrClosedWhileOpening
	}

	if c.metrics != nil {
		c.metrics.ConnectionOpened(context.Background(), string(session.ResourceKind))
	}
	c.emit(telemetry.EventConnectionOpened, "")

	c.Send(wire.EncodeContentSync(doc.SyncStep1()))
	if doc.HasPresence() {
		c.Send(wire.EncodePresence(doc.PresenceUpdate()))
	}
	return c, nil
}

// ID returns the connection's unique id.
func (c *Connection) ID() string { return c.id }

// Session returns the current session context.
func (c *Connection) Session() domain.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Document returns the attached document.
func (c *Connection) Document() Document { return c.doc }

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Done is closed once teardown has completed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// OnClose registers fn to run during teardown. Callbacks registered after teardown started never run.
func (c *Connection) OnClose(fn func(Document)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.onClose = append(c.onClose, fn)
	}
}

// Send transmits a frame to the peer. Frames sent after teardown started are dropped; a transmit
// failure tears the connection down.
func (c *Connection) Send(frame []byte) {
	if s := c.State(); s != StateLive && s != StateOpening {
		return
	}
	if err := c.transport.Send(frame); err != nil {
		log.Printf("connection: %s send failed: %v", c.id, err)
		c.shutdown(reasonSendFailed)
	}
}

// HandlePong records a liveness response from the transport.
func (c *Connection) HandlePong() {
	c.pongReceived.Store(true)
}

// HandleMessage dispatches one inbound frame. Frames are processed one at a time in arrival order.
func (c *Connection) HandleMessage(data []byte) {
	if c.State() != StateLive {
		return
	}
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	if c.State() != StateLive {
		return
	}

	f, err := wire.Decode(data)
	if err != nil {
		log.Printf("connection: %s dropped frame: %v", c.id, err)
		return
	}
	if !f.Known() {
		return
	}
	if c.metrics != nil {
		c.metrics.FrameReceived(context.Background(), f.Type.String())
	}

	switch f.Type {
	case wire.CredentialRefresh:
		c.refresh(f.Credential)
	case wire.Presence:
		c.doc.ApplyPresence(c, f.Payload)
	case wire.ContentSync:
		resp, err := c.doc.ApplySync(c, f.Payload)
		if err != nil {
			log.Printf("connection: %s sync on %s: %v", c.id, c.doc.Name(), err)
			return
		}
		if len(resp) > 1 {
			c.Send(wire.EncodeContentSync(resp))
		}
	}
}

// refresh re-resolves credential against the current resource binding. Any failure is fatal.
func (c *Connection) refresh(credential string) {
	current := c.Session()
	next, err := c.resolver.Resolve(credential, current.ResourceKind, current.ResourceID)
	if err == nil && next.Expired(c.clock.Now()) {
		err = domain.ErrCredentialExpired
	}
	if err != nil {
		log.Printf("connection: %s credential refresh failed: %v", c.id, err)
		c.shutdown(reasonRefreshFailed)
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.session = next
	c.armExpiryLocked(next.ExpiresAt)
	c.mu.Unlock()
	c.emit(telemetry.EventCredentialRefreshed, "")
}

// armExpiryLocked replaces the expiry timer with one firing at expiresAt. c.mu must be held.
func (c *Connection) armExpiryLocked(expiresAt time.Time) {
	if c.expiry != nil {
		c.expiry.Stop()
	}
	c.expiry = c.clock.AfterFunc(expiresAt.Sub(c.clock.Now()), c.expire)
}

func (c *Connection) expire() {
	// A timer stopped by a concurrent refresh may still fire; the current session decides.
	if !c.Session().Expired(c.clock.Now()) {
		return
	}
	log.Printf("connection: %s credential expired", c.id)
	c.shutdown(reasonExpired)
}

// checkLiveness closes the connection when the previous probe went unanswered, otherwise probes again.
func (c *Connection) checkLiveness() {
	if c.State() != StateLive {
		return
	}
	if !c.pongReceived.Swap(false) {
		log.Printf("connection: %s keepalive timeout", c.id)
		c.shutdown(reasonKeepalive)
		return
	}
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.keepalive = c.clock.AfterFunc(c.interval, c.checkLiveness)
	c.mu.Unlock()

	if err := c.transport.Ping(); err != nil {
		log.Printf("connection: %s ping failed: %v", c.id, err)
		c.shutdown(reasonSendFailed)
	}
}

// Close tears the connection down. It is safe to call any number of times from any goroutine.
func (c *Connection) Close() {
	c.shutdown(reasonClosed)
}

// shutdown runs teardown once; only the caller that moves the state to Closing runs the effects.
func (c *Connection) shutdown(reason string) {
	for {
		s := c.state.Load()
		if s == int32(StateClosing) || s == int32(StateClosed) {
			return
		}
		if c.state.CompareAndSwap(s, int32(StateClosing)) {
			break
		}
	}
	c.closeReason.Store(reason)

	c.mu.Lock()
	c.stopped = true
	if c.keepalive != nil {
		c.keepalive.Stop()
	}
	if c.expiry != nil {
		c.expiry.Stop()
	}
	callbacks := c.onClose
	c.onClose = nil
	session := c.session
	c.mu.Unlock()

	if c.doc.HasConnection(c) {
		c.doc.RemoveConnection(c)
		for _, fn := range callbacks {
			fn(c.doc)
		}
		if c.metrics != nil {
			c.metrics.ConnectionClosed(context.Background(), string(session.ResourceKind))
		}
		c.emit(telemetry.EventConnectionClosed, reason)
	}
	if err := c.transport.Close(); err != nil {
		log.Printf("connection: %s transport close: %v", c.id, err)
	}

	c.state.Store(int32(StateClosed))
	close(c.done)
}

// CloseReason returns why teardown ran, or "" while the connection is open.
func (c *Connection) CloseReason() string {
	r, _ := c.closeReason.Load().(string)
	return r
}

func (c *Connection) emit(eventType, reason string) {
	if c.events == nil {
		return
	}
	s := c.Session()
	telemetry.EmitAsync(c.events, &telemetry.Event{
		Type:         eventType,
		Document:     c.doc.Name(),
		ResourceKind: string(s.ResourceKind),
		ResourceID:   s.ResourceID,
		UserID:       s.UserID,
		ConnectionID: c.id,
		Reason:       reason,
		CreatedAt:    c.clock.Now().UTC(),
	})
}
