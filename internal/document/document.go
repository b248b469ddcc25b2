// Package document is the shared, concurrently edited document the collab connections attach to.
//
// Content is a last-writer-wins register map: each field holds a CBOR value stamped with a
// logical clock and the origin that wrote it; the higher (clock, origin) pair wins, so every
// replica that has seen the same entries converges on the same state.
package document

import (
	"sync"

	"github.com/fxamacker/cbor/v2"

	"collab-realtime/backend/internal/session/domain"
	"collab-realtime/backend/internal/wire"
)

// MetaField is the reserved field holding the document metadata map. Clients may read it, never write it.
const MetaField = "syncState"

const serverOrigin = "server"

// Peer is a live connection attached to a document.
type Peer interface {
	ID() string
	Session() domain.Context
	// Send transmits a complete wire frame. Transmit failures are handled by the peer itself.
	Send(frame []byte)
	Close()
}

// ChangeFunc is invoked after a peer's update changed document content.
type ChangeFunc func(doc *Document, session domain.Context)

// Entry is one field value in the register map.
type Entry struct {
	Field  string          `cbor:"1,keyasint"`
	Value  cbor.RawMessage `cbor:"2,keyasint"`
	Clock  uint64          `cbor:"3,keyasint"`
	Origin string          `cbor:"4,keyasint"`
}

func (e Entry) newerThan(o Entry) bool {
	if e.Clock != o.Clock {
		return e.Clock > o.Clock
	}
	return e.Origin > o.Origin
}

// Document holds content, presence state, and the set of attached peers.
type Document struct {
	name     string
	onChange ChangeFunc

	mu       sync.RWMutex
	entries  map[string]Entry
	peers    map[string]Peer
	presence map[string][]byte

	refs int // guarded by the owning Registry's mutex
}

// New returns an empty document. onChange may be nil.
func New(name string, onChange ChangeFunc) *Document {
	return &Document{
		name:     name,
		onChange: onChange,
		entries:  make(map[string]Entry),
		peers:    make(map[string]Peer),
		presence: make(map[string][]byte),
	}
}

// Name returns the "<kind>-<id>" document name.
func (d *Document) Name() string { return d.name }

// AddConnection attaches p. Attaching the same peer twice is a no-op.
func (d *Document) AddConnection(p Peer) {
	d.mu.Lock()
	d.peers[p.ID()] = p
	d.mu.Unlock()
}

// RemoveConnection detaches p and drops its presence state. It is a no-op when p is not attached.
func (d *Document) RemoveConnection(p Peer) {
	d.mu.Lock()
	if _, ok := d.peers[p.ID()]; !ok {
		d.mu.Unlock()
		return
	}
	delete(d.peers, p.ID())
	_, hadPresence := d.presence[p.ID()]
	delete(d.presence, p.ID())
	d.mu.Unlock()

	if hadPresence {
		payload, err := encodePresence([]PresenceState{{Peer: p.ID()}})
		if err == nil {
			d.broadcast(wire.EncodePresence(payload), p)
		}
	}
}

// HasConnection reports whether p is attached.
func (d *Document) HasConnection(p Peer) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.peers[p.ID()]
	return ok
}

// Connections returns a snapshot of the attached peers.
func (d *Document) Connections() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p)
	}
	return out
}

// ConnectionCount returns the number of attached peers.
func (d *Document) ConnectionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// Field returns the CBOR value of a content field.
func (d *Document) Field(field string) (cbor.RawMessage, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[field]
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Merge writes externally sourced content into field as a server-origin update and broadcasts it.
// It does not fire the change hook.
func (d *Document) Merge(field string, value cbor.RawMessage) {
	d.writeServer(field, value)
}

func (d *Document) writeServer(field string, value cbor.RawMessage) {
	d.mu.Lock()
	e := d.putServerLocked(field, value)
	d.mu.Unlock()
	d.broadcastEntry(e)
}

// putServerLocked stores value as the next server-origin version of field. d.mu must be held.
func (d *Document) putServerLocked(field string, value cbor.RawMessage) Entry {
	e := Entry{Field: field, Value: value, Clock: d.entries[field].Clock + 1, Origin: serverOrigin}
	d.entries[field] = e
	return e
}

func (d *Document) broadcastEntry(e Entry) {
	payload, err := encodeSync(msgUpdate, []Entry{e})
	if err == nil {
		d.broadcast(wire.EncodeContentSync(payload), nil)
	}
}

// broadcast sends frame to every attached peer except skip. Peers are sent to outside the lock.
func (d *Document) broadcast(frame []byte, skip Peer) {
	for _, p := range d.Connections() {
		if skip != nil && p.ID() == skip.ID() {
			continue
		}
		p.Send(frame)
	}
}
