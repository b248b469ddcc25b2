package document

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/multiformats/go-varint"

	"collab-realtime/backend/internal/wire"
)

// Sync sub-message types carried inside a ContentSync payload.
const (
	msgStep1  uint64 = 0 // state vector: field -> clock
	msgStep2  uint64 = 1 // entries the receiver lacks
	msgUpdate uint64 = 2 // incremental entries
)

// ErrBadSyncMessage is returned when a ContentSync payload cannot be decoded.
var ErrBadSyncMessage = errors.New("document: bad sync message")

func encodeSync(kind uint64, body any) ([]byte, error) {
	b, err := cbor.Marshal(body)
	if err != nil {
		return nil, err
	}
	return append(varint.ToUvarint(kind), b...), nil
}

func decodeSync(payload []byte) (uint64, []byte, error) {
	if len(payload) == 0 {
		return 0, nil, ErrBadSyncMessage
	}
	kind, n, err := varint.FromUvarint(payload)
	if err != nil {
		return 0, nil, ErrBadSyncMessage
	}
	return kind, payload[n:], nil
}

// SyncStep1 encodes this document's state vector. It is the first frame sent to a new peer.
func (d *Document) SyncStep1() []byte {
	payload, err := encodeSync(msgStep1, d.stateVector())
	if err != nil {
		return nil
	}
	return payload
}

// ApplySync applies a ContentSync payload from origin and returns the engine's response payload.
// Step1 yields a Step2 reply; Step2 and Update apply entries, broadcast what changed to the other
// peers, fire the change hook, and yield no reply.
func (d *Document) ApplySync(origin Peer, payload []byte) ([]byte, error) {
	kind, body, err := decodeSync(payload)
	if err != nil {
		return nil, err
	}
	switch kind {
	case msgStep1:
		var sv map[string]uint64
		if err := cbor.Unmarshal(body, &sv); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSyncMessage, err)
		}
		return encodeSync(msgStep2, d.diff(sv))
	case msgStep2, msgUpdate:
		var entries []Entry
		if err := cbor.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSyncMessage, err)
		}
		applied := d.apply(entries)
		if len(applied) == 0 {
			return nil, nil
		}
		if out, err := encodeSync(msgUpdate, applied); err == nil {
			d.broadcast(wire.EncodeContentSync(out), origin)
		}
		if d.onChange != nil && origin != nil {
			d.onChange(d, origin.Session())
		}
		return nil, nil
	default:
		return nil, ErrBadSyncMessage
	}
}

func (d *Document) stateVector() map[string]uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sv := make(map[string]uint64, len(d.entries))
	for f, e := range d.entries {
		sv[f] = e.Clock
	}
	return sv
}

func (d *Document) diff(sv map[string]uint64) []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, 0)
	for f, e := range d.entries {
		if known, ok := sv[f]; !ok || e.Clock > known {
			out = append(out, e)
		}
	}
	return out
}

// apply merges peer entries and returns those that won. Writes to MetaField and empty field names are ignored.
func (d *Document) apply(entries []Entry) []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	applied := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Field == "" || e.Field == MetaField || e.Origin == serverOrigin {
			continue
		}
		if cur, ok := d.entries[e.Field]; ok && !e.newerThan(cur) {
			continue
		}
		d.entries[e.Field] = e
		applied = append(applied, e)
	}
	return applied
}

// EncodeStep1 builds a Step1 payload for a state vector. Exported for clients and tests.
func EncodeStep1(sv map[string]uint64) ([]byte, error) { return encodeSync(msgStep1, sv) }

// EncodeUpdate builds an Update payload carrying entries. Exported for clients and tests.
func EncodeUpdate(entries []Entry) ([]byte, error) { return encodeSync(msgUpdate, entries) }

// DecodeEntries decodes a Step2 or Update payload.
func DecodeEntries(payload []byte) ([]Entry, error) {
	kind, body, err := decodeSync(payload)
	if err != nil {
		return nil, err
	}
	if kind != msgStep2 && kind != msgUpdate {
		return nil, ErrBadSyncMessage
	}
	var entries []Entry
	if err := cbor.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSyncMessage, err)
	}
	return entries, nil
}
