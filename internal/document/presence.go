package document

import (
	"sort"

	"github.com/fxamacker/cbor/v2"

	"collab-realtime/backend/internal/wire"
)

// PresenceState is one peer's ephemeral presence blob. An empty State announces removal.
type PresenceState struct {
	Peer  string `cbor:"1,keyasint"`
	State []byte `cbor:"2,keyasint,omitempty"`
}

func encodePresence(states []PresenceState) ([]byte, error) {
	return cbor.Marshal(states)
}

// DecodePresence decodes a Presence payload.
func DecodePresence(payload []byte) ([]PresenceState, error) {
	var states []PresenceState
	if err := cbor.Unmarshal(payload, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// ApplyPresence records origin's presence state and forwards it to the other peers.
// The payload is the origin's own opaque state; an empty payload clears it.
func (d *Document) ApplyPresence(origin Peer, state []byte) {
	d.mu.Lock()
	if len(state) == 0 {
		delete(d.presence, origin.ID())
	} else {
		d.presence[origin.ID()] = append([]byte(nil), state...)
	}
	d.mu.Unlock()

	payload, err := encodePresence([]PresenceState{{Peer: origin.ID(), State: state}})
	if err != nil {
		return
	}
	d.broadcast(wire.EncodePresence(payload), origin)
}

// HasPresence reports whether any peer currently has presence state.
func (d *Document) HasPresence() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.presence) > 0
}

// PresenceUpdate encodes every peer's current presence state, ordered by peer ID.
func (d *Document) PresenceUpdate() []byte {
	d.mu.RLock()
	states := make([]PresenceState, 0, len(d.presence))
	for id, s := range d.presence {
		states = append(states, PresenceState{Peer: id, State: s})
	}
	d.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].Peer < states[j].Peer })
	payload, err := encodePresence(states)
	if err != nil {
		return nil
	}
	return payload
}
