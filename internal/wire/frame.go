// Package wire encodes and decodes the typed binary frames exchanged with collab clients.
//
// A frame is a uvarint type tag followed by the payload. ContentSync and Presence payloads are
// opaque to this package and handed to the document engine verbatim. A CredentialRefresh payload
// is a uvarint length followed by that many bytes of credential.
package wire

import (
	"errors"

	"github.com/multiformats/go-varint"
)

// Type is the leading tag of a frame.
type Type uint64

const (
	ContentSync       Type = 0
	Presence          Type = 1
	CredentialRefresh Type = 2
)

func (t Type) String() string {
	switch t {
	case ContentSync:
		return "content_sync"
	case Presence:
		return "presence"
	case CredentialRefresh:
		return "credential_refresh"
	default:
		return "unknown"
	}
}

// ErrMalformedFrame is returned for empty input, an unreadable tag, or a truncated refresh payload.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// Frame is one decoded message.
type Frame struct {
	Type    Type
	Payload []byte
	// Credential is set for CredentialRefresh frames.
	Credential string
}

// Known reports whether the frame type is one this server handles. Unknown frames are dropped, not rejected.
func (f Frame) Known() bool {
	switch f.Type {
	case ContentSync, Presence, CredentialRefresh:
		return true
	default:
		return false
	}
}

// Decode parses one frame. A frame with an unrecognized tag decodes without error and reports Known() == false.
func Decode(b []byte) (Frame, error) {
	if len(b) == 0 {
		return Frame{}, ErrMalformedFrame
	}
	tag, n, err := varint.FromUvarint(b)
	if err != nil {
		return Frame{}, ErrMalformedFrame
	}
	f := Frame{Type: Type(tag), Payload: b[n:]}
	if f.Type != CredentialRefresh {
		return f, nil
	}
	cred, err := readString(f.Payload)
	if err != nil {
		return Frame{}, err
	}
	f.Credential = cred
	f.Payload = nil
	return f, nil
}

func readString(b []byte) (string, error) {
	if len(b) == 0 {
		return "", ErrMalformedFrame
	}
	l, n, err := varint.FromUvarint(b)
	if err != nil || uint64(len(b)-n) < l {
		return "", ErrMalformedFrame
	}
	return string(b[n : n+int(l)]), nil
}

// Encode returns the bytes of a frame of type t carrying payload.
func Encode(t Type, payload []byte) []byte {
	tag := varint.ToUvarint(uint64(t))
	out := make([]byte, 0, len(tag)+len(payload))
	out = append(out, tag...)
	return append(out, payload...)
}

// EncodeContentSync wraps an engine sync payload.
func EncodeContentSync(payload []byte) []byte { return Encode(ContentSync, payload) }

// EncodePresence wraps an engine presence payload.
func EncodePresence(payload []byte) []byte { return Encode(Presence, payload) }

// EncodeCredentialRefresh builds the frame a client sends to replace its credential.
func EncodeCredentialRefresh(credential string) []byte {
	l := varint.ToUvarint(uint64(len(credential)))
	payload := make([]byte, 0, len(l)+len(credential))
	payload = append(payload, l...)
	payload = append(payload, credential...)
	return Encode(CredentialRefresh, payload)
}
