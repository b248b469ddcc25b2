package domain

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrCredentialMissing is returned when a handshake carries no bearer credential.
	ErrCredentialMissing = errors.New("credential missing")
	// ErrCredentialInvalid is returned when the credential cannot be verified or decoded.
	ErrCredentialInvalid = errors.New("credential invalid")
	// ErrCredentialExpired is returned when the credential's expiry is not in the future.
	ErrCredentialExpired = errors.New("credential expired")
	// ErrUnauthorized is returned when the resource id is not in the principal's authorized set.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnknownResourceKind is returned for resource kinds outside the closed set.
	ErrUnknownResourceKind = errors.New("unknown resource kind")
	// ErrInvalidDocumentName is returned when a document name is not "<kind>-<positive id>".
	ErrInvalidDocumentName = errors.New("invalid document name")
)

// Context is the authenticated, authorized identity and resource binding attached to a connection.
// It is immutable; a credential refresh replaces it wholesale.
type Context struct {
	ResourceKind ResourceKind
	ResourceID   int64
	UserID       int64
	Credential   string
	ExpiresAt    time.Time
}

// DocumentName returns the "<kind>-<id>" name of the document the context is bound to.
func (c Context) DocumentName() string {
	return DocumentName(c.ResourceKind, c.ResourceID)
}

// Expired reports whether the context is no longer valid at now.
func (c Context) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// DocumentName formats kind and id as a document name.
func DocumentName(kind ResourceKind, id int64) string {
	return string(kind) + "-" + strconv.FormatInt(id, 10)
}

// ParseDocumentName splits "<kind>-<id>" into a known resource kind and a positive id.
func ParseDocumentName(name string) (ResourceKind, int64, error) {
	dash := strings.IndexByte(name, '-')
	if dash <= 0 || dash == len(name)-1 {
		return "", 0, ErrInvalidDocumentName
	}
	kind := ResourceKind(name[:dash])
	if !kind.Valid() {
		return "", 0, ErrUnknownResourceKind
	}
	id, err := strconv.ParseInt(name[dash+1:], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, ErrInvalidDocumentName
	}
	return kind, id, nil
}
