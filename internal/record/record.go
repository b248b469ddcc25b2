// Package record defines the backend record store the persistence bridge loads from and saves to.
package record

import (
	"context"
	"encoding/json"
	"errors"

	"collab-realtime/backend/internal/session/domain"
)

var (
	// ErrLoadFailed is returned when the backing record is absent or carries no content payload.
	ErrLoadFailed = errors.New("record: load failed")
	// ErrSaveFailed is returned when the backend rejects or never answers a save.
	ErrSaveFailed = errors.New("record: save failed")
)

// Record is the collab content of one backing record, keyed by field name. Values are the backend's
// JSON representation of each field.
type Record struct {
	Fields map[string]json.RawMessage
}

// Store loads and saves records. The credential is the connecting principal's bearer token; stores that
// authenticate as the principal forward it, others ignore it.
type Store interface {
	Load(ctx context.Context, kind domain.ResourceKind, id int64, credential string) (*Record, error)
	Save(ctx context.Context, kind domain.ResourceKind, id int64, rec *Record, credential string) error
}
