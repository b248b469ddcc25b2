package telemetry

import "time"

// Lifecycle event types.
const (
	EventConnectionOpened    = "connection_opened"
	EventConnectionClosed    = "connection_closed"
	EventCredentialRefreshed = "credential_refreshed"
	EventDocumentLoaded      = "document_loaded"
	EventDocumentSaved       = "document_saved"
	EventDocumentSaveFailed  = "document_save_failed"
)

// Event is one session lifecycle record. Zero-valued fields are omitted by every sink.
type Event struct {
	Type         string    `json:"event_type"`
	Document     string    `json:"document"`
	ResourceKind string    `json:"resource_kind,omitempty"`
	ResourceID   int64     `json:"resource_id,omitempty"`
	UserID       int64     `json:"user_id,omitempty"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
