package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types carried by the bus.
const (
	EventSubmissionReceived = "submission.received"
)

// SchemaVersion is stamped on every envelope so consumers can reject
// envelopes they do not understand.
const SchemaVersion = "1.0"

// BlobRef points at an offloaded payload in an external store.
type BlobRef struct {
	Store string `json:"store"`
	Key   string `json:"key"`
}

// Payload carries the submission body either inline or by reference.
// Exactly one of the two fields is set.
type Payload struct {
	Inline json.RawMessage `json:"inline,omitempty"`
	Ref    *BlobRef        `json:"ref,omitempty"`
}

// Envelope is the unit flowing through the event bus.
type Envelope struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	TenantID      string    `json:"tenant_id"`
	SubmissionID  string    `json:"submission_id"`
	Source        string    `json:"source,omitempty"`
	EmittedAt     time.Time `json:"emitted_at"`

	// Replayed marks envelopes reissued by the replay manager so consumers
	// can distinguish original from replayed processing in logs.
	Replayed bool `json:"replayed,omitempty"`

	Payload Payload `json:"payload"`
}

func NewEnvelope(eventType, tenantID, submissionID string, payload Payload) *Envelope {
	return &Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		TenantID:      tenantID,
		SubmissionID:  submissionID,
		EmittedAt:     time.Now().UTC(),
		Payload:       payload,
	}
}
