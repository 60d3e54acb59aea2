package models

import (
	"encoding/json"
	"time"
)

type SubmissionStatus string

const (
	SubmissionReceived        SubmissionStatus = "received"
	SubmissionPersisted       SubmissionStatus = "persisted"
	SubmissionDelivering      SubmissionStatus = "delivering"
	SubmissionDelivered       SubmissionStatus = "delivered"
	SubmissionPartiallyFailed SubmissionStatus = "partially_failed"
	SubmissionFailed          SubmissionStatus = "failed"
)

// Submission is one logical form-data event. The payload is opaque to the
// pipeline: small payloads are stored inline, large ones as a blob reference.
// The record is immutable after persistence except for status transitions.
type Submission struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenant_id"`
	Source        string           `json:"source,omitempty"`
	Status        SubmissionStatus `json:"status"`
	PayloadInline json.RawMessage  `json:"payload_inline,omitempty"`
	PayloadRef    string           `json:"payload_ref,omitempty"`
	ReceivedAt    time.Time        `json:"received_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}
