package models

import (
	"encoding/json"
	"time"
)

// Dead-letter scopes.
const (
	DeadLetterConsumer = "consumer" // a bus consumer exhausted redeliveries
	DeadLetterDelivery = "delivery" // a destination exhausted its retry budget
)

// DeadLetter is a terminal record awaiting operator inspection or manual
// replay. Source is the consumer group or the destination id, depending on
// scope.
type DeadLetter struct {
	ID           string          `json:"id"`
	Scope        string          `json:"scope"`
	Source       string          `json:"source"`
	TenantID     string          `json:"tenant_id,omitempty"`
	SubmissionID string          `json:"submission_id,omitempty"`
	Reason       string          `json:"reason"`
	Detail       string          `json:"detail,omitempty"`
	Attempts     int             `json:"attempts"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
