package models

import "time"

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryRetrying  DeliveryStatus = "retrying"
	DeliverySucceeded DeliveryStatus = "succeeded"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery is the retry state owner for one (submission, destination) pair.
// Attempt ordering is strict because all attempts for a pair flow through
// this single row.
type Delivery struct {
	ID            string         `json:"id"`
	SubmissionID  string         `json:"submission_id"`
	DestinationID string         `json:"destination_id"`
	TenantID      string         `json:"tenant_id"`
	Status        DeliveryStatus `json:"status"`
	AttemptCount  int            `json:"attempt_count"`
	NextRetryAt   *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// Attempt is one delivery attempt. Attempts are append-only and never edited;
// the latest attempt determines the pair's current state.
type Attempt struct {
	ID            string    `json:"id"`
	DeliveryID    string    `json:"delivery_id"`
	AttemptNumber int       `json:"attempt_number"`
	Outcome       string    `json:"outcome"`
	StatusCode    int       `json:"status_code,omitempty"`
	Error         string    `json:"error,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}
