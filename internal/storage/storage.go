package storage

import (
	"context"
	"errors"
	"time"

	"github.com/formsink/formsink/internal/bus"
	"github.com/formsink/formsink/internal/models"
)

// ErrDuplicateAttempt reports that the attempt number is already recorded for
// the delivery. A worker recovering from a partial write uses it to adopt the
// existing record instead of failing.
var ErrDuplicateAttempt = errors.New("attempt already recorded")

// Storage is the durable multi-tenant store behind the pipeline. All writes
// are either conditional create-if-absent (submissions, deliveries) or
// append-only (attempts, archive, dead letters); the conditional-write
// primitive is the only concurrency control the pipeline needs.
//
// Getters return (nil, nil) when the row does not exist.
type Storage interface {
	// Tenants
	CreateTenant(ctx context.Context, t *models.Tenant) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]models.Tenant, error)
	UpdateTenantSecret(ctx context.Context, id, secret string) error
	SetTenantStatus(ctx context.Context, id string, status models.TenantStatus) error

	// Destinations
	CreateDestination(ctx context.Context, d *models.Destination) error
	GetDestination(ctx context.Context, id string) (*models.Destination, error)
	ListDestinations(ctx context.Context, tenantID string) ([]models.Destination, error)
	ListEnabledDestinations(ctx context.Context, tenantID string) ([]models.Destination, error)
	SetDestinationEnabled(ctx context.Context, id string, enabled bool) error

	// Submissions. CreateSubmissionIfAbsent is keyed (tenant, submission id)
	// and reports whether the row was created; a duplicate is not an error.
	CreateSubmissionIfAbsent(ctx context.Context, s *models.Submission) (bool, error)
	GetSubmission(ctx context.Context, tenantID, id string) (*models.Submission, error)
	GetSubmissionByID(ctx context.Context, id string) (*models.Submission, error)
	UpdateSubmissionStatus(ctx context.Context, tenantID, id string, status models.SubmissionStatus) error

	// MarkSubmissionDelivering transitions the submission to delivering
	// unless it already reached a terminal status.
	MarkSubmissionDelivering(ctx context.Context, tenantID, id string) error

	// Deliveries. CreateDeliveryIfAbsent is keyed (submission, destination).
	CreateDeliveryIfAbsent(ctx context.Context, d *models.Delivery) (bool, error)
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	GetDeliveriesBySubmission(ctx context.Context, submissionID string) ([]models.Delivery, error)
	UpdateDelivery(ctx context.Context, d *models.Delivery) error
	GetDueDeliveries(ctx context.Context, limit int) ([]models.Delivery, error)

	// Attempts are append-only; attempt numbers are unique per delivery.
	AppendAttempt(ctx context.Context, a *models.Attempt) error
	GetAttemptsByDelivery(ctx context.Context, deliveryID string) ([]models.Attempt, error)

	// Event archive
	ArchiveEvent(ctx context.Context, ev *bus.Envelope) error
	GetArchivedEvent(ctx context.Context, tenantID, submissionID, eventType string) (*bus.Envelope, error)
	ListArchivedEvents(ctx context.Context, f ReplayFilter) ([]bus.Envelope, error)

	// Dead letters
	RecordDeadLetter(ctx context.Context, dl *models.DeadLetter) error
	ListDeadLetters(ctx context.Context, tenantID string, limit int) ([]models.DeadLetter, error)

	// Stats
	GetStats(ctx context.Context, tenantID string) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ReplayFilter selects archived events for re-publication.
type ReplayFilter struct {
	From      time.Time
	To        time.Time
	TenantID  string
	EventType string
}

type Stats struct {
	TotalSubmissions    int64   `json:"total_submissions"`
	TotalDeliveries     int64   `json:"total_deliveries"`
	SucceededCount      int64   `json:"succeeded_count"`
	FailedCount         int64   `json:"failed_count"`
	PendingCount        int64   `json:"pending_count"`
	SuccessRate         float64 `json:"success_rate"`
	TotalDestinations   int64   `json:"total_destinations"`
	EnabledDestinations int64   `json:"enabled_destinations"`
	DeadLetterCount     int64   `json:"dead_letter_count"`
}
