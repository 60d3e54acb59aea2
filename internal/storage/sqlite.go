package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/formsink/formsink/internal/bus"
	"github.com/formsink/formsink/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			secret TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS destinations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			protocol TEXT NOT NULL DEFAULT 'webhook',
			url TEXT NOT NULL,
			auth_mode TEXT NOT NULL DEFAULT '',
			secret TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			max_attempts INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id TEXT NOT NULL,
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			source TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'received',
			payload_inline TEXT NOT NULL DEFAULT '',
			payload_ref TEXT NOT NULL DEFAULT '',
			received_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (tenant_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			submission_id TEXT NOT NULL,
			destination_id TEXT NOT NULL REFERENCES destinations(id),
			tenant_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			next_retry_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (submission_id, destination_id)
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			delivery_id TEXT NOT NULL REFERENCES deliveries(id),
			attempt_number INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (delivery_id, attempt_number)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			submission_id TEXT NOT NULL,
			emitted_at DATETIME NOT NULL,
			envelope TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			source TEXT NOT NULL,
			tenant_id TEXT NOT NULL DEFAULT '',
			submission_id TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_destinations_tenant ON destinations(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_tenant ON submissions(tenant_id, received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_submission ON deliveries(submission_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON deliveries(status, next_retry_at) WHERE status IN ('pending', 'retrying')`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_delivery ON attempts(delivery_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_emitted ON events(emitted_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_submission ON events(tenant_id, submission_id)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_tenant ON dead_letters(tenant_id)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Tenants ---

func (s *SQLiteStorage) CreateTenant(ctx context.Context, t *models.Tenant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, secret, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Secret, t.Status, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, secret, status, created_at, updated_at FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Secret, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &t, err
}

func (s *SQLiteStorage) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, secret, status, created_at, updated_at FROM tenants ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Secret, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (s *SQLiteStorage) UpdateTenantSecret(ctx context.Context, id, secret string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET secret = ?, updated_at = ? WHERE id = ?`,
		secret, time.Now().UTC(), id,
	)
	return err
}

func (s *SQLiteStorage) SetTenantStatus(ctx context.Context, id string, status models.TenantStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	return err
}

// --- Destinations ---

func (s *SQLiteStorage) CreateDestination(ctx context.Context, d *models.Destination) error {
	enabled := 0
	if d.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO destinations (id, tenant_id, protocol, url, auth_mode, secret, enabled, max_attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TenantID, d.Protocol, d.URL, d.AuthMode, d.Secret, enabled, d.MaxAttempts, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanDestination(row interface{ Scan(...interface{}) error }) (*models.Destination, error) {
	var d models.Destination
	var enabled int
	err := row.Scan(&d.ID, &d.TenantID, &d.Protocol, &d.URL, &d.AuthMode, &d.Secret, &enabled, &d.MaxAttempts, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Enabled = enabled == 1
	return &d, nil
}

func (s *SQLiteStorage) GetDestination(ctx context.Context, id string) (*models.Destination, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, protocol, url, auth_mode, secret, enabled, max_attempts, created_at, updated_at FROM destinations WHERE id = ?`, id)
	d, err := s.scanDestination(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStorage) listDestinations(ctx context.Context, query string, args ...interface{}) ([]models.Destination, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dests []models.Destination
	for rows.Next() {
		d, err := s.scanDestination(rows)
		if err != nil {
			return nil, err
		}
		dests = append(dests, *d)
	}
	return dests, rows.Err()
}

func (s *SQLiteStorage) ListDestinations(ctx context.Context, tenantID string) ([]models.Destination, error) {
	return s.listDestinations(ctx,
		`SELECT id, tenant_id, protocol, url, auth_mode, secret, enabled, max_attempts, created_at, updated_at
		 FROM destinations WHERE tenant_id = ? ORDER BY created_at`, tenantID)
}

func (s *SQLiteStorage) ListEnabledDestinations(ctx context.Context, tenantID string) ([]models.Destination, error) {
	return s.listDestinations(ctx,
		`SELECT id, tenant_id, protocol, url, auth_mode, secret, enabled, max_attempts, created_at, updated_at
		 FROM destinations WHERE tenant_id = ? AND enabled = 1 ORDER BY created_at`, tenantID)
}

func (s *SQLiteStorage) SetDestinationEnabled(ctx context.Context, id string, enabled bool) error {
	e := 0
	if enabled {
		e = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE destinations SET enabled = ?, updated_at = ? WHERE id = ?`, e, time.Now().UTC(), id)
	return err
}

// --- Submissions ---

func (s *SQLiteStorage) CreateSubmissionIfAbsent(ctx context.Context, sub *models.Submission) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO submissions (id, tenant_id, source, status, payload_inline, payload_ref, received_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.TenantID, sub.Source, sub.Status, string(sub.PayloadInline), sub.PayloadRef, sub.ReceivedAt, sub.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStorage) scanSubmission(row interface{ Scan(...interface{}) error }) (*models.Submission, error) {
	var sub models.Submission
	var inline string
	err := row.Scan(&sub.ID, &sub.TenantID, &sub.Source, &sub.Status, &inline, &sub.PayloadRef, &sub.ReceivedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if inline != "" {
		sub.PayloadInline = json.RawMessage(inline)
	}
	return &sub, nil
}

func (s *SQLiteStorage) GetSubmission(ctx context.Context, tenantID, id string) (*models.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, source, status, payload_inline, payload_ref, received_at, updated_at
		 FROM submissions WHERE tenant_id = ? AND id = ?`, tenantID, id)
	sub, err := s.scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

func (s *SQLiteStorage) GetSubmissionByID(ctx context.Context, id string) (*models.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, source, status, payload_inline, payload_ref, received_at, updated_at
		 FROM submissions WHERE id = ?`, id)
	sub, err := s.scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

func (s *SQLiteStorage) UpdateSubmissionStatus(ctx context.Context, tenantID, id string, status models.SubmissionStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		status, time.Now().UTC(), tenantID, id,
	)
	return err
}

func (s *SQLiteStorage) MarkSubmissionDelivering(ctx context.Context, tenantID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ? AND status NOT IN (?, ?, ?)`,
		models.SubmissionDelivering, time.Now().UTC(), tenantID, id,
		models.SubmissionDelivered, models.SubmissionPartiallyFailed, models.SubmissionFailed,
	)
	return err
}

// --- Deliveries ---

func (s *SQLiteStorage) CreateDeliveryIfAbsent(ctx context.Context, d *models.Delivery) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO deliveries (id, submission_id, destination_id, tenant_id, status, attempt_count, next_retry_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SubmissionID, d.DestinationID, d.TenantID, d.Status, d.AttemptCount, d.NextRetryAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStorage) scanDelivery(row interface{ Scan(...interface{}) error }) (*models.Delivery, error) {
	var d models.Delivery
	err := row.Scan(&d.ID, &d.SubmissionID, &d.DestinationID, &d.TenantID, &d.Status, &d.AttemptCount, &d.NextRetryAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStorage) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, submission_id, destination_id, tenant_id, status, attempt_count, next_retry_at, created_at, updated_at
		 FROM deliveries WHERE id = ?`, id)
	d, err := s.scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStorage) GetDeliveriesBySubmission(ctx context.Context, submissionID string) ([]models.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, submission_id, destination_id, tenant_id, status, attempt_count, next_retry_at, created_at, updated_at
		 FROM deliveries WHERE submission_id = ? ORDER BY created_at`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		d, err := s.scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

func (s *SQLiteStorage) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, attempt_count = ?, next_retry_at = ?, updated_at = ? WHERE id = ?`,
		d.Status, d.AttemptCount, d.NextRetryAt, time.Now().UTC(), d.ID,
	)
	return err
}

func (s *SQLiteStorage) GetDueDeliveries(ctx context.Context, limit int) ([]models.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, submission_id, destination_id, tenant_id, status, attempt_count, next_retry_at, created_at, updated_at
		 FROM deliveries
		 WHERE status IN ('pending', 'retrying') AND (next_retry_at IS NULL OR next_retry_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		d, err := s.scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

// --- Attempts ---

func (s *SQLiteStorage) AppendAttempt(ctx context.Context, a *models.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, delivery_id, attempt_number, outcome, status_code, error, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DeliveryID, a.AttemptNumber, a.Outcome, a.StatusCode, a.Error, a.LatencyMs, a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateAttempt
	}
	return err
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (s *SQLiteStorage) GetAttemptsByDelivery(ctx context.Context, deliveryID string) ([]models.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, delivery_id, attempt_number, outcome, status_code, error, latency_ms, created_at
		 FROM attempts WHERE delivery_id = ? ORDER BY attempt_number`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.Attempt
	for rows.Next() {
		var a models.Attempt
		if err := rows.Scan(&a.ID, &a.DeliveryID, &a.AttemptNumber, &a.Outcome, &a.StatusCode, &a.Error, &a.LatencyMs, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// --- Event archive ---

func (s *SQLiteStorage) ArchiveEvent(ctx context.Context, ev *bus.Envelope) error {
	envelope, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (event_id, event_type, tenant_id, submission_id, emitted_at, envelope)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.EventType, ev.TenantID, ev.SubmissionID, ev.EmittedAt, string(envelope),
	)
	return err
}

func (s *SQLiteStorage) GetArchivedEvent(ctx context.Context, tenantID, submissionID, eventType string) (*bus.Envelope, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT envelope FROM events
		 WHERE tenant_id = ? AND submission_id = ? AND event_type = ?
		 ORDER BY emitted_at DESC LIMIT 1`,
		tenantID, submissionID, eventType,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ev bus.Envelope
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil, fmt.Errorf("unmarshal archived envelope: %w", err)
	}
	return &ev, nil
}

func (s *SQLiteStorage) ListArchivedEvents(ctx context.Context, f ReplayFilter) ([]bus.Envelope, error) {
	query := `SELECT envelope FROM events WHERE emitted_at >= ? AND emitted_at <= ?`
	args := []interface{}{f.From, f.To}
	if f.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, f.TenantID)
	}
	if f.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, f.EventType)
	}
	query += ` ORDER BY emitted_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []bus.Envelope
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ev bus.Envelope
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal archived envelope: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Dead letters ---

func (s *SQLiteStorage) RecordDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, scope, source, tenant_id, submission_id, reason, detail, attempts, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dl.ID, dl.Scope, dl.Source, dl.TenantID, dl.SubmissionID, dl.Reason, dl.Detail, dl.Attempts, string(dl.Payload), dl.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) ListDeadLetters(ctx context.Context, tenantID string, limit int) ([]models.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, scope, source, tenant_id, submission_id, reason, detail, attempts, payload, created_at FROM dead_letters`
	args := []interface{}{}
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []models.DeadLetter
	for rows.Next() {
		var dl models.DeadLetter
		var payload string
		if err := rows.Scan(&dl.ID, &dl.Scope, &dl.Source, &dl.TenantID, &dl.SubmissionID, &dl.Reason, &dl.Detail, &dl.Attempts, &payload, &dl.CreatedAt); err != nil {
			return nil, err
		}
		if payload != "" {
			dl.Payload = json.RawMessage(payload)
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context, tenantID string) (*Stats, error) {
	stats := &Stats{}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions WHERE tenant_id = ?`, tenantID).Scan(&stats.TotalSubmissions)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE tenant_id = ?`, tenantID).Scan(&stats.TotalDeliveries)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE tenant_id = ? AND status = 'succeeded'`, tenantID).Scan(&stats.SucceededCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE tenant_id = ? AND status = 'failed'`, tenantID).Scan(&stats.FailedCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE tenant_id = ? AND status IN ('pending', 'retrying')`, tenantID).Scan(&stats.PendingCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM destinations WHERE tenant_id = ?`, tenantID).Scan(&stats.TotalDestinations)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM destinations WHERE tenant_id = ? AND enabled = 1`, tenantID).Scan(&stats.EnabledDestinations)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters WHERE tenant_id = ?`, tenantID).Scan(&stats.DeadLetterCount)

	if stats.TotalDeliveries > 0 {
		stats.SuccessRate = float64(stats.SucceededCount) / float64(stats.TotalDeliveries) * 100
	}

	return stats, nil
}
