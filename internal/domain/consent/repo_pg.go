package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type storePG struct{ pool *pgxpool.Pool }

// NewStorePG returns the pgx-backed Store over form_submission joined with
// its template's consent policy.
func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

const recordCols = `s.id, s.template_id, s.patient_name, s.patient_email,
	s.consent_given, s.consent_at, s.consent_expires_at, s.consent_duration_months,
	s.consent_withdrawn_at, s.withdrawal_reason, s.auto_renew,
	s.renewed_at, s.renewal_count, s.renewal_history,
	t.default_consent_duration, t.min_consent_duration, t.max_consent_duration,
	t.grace_period_days, t.allow_auto_renewal`

const recordFrom = ` FROM form_submission s JOIN form_template t ON t.id = s.template_id`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var history []byte
	err := row.Scan(&r.ID, &r.TemplateID, &r.PatientName, &r.PatientEmail,
		&r.Given, &r.GivenAt, &r.ExpiresAt, &r.DurationMonths,
		&r.WithdrawnAt, &r.WithdrawalReason, &r.AutoRenew,
		&r.RenewedAt, &r.RenewalCount, &history,
		&r.Policy.DefaultDurationMonths, &r.Policy.MinDurationMonths, &r.Policy.MaxDurationMonths,
		&r.Policy.GracePeriodDays, &r.Policy.AllowAutoRenewal)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &r.RenewalHistory); err != nil {
			return nil, fmt.Errorf("decode renewal history for %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func (s *storePG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordCols+recordFrom+` WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return r, err
}

func (s *storePG) List(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM form_submission`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+recordCols+recordFrom+` ORDER BY s.created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectRecords(rows)
	return items, total, err
}

func (s *storePG) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordCols+recordFrom+`
		WHERE s.consent_given = TRUE
		  AND s.consent_withdrawn_at IS NULL
		  AND s.patient_email <> ''
		  AND s.consent_expires_at BETWEEN $1 AND $2
		ORDER BY s.consent_expires_at`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *storePG) ListAutoRenewable(ctx context.Context, from, to time.Time) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordCols+recordFrom+`
		WHERE s.auto_renew = TRUE
		  AND s.consent_given = TRUE
		  AND s.consent_withdrawn_at IS NULL
		  AND s.consent_expires_at BETWEEN $1 AND $2
		ORDER BY s.consent_expires_at`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]*Record, error) {
	var items []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (s *storePG) ApplyRenewal(ctx context.Context, id uuid.UUID, expectedCount int, newExpiresAt, renewedAt time.Time, durationMonths int, history []HistoryEntry) error {
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return &PersistenceError{Err: fmt.Errorf("encode renewal history: %w", err)}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE form_submission
		SET consent_expires_at = $2,
		    renewed_at = $3,
		    consent_duration_months = $4,
		    renewal_count = renewal_count + 1,
		    renewal_history = $5,
		    updated_at = NOW()
		WHERE id = $1 AND renewal_count = $6 AND consent_withdrawn_at IS NULL`,
		id, newExpiresAt, renewedAt, durationMonths, historyJSON, expectedCount)
	if err != nil {
		return &PersistenceError{Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &PersistenceError{Err: fmt.Errorf("record %s changed concurrently or was withdrawn", id)}
	}
	return nil
}

func (s *storePG) Withdraw(ctx context.Context, id uuid.UUID, reason *string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE form_submission
		SET consent_withdrawn_at = $2, withdrawal_reason = $3, updated_at = NOW()
		WHERE id = $1 AND consent_withdrawn_at IS NULL`,
		id, at, reason)
	if err != nil {
		return &PersistenceError{Err: err}
	}
	if tag.RowsAffected() == 0 {
		return newValidationError("consent already withdrawn or record %s not found", id)
	}
	return nil
}

type ledgerPG struct{ pool *pgxpool.Pool }

// NewLedgerPG returns the pgx-backed notification ledger. The
// (submission_id, notification_type) uniqueness is enforced by the table's
// unique constraint, so concurrent job runs cannot double-record.
func NewLedgerPG(pool *pgxpool.Pool) Ledger { return &ledgerPG{pool: pool} }

func (l *ledgerPG) Exists(ctx context.Context, recordID uuid.UUID, notificationType string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notification_log
			WHERE submission_id = $1 AND notification_type = $2
		)`, recordID, notificationType).Scan(&exists)
	return exists, err
}

func (l *ledgerPG) Record(ctx context.Context, recordID uuid.UUID, notificationType string, sentAt time.Time) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO notification_log (id, submission_id, notification_type, sent_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (submission_id, notification_type) DO NOTHING`,
		uuid.New(), recordID, notificationType, sentAt)
	return err
}
