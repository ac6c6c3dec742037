package forms

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// =========== Template Repository ===========

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository { return &templateRepoPG{pool: pool} }

const templateCols = `id, name, description, fields,
	default_consent_duration, min_consent_duration, max_consent_duration,
	grace_period_days, allow_auto_renewal, active, created_at, updated_at`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Fields,
		&t.DefaultConsentDuration, &t.MinConsentDuration, &t.MaxConsentDuration,
		&t.GracePeriodDays, &t.AllowAutoRenewal, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *templateRepoPG) Create(ctx context.Context, t *Template) error {
	t.ID = uuid.New()
	return r.pool.QueryRow(ctx, `
		INSERT INTO form_template (id, name, description, fields,
			default_consent_duration, min_consent_duration, max_consent_duration,
			grace_period_days, allow_auto_renewal, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		t.ID, t.Name, t.Description, t.Fields,
		t.DefaultConsentDuration, t.MinConsentDuration, t.MaxConsentDuration,
		t.GracePeriodDays, t.AllowAutoRenewal, t.Active).
		Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *templateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx, `SELECT `+templateCols+` FROM form_template WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	return t, err
}

func (r *templateRepoPG) Update(ctx context.Context, t *Template) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE form_template
		SET name=$2, description=$3, fields=$4,
		    default_consent_duration=$5, min_consent_duration=$6, max_consent_duration=$7,
		    grace_period_days=$8, allow_auto_renewal=$9, active=$10, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Name, t.Description, t.Fields,
		t.DefaultConsentDuration, t.MinConsentDuration, t.MaxConsentDuration,
		t.GracePeriodDays, t.AllowAutoRenewal, t.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *templateRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM form_template WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *templateRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Template, int, error) {
	where := ``
	if activeOnly {
		where = ` WHERE active = TRUE`
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM form_template`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+templateCols+` FROM form_template`+where+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

// =========== Submission Repository ===========

type submissionRepoPG struct{ pool *pgxpool.Pool }

func NewSubmissionRepoPG(pool *pgxpool.Pool) SubmissionRepository {
	return &submissionRepoPG{pool: pool}
}

const submissionCols = `id, template_id, patient_name, patient_email, data,
	consent_given, consent_at, consent_expires_at, consent_duration_months,
	consent_withdrawn_at, withdrawal_reason, auto_renew,
	renewed_at, renewal_count, created_at, updated_at`

func scanSubmission(row pgx.Row) (*Submission, error) {
	var s Submission
	err := row.Scan(&s.ID, &s.TemplateID, &s.PatientName, &s.PatientEmail, &s.Data,
		&s.ConsentGiven, &s.ConsentAt, &s.ConsentExpiresAt, &s.ConsentDurationMonths,
		&s.ConsentWithdrawnAt, &s.WithdrawalReason, &s.AutoRenew,
		&s.RenewedAt, &s.RenewalCount, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *submissionRepoPG) Create(ctx context.Context, s *Submission) error {
	s.ID = uuid.New()
	return r.pool.QueryRow(ctx, `
		INSERT INTO form_submission (id, template_id, patient_name, patient_email, data,
			consent_given, consent_at, consent_expires_at, consent_duration_months, auto_renew)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		s.ID, s.TemplateID, s.PatientName, s.PatientEmail, s.Data,
		s.ConsentGiven, s.ConsentAt, s.ConsentExpiresAt, s.ConsentDurationMonths, s.AutoRenew).
		Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *submissionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Submission, error) {
	s, err := scanSubmission(r.pool.QueryRow(ctx, `SELECT `+submissionCols+` FROM form_submission WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubmissionNotFound
	}
	return s, err
}

// Update writes the patient-editable fields only. The consent lifecycle
// columns are owned by the consent engine and are not touched here.
func (r *submissionRepoPG) Update(ctx context.Context, s *Submission) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE form_submission
		SET patient_name=$2, patient_email=$3, data=$4, auto_renew=$5, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.PatientName, s.PatientEmail, s.Data, s.AutoRenew)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

func (r *submissionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM form_submission WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

func (r *submissionRepoPG) List(ctx context.Context, limit, offset int) ([]*Submission, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM form_submission`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+submissionCols+` FROM form_submission ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectSubmissions(rows, total)
}

func (r *submissionRepoPG) ListByTemplate(ctx context.Context, templateID uuid.UUID, limit, offset int) ([]*Submission, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM form_submission WHERE template_id = $1`, templateID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+submissionCols+` FROM form_submission WHERE template_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, templateID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectSubmissions(rows, total)
}

func collectSubmissions(rows pgx.Rows, total int) ([]*Submission, int, error) {
	var items []*Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
