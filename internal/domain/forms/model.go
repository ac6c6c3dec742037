// Package forms manages intake form templates and patient submissions. The
// template owns the consent policy its submissions inherit; the submission
// owns the consent columns the lifecycle engine operates on.
package forms

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/careforms/intake/internal/domain/consent"
)

// Template maps to the form_template table. Fields is the opaque form schema
// blob; this service never interprets it.
type Template struct {
	ID                     uuid.UUID       `db:"id" json:"id"`
	Name                   string          `db:"name" json:"name"`
	Description            *string         `db:"description" json:"description,omitempty"`
	Fields                 json.RawMessage `db:"fields" json:"fields"`
	DefaultConsentDuration int             `db:"default_consent_duration" json:"default_consent_duration"`
	MinConsentDuration     int             `db:"min_consent_duration" json:"min_consent_duration"`
	MaxConsentDuration     int             `db:"max_consent_duration" json:"max_consent_duration"`
	GracePeriodDays        int             `db:"grace_period_days" json:"grace_period_days"`
	AllowAutoRenewal       bool            `db:"allow_auto_renewal" json:"allow_auto_renewal"`
	Active                 bool            `db:"active" json:"active"`
	CreatedAt              time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time       `db:"updated_at" json:"updated_at"`
}

// ConsentPolicy returns the template's consent configuration in the form the
// lifecycle engine consumes.
func (t *Template) ConsentPolicy() consent.Policy {
	return consent.Policy{
		DefaultDurationMonths: t.DefaultConsentDuration,
		MinDurationMonths:     t.MinConsentDuration,
		MaxDurationMonths:     t.MaxConsentDuration,
		GracePeriodDays:       t.GracePeriodDays,
		AllowAutoRenewal:      t.AllowAutoRenewal,
	}
}

// Submission maps to the form_submission table. Data is the patient's answers
// as an opaque blob. The consent columns are written once at submission time;
// after that only the lifecycle engine mutates them.
type Submission struct {
	ID                    uuid.UUID       `db:"id" json:"id"`
	TemplateID            uuid.UUID       `db:"template_id" json:"template_id"`
	PatientName           string          `db:"patient_name" json:"patient_name"`
	PatientEmail          string          `db:"patient_email" json:"patient_email"`
	Data                  json.RawMessage `db:"data" json:"data"`
	ConsentGiven          bool            `db:"consent_given" json:"consent_given"`
	ConsentAt             *time.Time      `db:"consent_at" json:"consent_at,omitempty"`
	ConsentExpiresAt      *time.Time      `db:"consent_expires_at" json:"consent_expires_at,omitempty"`
	ConsentDurationMonths *int            `db:"consent_duration_months" json:"consent_duration_months,omitempty"`
	ConsentWithdrawnAt    *time.Time      `db:"consent_withdrawn_at" json:"consent_withdrawn_at,omitempty"`
	WithdrawalReason      *string         `db:"withdrawal_reason" json:"withdrawal_reason,omitempty"`
	AutoRenew             bool            `db:"auto_renew" json:"auto_renew"`
	RenewedAt             *time.Time      `db:"renewed_at" json:"renewed_at,omitempty"`
	RenewalCount          int             `db:"renewal_count" json:"renewal_count"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
}
