// Package consent implements the consent lifecycle engine: status derivation,
// renewal arithmetic, withdrawal, and the scheduled expiry-warning and
// auto-renewal jobs that run against form submissions.
package consent

import (
	"time"

	"github.com/google/uuid"
)

// Status is the derived lifecycle state of a consent record. It is never
// stored; it is recomputed from timestamps on every read so that the passage
// of time alone cannot leave a stale status behind.
type Status int

const (
	StatusNotGiven Status = iota
	StatusWithdrawn
	StatusActive
	StatusGracePeriod
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusNotGiven:
		return "not_given"
	case StatusWithdrawn:
		return "withdrawn"
	case StatusActive:
		return "active"
	case StatusGracePeriod:
		return "grace_period"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Urgency is an ordinal renewal-urgency signal derived from days remaining.
type Urgency int

const (
	UrgencyNone Urgency = iota
	UrgencyLow
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyNone:
		return "none"
	case UrgencyLow:
		return "low"
	case UrgencyMedium:
		return "medium"
	case UrgencyHigh:
		return "high"
	case UrgencyCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the urgency as its string form.
func (u Urgency) MarshalJSON() ([]byte, error) {
	return []byte(`"` + u.String() + `"`), nil
}

// Renewer identifies who performed a renewal.
type Renewer string

const (
	RenewedByPatient Renewer = "patient"
	RenewedByAuto    Renewer = "auto"
)

// HistoryEntry is one renewal in a record's append-only audit trail. Entries
// are never mutated or removed once appended.
type HistoryEntry struct {
	PreviousExpiresAt time.Time `json:"previous_expires_at"`
	NewExpiresAt      time.Time `json:"new_expires_at"`
	RenewedBy         Renewer   `json:"renewed_by"`
	DurationMonths    int       `json:"duration_months"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// Policy is the consent configuration owned by the form template. Read-only
// to this engine. Invariant: MinDurationMonths <= DefaultDurationMonths <=
// MaxDurationMonths, enforced where templates are created.
type Policy struct {
	DefaultDurationMonths int  `json:"default_duration_months"`
	MinDurationMonths     int  `json:"min_duration_months"`
	MaxDurationMonths     int  `json:"max_duration_months"`
	GracePeriodDays       int  `json:"grace_period_days"`
	AllowAutoRenewal      bool `json:"allow_auto_renewal"`
}

// Record is the consent-bearing view of a form submission, joined with the
// owning template's policy. The engine mutates it only through renewal and
// withdrawal.
type Record struct {
	ID               uuid.UUID      `json:"id"`
	TemplateID       uuid.UUID      `json:"template_id"`
	PatientName      string         `json:"patient_name"`
	PatientEmail     string         `json:"patient_email"`
	Given            bool           `json:"consent_given"`
	GivenAt          *time.Time     `json:"consent_at,omitempty"`
	ExpiresAt        *time.Time     `json:"consent_expires_at,omitempty"`
	DurationMonths   *int           `json:"consent_duration_months,omitempty"`
	WithdrawnAt      *time.Time     `json:"consent_withdrawn_at,omitempty"`
	WithdrawalReason *string        `json:"withdrawal_reason,omitempty"`
	AutoRenew        bool           `json:"auto_renew"`
	RenewedAt        *time.Time     `json:"renewed_at,omitempty"`
	RenewalCount     int            `json:"renewal_count"`
	RenewalHistory   []HistoryEntry `json:"renewal_history"`
	Policy           Policy         `json:"policy"`
}

// StatusResult is the full derived status of a record at a point in time.
type StatusResult struct {
	Status        Status  `json:"status"`
	IsAccessible  bool    `json:"is_accessible"`
	DaysRemaining *int    `json:"days_remaining,omitempty"`
	Urgency       Urgency `json:"renewal_urgency"`
	CanRenew      bool    `json:"can_renew"`
	Message       string  `json:"message"`
}
