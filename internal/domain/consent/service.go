package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service implements the patient/provider-facing consent operations.
type Service struct {
	store    Store
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(store Store, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Status recomputes the record's derived status at the current time. Status
// is never stored, so a read always reflects the passage of time.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*Record, StatusResult, error) {
	r, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, StatusResult{}, err
	}
	return r, ComputeRecordStatus(r, s.now().UTC()), nil
}

// Renew extends the record's consent window by durationMonths calendar
// months, anchored on the current expiry. Validation happens before any
// mutation; the history append and field updates are one atomic write. A
// confirmation email is sent best-effort after the renewal is durable.
func (s *Service) Renew(ctx context.Context, id uuid.UUID, durationMonths int, by Renewer) (*Record, error) {
	r, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	result := ComputeRecordStatus(r, now)

	switch result.Status {
	case StatusNotGiven:
		return nil, newValidationError("consent was never given")
	case StatusWithdrawn:
		return nil, newValidationError("consent has been withdrawn")
	case StatusExpired:
		return nil, newValidationError("consent has expired; a new submission is required")
	}
	if !result.CanRenew {
		return nil, newValidationError("renewal is not yet allowed; %d days remain", derefInt(result.DaysRemaining))
	}

	if durationMonths < r.Policy.MinDurationMonths || durationMonths > r.Policy.MaxDurationMonths {
		return nil, newValidationError("duration %d months is outside policy bounds [%d, %d]",
			durationMonths, r.Policy.MinDurationMonths, r.Policy.MaxDurationMonths)
	}

	newExpiresAt := NextExpiry(*r.ExpiresAt, durationMonths)
	entry := NewHistoryEntry(*r.ExpiresAt, newExpiresAt, by, durationMonths, now)
	history := append(append([]HistoryEntry{}, r.RenewalHistory...), entry)

	if err := s.store.ApplyRenewal(ctx, id, r.RenewalCount, newExpiresAt, now, durationMonths, history); err != nil {
		return nil, err
	}

	r.ExpiresAt = &newExpiresAt
	r.RenewedAt = &now
	r.DurationMonths = &durationMonths
	r.RenewalCount++
	r.RenewalHistory = history

	s.notifyRenewed(ctx, r, by)
	return r, nil
}

// Withdraw is terminal and one-way. Repeating it is a validation error.
func (s *Service) Withdraw(ctx context.Context, id uuid.UUID, reason *string) (*Record, error) {
	r, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.WithdrawnAt != nil {
		return nil, newValidationError("consent already withdrawn")
	}
	if !r.Given {
		return nil, newValidationError("consent was never given")
	}

	now := s.now().UTC()
	if err := s.store.Withdraw(ctx, id, reason, now); err != nil {
		return nil, err
	}

	r.WithdrawnAt = &now
	r.WithdrawalReason = reason

	s.notifyWithdrawn(ctx, r, now)
	return r, nil
}

// History returns the record's append-only renewal audit trail.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]HistoryEntry, error) {
	r, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.RenewalHistory, nil
}

// List returns records with their derived status at the current time.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	return s.store.List(ctx, limit, offset)
}

func (s *Service) notifyRenewed(ctx context.Context, r *Record, by Renewer) {
	templateID := "consent-renewed"
	if by == RenewedByAuto {
		templateID = "consent-auto-renewed"
	}
	_, err := s.notifier.SendFromTemplate(ctx, templateID, map[string]string{
		"patient_name": r.PatientName,
		"renewed_at":   r.RenewedAt.Format("2006-01-02"),
		"expires_at":   r.ExpiresAt.Format("2006-01-02"),
	}, r.PatientEmail)
	if err != nil {
		// The renewal is the durable fact; the email is best-effort.
		s.logger.Warn().Err(err).Str("record_id", r.ID.String()).Msg("renewal confirmation email failed")
	}
}

func (s *Service) notifyWithdrawn(ctx context.Context, r *Record, at time.Time) {
	_, err := s.notifier.SendFromTemplate(ctx, "consent-withdrawn", map[string]string{
		"patient_name": r.PatientName,
		"withdrawn_at": at.Format("2006-01-02"),
	}, r.PatientEmail)
	if err != nil {
		s.logger.Warn().Err(err).Str("record_id", r.ID.String()).Msg("withdrawal confirmation email failed")
	}
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
