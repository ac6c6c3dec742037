package forms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/careforms/intake/internal/domain/consent"
)

type Service struct {
	templates   TemplateRepository
	submissions SubmissionRepository

	now func() time.Time
}

func NewService(templates TemplateRepository, submissions SubmissionRepository) *Service {
	return &Service{templates: templates, submissions: submissions, now: time.Now}
}

// -- Templates --

func validatePolicy(t *Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if t.MinConsentDuration < 1 {
		return fmt.Errorf("min_consent_duration must be at least 1 month")
	}
	if t.GracePeriodDays < 0 {
		return fmt.Errorf("grace_period_days must not be negative")
	}
	if t.MinConsentDuration > t.DefaultConsentDuration || t.DefaultConsentDuration > t.MaxConsentDuration {
		return fmt.Errorf("consent durations must satisfy min <= default <= max (got %d <= %d <= %d)",
			t.MinConsentDuration, t.DefaultConsentDuration, t.MaxConsentDuration)
	}
	return nil
}

func (s *Service) CreateTemplate(ctx context.Context, t *Template) error {
	if err := validatePolicy(t); err != nil {
		return err
	}
	if t.Fields == nil {
		t.Fields = []byte(`[]`)
	}
	return s.templates.Create(ctx, t)
}

func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	return s.templates.GetByID(ctx, id)
}

func (s *Service) UpdateTemplate(ctx context.Context, t *Template) error {
	if err := validatePolicy(t); err != nil {
		return err
	}
	return s.templates.Update(ctx, t)
}

func (s *Service) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	return s.templates.Delete(ctx, id)
}

func (s *Service) ListTemplates(ctx context.Context, activeOnly bool, limit, offset int) ([]*Template, int, error) {
	return s.templates.List(ctx, activeOnly, limit, offset)
}

// -- Submissions --

// CreateSubmission validates the submission against its template and, when
// consent is given, stamps consent_at and the initial expiry window. The
// window is the template default unless the patient chose a duration within
// the template's bounds.
func (s *Service) CreateSubmission(ctx context.Context, sub *Submission) error {
	if sub.TemplateID == uuid.Nil {
		return fmt.Errorf("template_id is required")
	}
	if strings.TrimSpace(sub.PatientName) == "" {
		return fmt.Errorf("patient_name is required")
	}
	if strings.TrimSpace(sub.PatientEmail) == "" {
		return fmt.Errorf("patient_email is required")
	}

	t, err := s.templates.GetByID(ctx, sub.TemplateID)
	if err != nil {
		return err
	}
	if !t.Active {
		return fmt.Errorf("template %s is not accepting submissions", t.ID)
	}

	if sub.Data == nil {
		sub.Data = []byte(`{}`)
	}

	if sub.ConsentGiven {
		months := t.DefaultConsentDuration
		if sub.ConsentDurationMonths != nil {
			months = *sub.ConsentDurationMonths
			if months < t.MinConsentDuration || months > t.MaxConsentDuration {
				return fmt.Errorf("consent duration %d months is outside the allowed range %d-%d",
					months, t.MinConsentDuration, t.MaxConsentDuration)
			}
		}
		at := s.now()
		expires := consent.NextExpiry(at, months)
		sub.ConsentAt = &at
		sub.ConsentExpiresAt = &expires
		sub.ConsentDurationMonths = &months
	} else {
		// No consent, no window. Auto-renewal is meaningless without one.
		sub.ConsentAt = nil
		sub.ConsentExpiresAt = nil
		sub.ConsentDurationMonths = nil
		sub.AutoRenew = false
	}

	return s.submissions.Create(ctx, sub)
}

func (s *Service) GetSubmission(ctx context.Context, id uuid.UUID) (*Submission, error) {
	return s.submissions.GetByID(ctx, id)
}

func (s *Service) UpdateSubmission(ctx context.Context, sub *Submission) error {
	if strings.TrimSpace(sub.PatientName) == "" {
		return fmt.Errorf("patient_name is required")
	}
	if strings.TrimSpace(sub.PatientEmail) == "" {
		return fmt.Errorf("patient_email is required")
	}
	return s.submissions.Update(ctx, sub)
}

func (s *Service) DeleteSubmission(ctx context.Context, id uuid.UUID) error {
	return s.submissions.Delete(ctx, id)
}

func (s *Service) ListSubmissions(ctx context.Context, templateID *uuid.UUID, limit, offset int) ([]*Submission, int, error) {
	if templateID != nil {
		return s.submissions.ListByTemplate(ctx, *templateID, limit, offset)
	}
	return s.submissions.List(ctx, limit, offset)
}
