package forms

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrTemplateNotFound   = errors.New("form template not found")
	ErrSubmissionNotFound = errors.New("form submission not found")
)

type TemplateRepository interface {
	Create(ctx context.Context, t *Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	Update(ctx context.Context, t *Template) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Template, int, error)
}

type SubmissionRepository interface {
	Create(ctx context.Context, s *Submission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Submission, error)
	Update(ctx context.Context, s *Submission) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Submission, int, error)
	ListByTemplate(ctx context.Context, templateID uuid.UUID, limit, offset int) ([]*Submission, int, error)
}
