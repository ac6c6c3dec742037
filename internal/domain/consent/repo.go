package consent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/careforms/intake/internal/platform/notification"
)

// Store is the query/update surface over consent-bearing submissions.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	List(ctx context.Context, limit, offset int) ([]*Record, int, error)

	// ListExpiringBetween returns records with consent given, not withdrawn,
	// a resolvable recipient email, and an expiry inside [from, to].
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*Record, error)

	// ListAutoRenewable returns records opted in to auto-renewal, with
	// consent given, not withdrawn, and an expiry inside [from, to].
	ListAutoRenewable(ctx context.Context, from, to time.Time) ([]*Record, error)

	// ApplyRenewal persists a renewal as a single atomic update of expiry,
	// renewed-at, renewal count, and the full history sequence. The write is
	// conditioned on the renewal count the caller read, so a concurrent
	// renewal of the same record loses cleanly instead of clobbering history.
	ApplyRenewal(ctx context.Context, id uuid.UUID, expectedCount int, newExpiresAt, renewedAt time.Time, durationMonths int, history []HistoryEntry) error

	// Withdraw marks consent withdrawn. The write is conditioned on the
	// record not already being withdrawn.
	Withdraw(ctx context.Context, id uuid.UUID, reason *string, at time.Time) error
}

// Ledger is the durable dedup record of sent notifications. At most one
// entry exists per (record, notification type) pair.
type Ledger interface {
	Exists(ctx context.Context, recordID uuid.UUID, notificationType string) (bool, error)
	Record(ctx context.Context, recordID uuid.UUID, notificationType string, sentAt time.Time) error
}

// Notifier is the outbound email surface the engine depends on; satisfied by
// *notification.Manager.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}
