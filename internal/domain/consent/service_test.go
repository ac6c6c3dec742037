package consent

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var testPolicy = Policy{
	DefaultDurationMonths: 6,
	MinDurationMonths:     3,
	MaxDurationMonths:     12,
	GracePeriodDays:       30,
	AllowAutoRenewal:      true,
}

func newTestRecord(expiresAt time.Time) *Record {
	givenAt := expiresAt.AddDate(0, -6, 0)
	months := 6
	return &Record{
		ID:             uuid.New(),
		TemplateID:     uuid.New(),
		PatientName:    "Jane Doe",
		PatientEmail:   "jane@example.com",
		Given:          true,
		GivenAt:        &givenAt,
		ExpiresAt:      &expiresAt,
		DurationMonths: &months,
		Policy:         testPolicy,
	}
}

func newTestService(store *mockStore, notifier *mockNotifier, now time.Time) *Service {
	svc := NewService(store, notifier, zerolog.Nop())
	svc.now = func() time.Time { return now }
	return svc
}

func TestService_Status_NotFound(t *testing.T) {
	svc := newTestService(newMockStore(), newMockNotifier(), time.Now())
	if _, _, err := svc.Status(context.Background(), uuid.New()); err != ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestService_Status_Recomputed(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rec := newTestRecord(now.Add(10 * 24 * time.Hour))
	svc := newTestService(newMockStore(rec), newMockNotifier(), now)

	_, result, err := svc.Status(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if result.Status != StatusActive {
		t.Errorf("expected active, got %s", result.Status)
	}
	if result.Urgency != UrgencyMedium {
		t.Errorf("expected medium urgency at 10 days out, got %s", result.Urgency)
	}
}

func TestService_Renew_Succeeds(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(10 * 24 * time.Hour)
	rec := newTestRecord(expiry)
	store := newMockStore(rec)
	notifier := newMockNotifier()
	svc := newTestService(store, notifier, now)

	renewed, err := svc.Renew(context.Background(), rec.ID, 6, RenewedByPatient)
	if err != nil {
		t.Fatalf("Renew() error: %v", err)
	}

	want := NextExpiry(expiry, 6)
	if renewed.ExpiresAt == nil || !renewed.ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, renewed.ExpiresAt)
	}
	if renewed.RenewalCount != 1 {
		t.Errorf("expected renewal count 1, got %d", renewed.RenewalCount)
	}
	if len(renewed.RenewalHistory) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(renewed.RenewalHistory))
	}
	entry := renewed.RenewalHistory[0]
	if !entry.PreviousExpiresAt.Equal(expiry) {
		t.Errorf("history entry not anchored on old expiry: %v", entry.PreviousExpiresAt)
	}
	if entry.RenewedBy != RenewedByPatient {
		t.Errorf("unexpected renewer: %s", entry.RenewedBy)
	}

	if calls := notifier.callsFor("consent-renewed"); len(calls) != 1 {
		t.Errorf("expected renewal confirmation email, got %d calls", len(calls))
	}
}

func TestService_Renew_HistoryChain(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(10 * 24 * time.Hour)
	rec := newTestRecord(expiry)
	store := newMockStore(rec)
	svc := newTestService(store, newMockNotifier(), now)

	if _, err := svc.Renew(context.Background(), rec.ID, 3, RenewedByPatient); err != nil {
		t.Fatalf("first renewal: %v", err)
	}

	// Move the clock close to the new expiry so a second renewal is allowed.
	stored, _ := store.GetByID(context.Background(), rec.ID)
	svc.now = func() time.Time { return stored.ExpiresAt.Add(-5 * 24 * time.Hour) }

	if _, err := svc.Renew(context.Background(), rec.ID, 6, RenewedByPatient); err != nil {
		t.Fatalf("second renewal: %v", err)
	}

	final, _ := store.GetByID(context.Background(), rec.ID)
	if final.RenewalCount != 2 {
		t.Errorf("expected renewal count 2, got %d", final.RenewalCount)
	}
	if len(final.RenewalHistory) != final.RenewalCount {
		t.Fatalf("history length %d != renewal count %d", len(final.RenewalHistory), final.RenewalCount)
	}
	// Chain linkage: each entry's new expiry is the next entry's previous.
	if !final.RenewalHistory[0].NewExpiresAt.Equal(final.RenewalHistory[1].PreviousExpiresAt) {
		t.Errorf("broken history chain: %v != %v",
			final.RenewalHistory[0].NewExpiresAt, final.RenewalHistory[1].PreviousExpiresAt)
	}
}

func TestService_Renew_OutOfBoundsRejectedBeforeMutation(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rec := newTestRecord(now.Add(10 * 24 * time.Hour))
	store := newMockStore(rec)
	notifier := newMockNotifier()
	svc := newTestService(store, notifier, now)

	_, err := svc.Renew(context.Background(), rec.ID, 24, RenewedByPatient)
	if !IsValidation(err) {
		t.Fatalf("expected ValidationError for 24 months against max 12, got %v", err)
	}

	stored, _ := store.GetByID(context.Background(), rec.ID)
	if stored.RenewalCount != 0 || len(stored.RenewalHistory) != 0 {
		t.Error("rejected renewal must not mutate the record")
	}
	if len(notifier.Calls()) != 0 {
		t.Error("rejected renewal must not send email")
	}
}

func TestService_Renew_RejectedFarFromExpiry(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rec := newTestRecord(now.Add(90 * 24 * time.Hour))
	svc := newTestService(newMockStore(rec), newMockNotifier(), now)

	if _, err := svc.Renew(context.Background(), rec.ID, 6, RenewedByPatient); !IsValidation(err) {
		t.Fatalf("expected ValidationError renewing 90 days early, got %v", err)
	}
}

func TestService_Renew_RejectedWhenExpired(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rec := newTestRecord(now.Add(-40 * 24 * time.Hour)) // past expiry + 30d grace
	svc := newTestService(newMockStore(rec), newMockNotifier(), now)

	if _, err := svc.Renew(context.Background(), rec.ID, 6, RenewedByPatient); !IsValidation(err) {
		t.Fatalf("expected ValidationError for expired consent, got %v", err)
	}
}

func TestService_Renew_RejectedWhenWithdrawn(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rec := newTestRecord(now.Add(10 * 24 * time.Hour))
	withdrawnAt := now.Add(-24 * time.Hour)
	rec.WithdrawnAt = &withdrawnAt
	svc := newTestService(newMockStore(rec), newMockNotifier(), now)

	if _, err := svc.Renew(context.Background(), rec.ID, 6, RenewedByPatient); !IsValidation(err) {
		t.Fatalf("expected ValidationError for withdrawn consent, got %v", err)
	}
}

func TestService_Renew_AllowedInGrace(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(-5 * 24 * time.Hour) // in grace (30 days)
	rec := newTestRecord(expiry)
	svc := newTestService(newMockStore(rec), newMockNotifier(), now)

	renewed, err := svc.Renew(context.Background(), rec.ID, 6, RenewedByPatient)
	if err != nil {
		t.Fatalf("renewal in grace should succeed: %v", err)
	}

	// Still anchored on the old expiry, not on now.
	want := NextExpiry(expiry, 6)
	if !renewed.ExpiresAt.Equal(want) {
		t.Errorf("grace renewal not expiry-anchored: got %v, want %v", renewed.ExpiresAt, want)
	}
}

func TestService_Renew_NotificationFailureDoesNotRollBack(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rec := newTestRecord(now.Add(10 * 24 * time.Hour))
	store := newMockStore(rec)
	notifier := newMockNotifier()
	notifier.failFor[rec.PatientEmail] = true
	svc := newTestService(store, notifier, now)

	if _, err := svc.Renew(context.Background(), rec.ID, 6, RenewedByPatient); err != nil {
		t.Fatalf("renewal must succeed despite email failure: %v", err)
	}
	stored, _ := store.GetByID(context.Background(), rec.ID)
	if stored.RenewalCount != 1 {
		t.Error("renewal must be durable when the confirmation email fails")
	}
}

func TestService_Withdraw(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rec := newTestRecord(now.Add(60 * 24 * time.Hour))
	store := newMockStore(rec)
	notifier := newMockNotifier()
	svc := newTestService(store, notifier, now)

	reason := "moving providers"
	withdrawn, err := svc.Withdraw(context.Background(), rec.ID, &reason)
	if err != nil {
		t.Fatalf("Withdraw() error: %v", err)
	}
	if withdrawn.WithdrawnAt == nil {
		t.Fatal("expected withdrawn-at to be set")
	}
	if withdrawn.WithdrawalReason == nil || *withdrawn.WithdrawalReason != reason {
		t.Errorf("expected reason recorded, got %v", withdrawn.WithdrawalReason)
	}
	if calls := notifier.callsFor("consent-withdrawn"); len(calls) != 1 {
		t.Errorf("expected withdrawal confirmation email, got %d", len(calls))
	}

	// Withdrawal is terminal: a second attempt is a validation error.
	if _, err := svc.Withdraw(context.Background(), rec.ID, &reason); !IsValidation(err) {
		t.Fatalf("expected ValidationError on repeat withdrawal, got %v", err)
	}
}

func TestService_History(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rec := newTestRecord(now.Add(10 * 24 * time.Hour))
	store := newMockStore(rec)
	svc := newTestService(store, newMockNotifier(), now)

	if _, err := svc.Renew(context.Background(), rec.ID, 6, RenewedByPatient); err != nil {
		t.Fatalf("Renew() error: %v", err)
	}

	history, err := svc.History(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
}
