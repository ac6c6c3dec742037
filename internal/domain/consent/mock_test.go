package consent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careforms/intake/internal/platform/notification"
)

// mockStore is an in-memory Store with the same window and write-condition
// semantics as the SQL implementation.
type mockStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
}

func newMockStore(records ...*Record) *mockStore {
	s := &mockStore{records: make(map[uuid.UUID]*Record)}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func copyRecord(r *Record) *Record {
	cp := *r
	cp.RenewalHistory = append([]HistoryEntry{}, r.RenewalHistory...)
	return &cp
}

func (s *mockStore) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyRecord(r), nil
}

func (s *mockStore) List(_ context.Context, limit, offset int) ([]*Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []*Record
	for _, r := range s.records {
		items = append(items, copyRecord(r))
	}
	return items, len(items), nil
}

func (s *mockStore) ListExpiringBetween(_ context.Context, from, to time.Time) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []*Record
	for _, r := range s.records {
		if !r.Given || r.WithdrawnAt != nil || r.PatientEmail == "" || r.ExpiresAt == nil {
			continue
		}
		if r.ExpiresAt.Before(from) || r.ExpiresAt.After(to) {
			continue
		}
		items = append(items, copyRecord(r))
	}
	return items, nil
}

func (s *mockStore) ListAutoRenewable(_ context.Context, from, to time.Time) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []*Record
	for _, r := range s.records {
		if !r.AutoRenew || !r.Given || r.WithdrawnAt != nil || r.ExpiresAt == nil {
			continue
		}
		if r.ExpiresAt.Before(from) || r.ExpiresAt.After(to) {
			continue
		}
		items = append(items, copyRecord(r))
	}
	return items, nil
}

func (s *mockStore) ApplyRenewal(_ context.Context, id uuid.UUID, expectedCount int, newExpiresAt, renewedAt time.Time, durationMonths int, history []HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return &PersistenceError{Err: ErrRecordNotFound}
	}
	if r.RenewalCount != expectedCount || r.WithdrawnAt != nil {
		return &PersistenceError{Err: errors.New("record changed concurrently or was withdrawn")}
	}
	r.ExpiresAt = &newExpiresAt
	r.RenewedAt = &renewedAt
	r.DurationMonths = &durationMonths
	r.RenewalCount++
	r.RenewalHistory = append([]HistoryEntry{}, history...)
	return nil
}

func (s *mockStore) Withdraw(_ context.Context, id uuid.UUID, reason *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok || r.WithdrawnAt != nil {
		return newValidationError("consent already withdrawn or record not found")
	}
	r.WithdrawnAt = &at
	r.WithdrawalReason = reason
	return nil
}

// mockLedger is an in-memory Ledger.
type mockLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newMockLedger() *mockLedger {
	return &mockLedger{entries: make(map[string]time.Time)}
}

func ledgerKey(recordID uuid.UUID, notificationType string) string {
	return recordID.String() + "|" + notificationType
}

func (l *mockLedger) Exists(_ context.Context, recordID uuid.UUID, notificationType string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[ledgerKey(recordID, notificationType)]
	return ok, nil
}

func (l *mockLedger) Record(_ context.Context, recordID uuid.UUID, notificationType string, sentAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[ledgerKey(recordID, notificationType)] = sentAt
	return nil
}

// mockNotifier records template sends and can fail per recipient.
type notifierCall struct {
	TemplateID string
	Recipient  string
	Data       map[string]string
}

type mockNotifier struct {
	mu      sync.Mutex
	calls   []notifierCall
	failFor map[string]bool
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{failFor: make(map[string]bool)}
}

func (n *mockNotifier) SendFromTemplate(_ context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifierCall{TemplateID: templateID, Recipient: recipient, Data: data})
	if n.failFor[recipient] {
		return nil, errors.New("gateway unavailable")
	}
	return &notification.Notification{ID: uuid.NewString(), Recipient: recipient}, nil
}

func (n *mockNotifier) Calls() []notifierCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notifierCall, len(n.calls))
	copy(out, n.calls)
	return out
}

func (n *mockNotifier) callsFor(templateID string) []notifierCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifierCall
	for _, c := range n.calls {
		if c.TemplateID == templateID {
			out = append(out, c)
		}
	}
	return out
}
