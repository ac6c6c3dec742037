package notification

import (
	"context"
	"strings"
	"testing"
)

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()

	subject, body, err := e.Render("consent-expiry-warning", map[string]string{
		"patient_name":   "Jane Doe",
		"form_name":      "Telehealth Intake",
		"days_remaining": "14",
		"expires_at":     "2026-09-13",
		"renewal_link":   "https://intake.example/renew/abc",
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}

	if !strings.Contains(subject, "14 days") {
		t.Errorf("subject missing rendered days: %q", subject)
	}
	if !strings.Contains(body, "Jane Doe") || !strings.Contains(body, "Telehealth Intake") {
		t.Errorf("body missing rendered fields: %q", body)
	}
	if strings.Contains(body, "{{") {
		t.Errorf("body has unrendered placeholders: %q", body)
	}
}

func TestTemplateEngine_MissingDataLeftAsIs(t *testing.T) {
	e := NewTemplateEngine()

	_, body, err := e.Render("consent-renewed", map[string]string{
		"patient_name": "Jane Doe",
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.Contains(body, "{{form_name}}") {
		t.Errorf("expected missing keys to remain as placeholders, got %q", body)
	}
}

func TestTemplateEngine_UnknownTemplate(t *testing.T) {
	e := NewTemplateEngine()
	if _, _, err := e.Render("no-such-template", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestTemplateEngine_RegisterTemplate(t *testing.T) {
	e := NewTemplateEngine()
	e.RegisterTemplate(Template{
		ID:      "custom",
		Subject: "Hello {{name}}",
		Body:    "Hi {{name}}",
	})

	subject, _, err := e.Render("custom", map[string]string{"name": "Sam"})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if subject != "Hello Sam" {
		t.Errorf("unexpected subject: %q", subject)
	}
}

func TestManager_Send(t *testing.T) {
	mock := &MockEmailSender{}
	mgr := NewManager(mock, NewTemplateEngine())

	n := &Notification{
		Recipient: "patient@example.com",
		Subject:   "Test",
		Body:      "Hello",
	}
	if err := mgr.Send(context.Background(), n); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if n.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if n.Status != "sent" {
		t.Errorf("expected status sent, got %s", n.Status)
	}
	if n.SentAt == nil {
		t.Error("expected SentAt to be set")
	}
	if calls := mock.Calls(); len(calls) != 1 || calls[0].To != "patient@example.com" {
		t.Errorf("unexpected calls: %+v", calls)
	}
}

func TestManager_SendFailure(t *testing.T) {
	mock := &MockEmailSender{ShouldFail: true, FailError: "connection refused"}
	mgr := NewManager(mock, NewTemplateEngine())

	n := &Notification{Recipient: "patient@example.com", Subject: "Test", Body: "Hello"}
	err := mgr.Send(context.Background(), n)
	if err == nil {
		t.Fatal("expected error from failing sender")
	}
	if n.Status != "failed" {
		t.Errorf("expected status failed, got %s", n.Status)
	}
	if n.Error != "connection refused" {
		t.Errorf("expected error recorded, got %q", n.Error)
	}
}

func TestManager_SendFromTemplate(t *testing.T) {
	mock := &MockEmailSender{}
	mgr := NewManager(mock, NewTemplateEngine())

	n, err := mgr.SendFromTemplate(context.Background(), "consent-withdrawn", map[string]string{
		"patient_name": "Jane Doe",
		"form_name":    "Telehealth Intake",
		"withdrawn_at": "2026-08-30",
	}, "patient@example.com")
	if err != nil {
		t.Fatalf("SendFromTemplate() error: %v", err)
	}

	if n.TemplateID != "consent-withdrawn" {
		t.Errorf("expected template ID recorded, got %s", n.TemplateID)
	}
	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if !strings.Contains(calls[0].Body, "Jane Doe") {
		t.Errorf("expected rendered body, got %q", calls[0].Body)
	}
}

func TestManager_SendFromTemplate_UnknownTemplate(t *testing.T) {
	mgr := NewManager(&MockEmailSender{}, NewTemplateEngine())
	if _, err := mgr.SendFromTemplate(context.Background(), "missing", nil, "x@example.com"); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestManager_Retry(t *testing.T) {
	mock := &MockEmailSender{ShouldFail: true, FailError: "temporary failure"}
	mgr := NewManager(mock, NewTemplateEngine())

	n := &Notification{Recipient: "patient@example.com", Subject: "Test", Body: "Hello"}
	_ = mgr.Send(context.Background(), n)

	// Flip the sender to succeed and retry.
	mock.ShouldFail = false
	if err := mgr.Retry(context.Background(), n.ID); err != nil {
		t.Fatalf("Retry() error: %v", err)
	}

	got, err := mgr.Get(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != "sent" {
		t.Errorf("expected status sent after retry, got %s", got.Status)
	}
	if got.Error != "" {
		t.Errorf("expected error cleared after retry, got %q", got.Error)
	}
}

func TestManager_RetryNonFailed(t *testing.T) {
	mgr := NewManager(&MockEmailSender{}, NewTemplateEngine())

	n := &Notification{Recipient: "patient@example.com", Subject: "Test", Body: "Hello"}
	_ = mgr.Send(context.Background(), n)

	if err := mgr.Retry(context.Background(), n.ID); err == nil {
		t.Fatal("expected error retrying a sent notification")
	}
}

func TestManager_Stats(t *testing.T) {
	mock := &MockEmailSender{}
	mgr := NewManager(mock, NewTemplateEngine())

	_ = mgr.Send(context.Background(), &Notification{Recipient: "a@example.com", Body: "x"})
	_ = mgr.Send(context.Background(), &Notification{Recipient: "b@example.com", Body: "y"})
	mock.ShouldFail = true
	mock.FailError = "boom"
	_ = mgr.Send(context.Background(), &Notification{Recipient: "c@example.com", Body: "z"})

	stats := mgr.Stats(context.Background())
	if stats["sent"] != 2 {
		t.Errorf("expected 2 sent, got %d", stats["sent"])
	}
	if stats["failed"] != 1 {
		t.Errorf("expected 1 failed, got %d", stats["failed"])
	}
}
