package channels

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/warehouse-ops/pipeline/internal/alerting"
	"github.com/warehouse-ops/pipeline/internal/event"
)

type mockSender struct {
	from     string
	to       []string
	subject  string
	htmlBody string
	err      error
	calls    int
}

func (m *mockSender) send(from string, to []string, subject, htmlBody string) error {
	m.calls++
	m.from = from
	m.to = to
	m.subject = subject
	m.htmlBody = htmlBody
	return m.err
}

func testAlert(severity alerting.Severity) *alerting.Alert {
	return &alerting.Alert{
		ID:          "alert-1",
		Title:       "Negative Stock Risk",
		Description: "Projected stock below threshold for ITEM-9",
		Severity:    severity,
		Source:      "anomaly_detector",
		Timestamp:   time.Date(2024, 3, 11, 10, 30, 0, 0, time.UTC),
		Metadata:    event.Record{"item_id": "ITEM-9"},
		Status:      alerting.StatusActive,
	}
}

func TestEmailChannel_Send(t *testing.T) {
	channel, err := NewEmailChannel(EmailConfig{
		Host:      "smtp.example.com",
		FromEmail: "alerts@example.com",
		ToEmails:  []string{"ops@example.com", "oncall@example.com"},
	})
	if err != nil {
		t.Fatalf("NewEmailChannel: %v", err)
	}
	sender := &mockSender{}
	channel.sender = sender

	if err := channel.Send(context.Background(), testAlert(alerting.SeverityCritical)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if sender.calls != 1 {
		t.Fatalf("expected 1 send, got %d", sender.calls)
	}
	if sender.from != "alerts@example.com" {
		t.Errorf("from = %q", sender.from)
	}
	if len(sender.to) != 2 {
		t.Errorf("to = %v", sender.to)
	}
	if sender.subject != "[CRITICAL] Warehouse Alert: Negative Stock Risk" {
		t.Errorf("subject = %q", sender.subject)
	}
	for _, want := range []string{"Negative Stock Risk", "#721c24", "item_id", "ITEM-9", "alert-1"} {
		if !strings.Contains(sender.htmlBody, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestEmailChannel_SeverityColors(t *testing.T) {
	cases := []struct {
		severity alerting.Severity
		color    string
	}{
		{alerting.SeverityInfo, "#17a2b8"},
		{alerting.SeverityWarning, "#ffc107"},
		{alerting.SeverityError, "#dc3545"},
		{alerting.SeverityCritical, "#721c24"},
	}
	for _, c := range cases {
		body, err := renderEmailBody(testAlert(c.severity))
		if err != nil {
			t.Fatalf("renderEmailBody(%s): %v", c.severity, err)
		}
		if !strings.Contains(body, c.color) {
			t.Errorf("%s body missing color %s", c.severity, c.color)
		}
	}
}

func TestEmailChannel_SendError(t *testing.T) {
	channel, err := NewEmailChannel(EmailConfig{
		Host:      "smtp.example.com",
		FromEmail: "alerts@example.com",
		ToEmails:  []string{"ops@example.com"},
	})
	if err != nil {
		t.Fatalf("NewEmailChannel: %v", err)
	}
	channel.sender = &mockSender{err: errors.New("connection refused")}

	if err := channel.Send(context.Background(), testAlert(alerting.SeverityError)); err == nil {
		t.Fatal("expected error from failing sender")
	}
}

func TestNewEmailChannel_Validation(t *testing.T) {
	if _, err := NewEmailChannel(EmailConfig{FromEmail: "a@b.c", ToEmails: []string{"x@y.z"}}); err == nil {
		t.Error("expected error without host")
	}
	if _, err := NewEmailChannel(EmailConfig{Host: "smtp.example.com", FromEmail: "a@b.c"}); err == nil {
		t.Error("expected error without recipients")
	}

	channel, err := NewEmailChannel(EmailConfig{
		Host:      "smtp.example.com",
		FromEmail: "a@b.c",
		ToEmails:  []string{"x@y.z"},
	})
	if err != nil {
		t.Fatalf("NewEmailChannel: %v", err)
	}
	if channel.config.Port != "587" {
		t.Errorf("default port = %q, want 587", channel.config.Port)
	}
}
