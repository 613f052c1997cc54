// Package channels implements the notification channels the alert manager
// fans out to: SMTP email, Slack webhooks and generic HTTP webhooks.
package channels

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"github.com/warehouse-ops/pipeline/internal/alerting"
)

// EmailConfig holds the SMTP settings for the email channel.
type EmailConfig struct {
	Host      string
	Port      string
	Username  string
	Password  string
	UseTLS    bool
	FromEmail string
	ToEmails  []string
}

// EmailChannel sends alert emails over SMTP with an HTML body.
type EmailChannel struct {
	config EmailConfig
	sender emailSender
}

// emailSender abstracts the SMTP session for testing.
type emailSender interface {
	send(from string, to []string, subject, htmlBody string) error
}

func NewEmailChannel(config EmailConfig) (*EmailChannel, error) {
	if config.Host == "" || config.FromEmail == "" || len(config.ToEmails) == 0 {
		return nil, fmt.Errorf("smtp host, from_email and to_emails are required for email channel")
	}
	if config.Port == "" {
		config.Port = "587"
	}
	return &EmailChannel{
		config: config,
		sender: &smtpSender{config: config},
	}, nil
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(_ context.Context, alert *alerting.Alert) error {
	subject := fmt.Sprintf("[%s] Warehouse Alert: %s", strings.ToUpper(string(alert.Severity)), alert.Title)
	htmlBody, err := renderEmailBody(alert)
	if err != nil {
		return fmt.Errorf("render email body: %w", err)
	}
	if err := c.sender.send(c.config.FromEmail, c.config.ToEmails, subject, htmlBody); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}

// smtpSender runs one SMTP session per send, upgrading to TLS when
// configured.
type smtpSender struct {
	config EmailConfig
}

func (s *smtpSender) send(from string, to []string, subject, htmlBody string) error {
	addr := s.config.Host + ":" + s.config.Port

	msg := "From: " + from + "\r\n" +
		"To: " + strings.Join(to, ", ") + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
		"\r\n" + htmlBody

	client, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.config.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.config.Username != "" && s.config.Password != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func emailSeverityColor(s alerting.Severity) string {
	switch s {
	case alerting.SeverityInfo:
		return "#17a2b8"
	case alerting.SeverityWarning:
		return "#ffc107"
	case alerting.SeverityError:
		return "#dc3545"
	case alerting.SeverityCritical:
		return "#721c24"
	default:
		return "#6c757d"
	}
}

var emailTmpl = template.Must(template.New("alert-email").Parse(`<html>
<body style="font-family: Arial, sans-serif; margin: 20px;">
  <div style="border-left: 4px solid {{.Color}}; padding-left: 20px;">
    <h2 style="color: {{.Color}}; margin-top: 0;">Warehouse Alert: {{.Alert.Title}}</h2>
    <p><strong>Severity:</strong> <span style="color: {{.Color}};">{{.SeverityUpper}}</span></p>
    <p><strong>Source:</strong> {{.Alert.Source}}</p>
    <p><strong>Time:</strong> {{.Alert.Timestamp.Format "2006-01-02 15:04:05 UTC"}}</p>
    <p><strong>Description:</strong></p>
    <p style="background-color: #f8f9fa; padding: 10px; border-radius: 4px;">{{.Alert.Description}}</p>
    {{if .Alert.Metadata}}<p><strong>Additional Information:</strong></p>
    <ul>{{range $key, $value := .Alert.Metadata}}<li><strong>{{$key}}:</strong> {{$value}}</li>{{end}}</ul>{{end}}
    <hr style="margin: 20px 0;">
    <p style="font-size: 12px; color: #6c757d;">
      Alert ID: {{.Alert.ID}}<br>
      Generated by Warehouse Real-Time Processing System
    </p>
  </div>
</body>
</html>`))

func renderEmailBody(alert *alerting.Alert) (string, error) {
	var buf bytes.Buffer
	err := emailTmpl.Execute(&buf, struct {
		Alert         *alerting.Alert
		Color         string
		SeverityUpper string
	}{
		Alert:         alert,
		Color:         emailSeverityColor(alert.Severity),
		SeverityUpper: strings.ToUpper(string(alert.Severity)),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
