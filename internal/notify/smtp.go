// Package notify delivers digest summaries by e-mail.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"adt-bridge/internal/digest"
	"adt-bridge/internal/observability"

	"github.com/sirupsen/logrus"
)

// SMTPNotifier sends digest summaries over SMTP.
type SMTPNotifier struct {
	host     string
	port     int
	username string
	password string
	sender   string
	logger   *logrus.Logger
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		sender:   cfg.Sender,
		logger:   observability.GetLogger(),
	}
}

func (n *SMTPNotifier) SendSummary(ctx context.Context, d *digest.Digest, recipients []string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no digest recipients configured")
	}

	msg := buildMessage(n.sender, recipients, d)
	addr := fmt.Sprintf("%s:%d", n.host, n.port)

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	if err := smtp.SendMail(addr, auth, n.sender, recipients, msg); err != nil {
		return fmt.Errorf("failed to send digest email: %w", err)
	}

	n.logger.WithFields(logrus.Fields{
		"digest_id":  d.DigestID,
		"recipients": len(recipients),
	}).Info("Digest email sent")
	return nil
}

func buildMessage(sender string, recipients []string, d *digest.Digest) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", sender)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&b, "Subject: PCR Integration - Daily Digest %s\r\n", d.GeneratedAt.Format("2006-01-02"))
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "Daily digest %s\r\n\r\n", d.DigestID)
	fmt.Fprintf(&b, "Errors: %d\r\n", d.ErrorCount)
	fmt.Fprintf(&b, "Outstanding messages: %d\r\n\r\n", d.OutstandingCount)

	if len(d.ConnectivityErrors) > 0 {
		b.WriteString("Connectivity errors:\r\n")
		for _, attempt := range d.ConnectivityErrors {
			fmt.Fprintf(&b, "  %s  %s  %s\r\n",
				attempt.AttemptedAt.Format("2006-01-02 15:04:05"), attempt.MessageID, attempt.ErrorDetail)
		}
		b.WriteString("\r\n")
	}

	if len(d.NackResponses) > 0 {
		b.WriteString("Rejected by registry:\r\n")
		for _, attempt := range d.NackResponses {
			fmt.Fprintf(&b, "  %s  %s  %s  %s\r\n",
				attempt.AttemptedAt.Format("2006-01-02 15:04:05"), attempt.MessageID, attempt.AckKind, attempt.ErrorDetail)
		}
		b.WriteString("\r\n")
	}

	if len(d.OutstandingMessages) > 0 {
		b.WriteString("Outstanding messages:\r\n")
		for _, msg := range d.OutstandingMessages {
			fmt.Fprintf(&b, "  %s  clinic=%s  patient=%s  created=%s\r\n",
				msg.MessageID, msg.ClinicID, msg.PatientID, msg.CreatedAt.Format("2006-01-02 15:04:05"))
		}
	}

	return []byte(b.String())
}

// MockNotifier records digests for testing.
type MockNotifier struct {
	Sent       []*digest.Digest
	Recipients [][]string
	Err        error
}

func (m *MockNotifier) SendSummary(ctx context.Context, d *digest.Digest, recipients []string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, d)
	m.Recipients = append(m.Recipients, recipients)
	return nil
}
