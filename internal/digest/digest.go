// Package digest produces the daily summary of delivery errors and
// outstanding messages.
package digest

import (
	"context"
	"fmt"
	"time"

	"adt-bridge/internal/hl7"
	"adt-bridge/internal/observability"
	"adt-bridge/internal/store"
	"adt-bridge/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Digest is one generated summary. Immutable after the send decision.
type Digest struct {
	DigestID            string                   `json:"digestId"`
	GeneratedAt         time.Time                `json:"generatedAt"`
	ErrorCount          int                      `json:"errorCount"`
	OutstandingCount    int                      `json:"outstandingCount"`
	ConnectivityErrors  []models.DeliveryAttempt `json:"connectivityErrors"`
	NackResponses       []models.DeliveryAttempt `json:"nackResponses"`
	OutstandingMessages []OutstandingMessage     `json:"outstandingMessages"`
	Sent                bool                     `json:"sent"`
}

// OutstandingMessage is a still-Pending message older than the reporting
// window.
type OutstandingMessage struct {
	MessageID   string    `json:"messageId"`
	ClinicID    string    `json:"clinicId"`
	PatientID   string    `json:"patientId"`
	CreatedAt   time.Time `json:"createdAt"`
	ResendCount int       `json:"resendCount"`
}

// Notifier delivers the digest summary to its recipients.
type Notifier interface {
	SendSummary(ctx context.Context, digest *Digest, recipients []string) error
}

// Generator builds the digest from the record and attempt stores.
type Generator struct {
	store      store.MessageStore
	attempts   store.AttemptStore
	notifier   Notifier
	recipients []string
	logger     *logrus.Logger
	now        func() time.Time
}

func NewGenerator(messageStore store.MessageStore, attempts store.AttemptStore, notifier Notifier, recipients []string) *Generator {
	return &Generator{
		store:      messageStore,
		attempts:   attempts,
		notifier:   notifier,
		recipients: recipients,
		logger:     observability.GetLogger(),
		now:        time.Now,
	}
}

// Generate summarizes the prior day. A notification goes out only when
// there is something to report; otherwise Sent stays false and no
// notification I/O happens.
func (g *Generator) Generate(ctx context.Context) (*Digest, error) {
	now := g.now().UTC()
	digest := &Digest{
		DigestID:    uuid.NewString(),
		GeneratedAt: now,
	}

	failures, err := g.attempts.Failures(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery failures: %w", err)
	}
	for _, attempt := range failures {
		if isConnectivity(attempt.AckKind) {
			digest.ConnectivityErrors = append(digest.ConnectivityErrors, attempt)
		} else {
			digest.NackResponses = append(digest.NackResponses, attempt)
		}
	}

	pending, err := g.store.Query(ctx, store.QueryFilter{
		Status:        models.StatusPending,
		CreatedBefore: now.Add(-24 * time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load outstanding messages: %w", err)
	}
	for _, record := range pending {
		digest.OutstandingMessages = append(digest.OutstandingMessages, OutstandingMessage{
			MessageID:   record.ID,
			ClinicID:    record.ClinicID,
			PatientID:   record.PatientID,
			CreatedAt:   record.CreatedAt,
			ResendCount: record.ResendCount,
		})
	}

	digest.ErrorCount = len(digest.ConnectivityErrors) + len(digest.NackResponses)
	digest.OutstandingCount = len(digest.OutstandingMessages)

	if digest.ErrorCount == 0 && digest.OutstandingCount == 0 {
		g.logger.WithField("digest_id", digest.DigestID).Info("No issues to report, digest not sent")
		return digest, nil
	}

	if err := g.notifier.SendSummary(ctx, digest, g.recipients); err != nil {
		return digest, fmt.Errorf("failed to send digest %s: %w", digest.DigestID, err)
	}
	digest.Sent = true
	g.logger.WithFields(logrus.Fields{
		"digest_id":   digest.DigestID,
		"errors":      digest.ErrorCount,
		"outstanding": digest.OutstandingCount,
	}).Info("Digest sent")
	return digest, nil
}

// isConnectivity separates transport-level failures from application NACKs.
func isConnectivity(ackKind string) bool {
	switch ackKind {
	case hl7.AckConnectError, hl7.AckParseError, hl7.AckRejectError, hl7.AckUnknown:
		return true
	}
	return false
}
