// Package transmit delivers composed HL7 messages to the registry endpoint
// and interprets the acknowledgment.
package transmit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"adt-bridge/internal/hl7"
	"adt-bridge/internal/observability"
	"adt-bridge/pkg/models"

	"github.com/sirupsen/logrus"
)

const contentType = "application/hl7-v2"

// Transmitter posts HL7 messages to a configured endpoint. Transmit never
// returns an error past its boundary: every outcome, including transport
// and parse failures, is described by the returned DeliveryAttempt.
type Transmitter struct {
	client   *http.Client
	endpoint string
	logger   *logrus.Logger
	metrics  observability.MetricsCollector
}

type Config struct {
	EndpointURL string
	Timeout     time.Duration
	Metrics     observability.MetricsCollector
}

func NewTransmitter(cfg Config) *Transmitter {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewInMemoryMetrics()
	}
	return &Transmitter{
		client:   &http.Client{Timeout: cfg.Timeout},
		endpoint: cfg.EndpointURL,
		logger:   observability.GetLogger(),
		metrics:  cfg.Metrics,
	}
}

// Transmit sends the payload and interprets the response. AA means success;
// AE/AR are application failures with detail from ERR segments; a non-2xx
// response or a transport error produces a synthetic ack kind.
func (t *Transmitter) Transmit(ctx context.Context, messageID, payload string) models.DeliveryAttempt {
	attempt := models.DeliveryAttempt{
		MessageID:   messageID,
		AttemptedAt: time.Now().UTC(),
	}

	started := time.Now()
	resp, err := t.post(ctx, messageID, payload)
	attempt.ResponseTimeMs = time.Since(started).Milliseconds()

	if err != nil {
		attempt.AckKind = hl7.AckConnectError
		attempt.ErrorDetail = fmt.Sprintf("connection error: %v", err)
		t.logFailure(attempt)
		return attempt
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		attempt.AckKind = hl7.AckRejectError
		attempt.ErrorDetail = fmt.Sprintf("HTTP error: %d %s", resp.StatusCode, resp.Status)
		t.logFailure(attempt)
		return attempt
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		attempt.AckKind = hl7.AckParseError
		attempt.ErrorDetail = fmt.Sprintf("parse error: %v", err)
		t.logFailure(attempt)
		return attempt
	}

	ack := hl7.ParseAck(string(body))
	attempt.AckKind = ack.Kind
	attempt.Success = ack.Accepted()
	if !attempt.Success {
		attempt.ErrorDetail = ack.ErrorDetail
		t.logFailure(attempt)
		return attempt
	}

	t.metrics.IncTransmitted()
	t.metrics.ObserveTransmitSeconds(time.Since(started).Seconds())
	t.logger.WithFields(logrus.Fields{
		"message_id":       messageID,
		"response_time_ms": attempt.ResponseTimeMs,
	}).Info("Message transmitted")
	return attempt
}

func (t *Transmitter) post(ctx context.Context, messageID, payload string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("MessageId", messageID)
	return t.client.Do(req)
}

func (t *Transmitter) logFailure(attempt models.DeliveryAttempt) {
	t.metrics.IncTransmitFailed()
	t.logger.WithFields(logrus.Fields{
		"message_id": attempt.MessageID,
		"ack_kind":   attempt.AckKind,
		"error":      attempt.ErrorDetail,
	}).Warn("Transmission failed")
}
