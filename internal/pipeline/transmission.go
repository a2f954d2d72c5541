package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"adt-bridge/internal/observability"
	"adt-bridge/internal/queue"
	"adt-bridge/internal/store"
	"adt-bridge/pkg/models"

	"github.com/sirupsen/logrus"
)

// Transmitter is the delivery dependency of the transmission stage.
type Transmitter interface {
	Transmit(ctx context.Context, messageID, payload string) models.DeliveryAttempt
}

// TransmissionStage consumes composed messages and attempts first delivery.
// A failed first attempt enqueues a retry ticket with AttemptCount 1; the
// retry coordinator owns everything after that.
type TransmissionStage struct {
	broker      queue.Broker
	transmitter Transmitter
	store       store.MessageStore
	attempts    store.AttemptStore
	retryQueue  string
	logger      *logrus.Logger
	metrics     observability.MetricsCollector
}

func NewTransmissionStage(broker queue.Broker, transmitter Transmitter, messageStore store.MessageStore, attempts store.AttemptStore, retryQueue string, metrics observability.MetricsCollector) *TransmissionStage {
	if metrics == nil {
		metrics = observability.NewInMemoryMetrics()
	}
	return &TransmissionStage{
		broker:      broker,
		transmitter: transmitter,
		store:       messageStore,
		attempts:    attempts,
		retryQueue:  retryQueue,
		logger:      observability.GetLogger(),
		metrics:     metrics,
	}
}

func (s *TransmissionStage) Handle(ctx context.Context, delivery queue.Delivery) error {
	var composed models.ComposedMessage
	if err := json.Unmarshal(delivery.Payload, &composed); err != nil {
		return Permanent(fmt.Errorf("undecodable composed message: %w", err))
	}

	logger := s.logger.WithField("message_id", composed.MessageID)

	attempt := s.transmitter.Transmit(ctx, composed.MessageID, composed.HL7)
	if err := s.attempts.Record(ctx, attempt); err != nil {
		logger.WithError(err).Error("Failed to record delivery attempt")
	}

	if attempt.Success {
		if err := s.store.UpdateStatus(ctx, composed.MessageID, models.StatusSent); err != nil {
			return InfraError("store", err)
		}
		logger.Info("Message delivered")
		return nil
	}

	ticket, err := json.Marshal(models.RetryTicket{
		MessageID:    composed.MessageID,
		HL7:          composed.HL7,
		AttemptCount: 1,
		EnqueuedAt:   time.Now().UTC(),
	})
	if err != nil {
		return Permanent(fmt.Errorf("encoding retry ticket %s: %w", composed.MessageID, err))
	}

	if err := s.broker.Publish(ctx, s.retryQueue, composed.MessageID, ticket, map[string]string{
		models.HeaderMessageID:     composed.MessageID,
		models.HeaderRetryCount:    strconv.Itoa(1),
		models.HeaderFailureReason: attempt.ErrorDetail,
	}); err != nil {
		return InfraError("publish", err)
	}

	s.metrics.IncRetried()
	logger.WithFields(logrus.Fields{
		"ack_kind": attempt.AckKind,
	}).Warn("First delivery failed, retry ticket enqueued")
	return nil
}
