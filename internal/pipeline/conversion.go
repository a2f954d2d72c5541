package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"adt-bridge/internal/fhir"
	"adt-bridge/internal/hl7"
	"adt-bridge/internal/observability"
	"adt-bridge/internal/queue"
	"adt-bridge/internal/store"
	"adt-bridge/pkg/models"

	"github.com/sirupsen/logrus"
)

// ConversionStage consumes resource envelopes, converts them to HL7 and
// publishes the composed message to the transmission queue.
type ConversionStage struct {
	broker      queue.Broker
	store       store.MessageStore
	outputQueue string
	opts        hl7.Options
	logger      *logrus.Logger
	metrics     observability.MetricsCollector
}

func NewConversionStage(broker queue.Broker, messageStore store.MessageStore, outputQueue string, opts hl7.Options, metrics observability.MetricsCollector) *ConversionStage {
	if metrics == nil {
		metrics = observability.NewInMemoryMetrics()
	}
	return &ConversionStage{
		broker:      broker,
		store:       messageStore,
		outputQueue: outputQueue,
		opts:        opts,
		logger:      observability.GetLogger(),
		metrics:     metrics,
	}
}

// Handle converts one envelope. The composed HL7 is stored on the record
// before publishing so retries and resends reuse identical text.
func (s *ConversionStage) Handle(ctx context.Context, delivery queue.Delivery) error {
	var envelope models.ResourceEnvelope
	if err := json.Unmarshal(delivery.Payload, &envelope); err != nil {
		return Permanent(fmt.Errorf("undecodable resource envelope: %w", err))
	}

	logger := s.logger.WithFields(logrus.Fields{
		"message_id": envelope.MessageID,
		"event_kind": envelope.EventKind,
	})

	patient, err := fhir.ParsePatient(envelope.Resource)
	if err != nil {
		s.metrics.IncConvertFailed()
		return Permanent(fmt.Errorf("conversion of %s: %w", envelope.MessageID, err))
	}

	composed, err := hl7.Convert(patient, envelope.EventKind, s.opts)
	if err != nil {
		s.metrics.IncConvertFailed()
		return Permanent(fmt.Errorf("conversion of %s: %w", envelope.MessageID, err))
	}

	if err := s.store.SetComposed(ctx, envelope.MessageID, composed); err != nil {
		return InfraError("store", err)
	}

	payload, err := json.Marshal(models.ComposedMessage{
		MessageID: envelope.MessageID,
		HL7:       composed,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return Permanent(fmt.Errorf("encoding composed message %s: %w", envelope.MessageID, err))
	}

	if err := s.broker.Publish(ctx, s.outputQueue, envelope.MessageID, payload, map[string]string{
		models.HeaderMessageID: envelope.MessageID,
		models.HeaderEventKind: string(envelope.EventKind),
	}); err != nil {
		return InfraError("publish", err)
	}

	s.metrics.IncConverted()
	logger.Info("Resource converted to HL7")
	return nil
}
