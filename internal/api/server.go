// Package api exposes the intake endpoint, the status probe and the
// message browse/resend surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"adt-bridge/internal/fhir"
	"adt-bridge/internal/observability"
	"adt-bridge/internal/queue"
	"adt-bridge/internal/store"
	"adt-bridge/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server wires the HTTP surface onto the pipeline collaborators.
type Server struct {
	echo       *echo.Echo
	classifier *fhir.Classifier
	broker     queue.Broker
	store      store.MessageStore
	intakeQ    string
	transmitQ  string
	logger     *logrus.Logger
	metrics    observability.MetricsCollector
}

type Config struct {
	IntakeQueue   string
	TransmitQueue string
	Metrics       observability.MetricsCollector
	Registry      prometheus.Gatherer
}

func NewServer(classifier *fhir.Classifier, broker queue.Broker, messageStore store.MessageStore, cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewInMemoryMetrics()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:       e,
		classifier: classifier,
		broker:     broker,
		store:      messageStore,
		intakeQ:    cfg.IntakeQueue,
		transmitQ:  cfg.TransmitQueue,
		logger:     observability.GetLogger(),
		metrics:    cfg.Metrics,
	}

	e.POST("/api/fhir", s.receiveResource)
	e.GET("/api/fhir/status", s.status)
	e.GET("/api/messages", s.listMessages)
	e.GET("/api/messages/:id", s.getMessage)
	e.POST("/api/messages/:id/resend", s.resendMessage)
	if cfg.Registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	}

	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routes for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// receiveResource validates and classifies an incoming FHIR resource,
// persists a Pending record and publishes it to the conversion queue.
func (s *Server) receiveResource(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil || len(raw) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "FHIR resource cannot be empty"})
	}

	patient, err := fhir.ParsePatient(raw)
	if err != nil {
		if errors.Is(err, fhir.ErrUnsupportedResource) {
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "Unsupported FHIR resource type"})
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "Invalid FHIR format", "error": err.Error()})
	}

	if result := fhir.Validate(patient); !result.Valid() {
		s.logger.WithField("errors", len(result.Errors)).Warn("Invalid FHIR resource received")
		return c.JSON(http.StatusBadRequest, echo.Map{
			"message": "Invalid FHIR resource",
			"errors":  result.Errors,
		})
	}

	classification, err := s.classifier.Classify(patient)
	if err != nil {
		var ce *fhir.ClassificationError
		if errors.As(err, &ce) {
			return c.JSON(http.StatusBadRequest, echo.Map{"message": ce.Reason})
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"message": err.Error()})
	}

	messageID := uuid.NewString()
	ctx := c.Request().Context()

	record := &store.MessageRecord{
		ID:          messageID,
		ClinicID:    classification.ClinicID,
		PatientID:   classification.PatientID,
		EventKind:   classification.Kind,
		FHIRPayload: raw,
		Status:      models.StatusPending,
	}
	if err := s.store.Save(ctx, record); err != nil {
		s.logger.WithError(err).Error("Failed to persist message record")
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Error processing FHIR resource"})
	}

	payload, err := json.Marshal(models.ResourceEnvelope{
		MessageID: messageID,
		Resource:  raw,
		ClinicID:  classification.ClinicID,
		PatientID: classification.PatientID,
		EventKind: classification.Kind,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Error processing FHIR resource"})
	}

	if err := s.broker.Publish(ctx, s.intakeQ, messageID, payload, map[string]string{
		models.HeaderMessageID: messageID,
		models.HeaderEventKind: string(classification.Kind),
	}); err != nil {
		s.logger.WithError(err).Error("Failed to publish resource envelope")
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Error processing FHIR resource"})
	}

	s.metrics.IncReceived()
	s.logger.WithFields(logrus.Fields{
		"message_id": messageID,
		"event_kind": classification.Kind,
		"clinic_id":  classification.ClinicID,
	}).Info("FHIR resource received and queued")

	return c.JSON(http.StatusOK, echo.Map{
		"messageId": messageID,
		"status":    "received",
	})
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "operational"})
}

func (s *Server) listMessages(c echo.Context) error {
	filter := store.QueryFilter{
		Status:   models.MessageStatus(c.QueryParam("status")),
		ClinicID: c.QueryParam("clinicId"),
		Limit:    100,
	}
	records, err := s.store.Query(c.Request().Context(), filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Error querying messages"})
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) getMessage(c echo.Context) error {
	record, err := s.store.Find(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"message": "Message not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Error loading message"})
	}
	return c.JSON(http.StatusOK, record)
}

// resendMessage resets a Failed message to Pending and republishes its
// composed HL7 unchanged to the transmission queue.
func (s *Server) resendMessage(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	record, err := s.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"message": "Message not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Error loading message"})
	}
	if record.HL7Payload == "" {
		return c.JSON(http.StatusConflict, echo.Map{"message": "Message has not been converted yet"})
	}
	if record.Status == models.StatusSent {
		return c.JSON(http.StatusConflict, echo.Map{"message": "Message already sent"})
	}

	payload, err := json.Marshal(models.ComposedMessage{
		MessageID: record.ID,
		HL7:       record.HL7Payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Error resending message"})
	}

	if err := s.store.UpdateStatus(ctx, record.ID, models.StatusPending); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Error resending message"})
	}
	if err := s.store.IncrementResend(ctx, record.ID); err != nil {
		s.logger.WithError(err).Warn("Failed to increment resend count")
	}
	if err := s.broker.Publish(ctx, s.transmitQ, record.ID, payload, map[string]string{
		models.HeaderMessageID: record.ID,
	}); err != nil {
		s.logger.WithError(err).Error("Failed to republish message")
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Error resending message"})
	}

	s.logger.WithField("message_id", record.ID).Info("Message queued for resend")
	return c.JSON(http.StatusOK, echo.Map{"messageId": record.ID, "status": "queued"})
}
