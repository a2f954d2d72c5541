// Package store defines the persisted record contracts the pipeline writes
// through. The record store is the single source of truth for MessageStatus.
package store

import (
	"context"
	"errors"
	"time"

	"adt-bridge/pkg/models"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("record not found")

// MessageRecord is the persisted view of one message moving through the
// pipeline.
type MessageRecord struct {
	ID          string               `json:"id"`
	ClinicID    string               `json:"clinicId"`
	PatientID   string               `json:"patientId"`
	EventKind   models.EventKind     `json:"eventKind"`
	FHIRPayload []byte               `json:"fhirPayload,omitempty"`
	HL7Payload  string               `json:"hl7Payload,omitempty"`
	Status      models.MessageStatus `json:"status"`
	ResendCount int                  `json:"resendCount"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// QueryFilter narrows a message query. Zero fields are ignored.
type QueryFilter struct {
	Status        models.MessageStatus
	ClinicID      string
	CreatedBefore time.Time
	CreatedAfter  time.Time
	Limit         int
}

// MessageStore persists message records and their status.
type MessageStore interface {
	Save(ctx context.Context, record *MessageRecord) error
	UpdateStatus(ctx context.Context, id string, status models.MessageStatus) error
	SetComposed(ctx context.Context, id, hl7 string) error
	IncrementResend(ctx context.Context, id string) error
	Find(ctx context.Context, id string) (*MessageRecord, error)
	Query(ctx context.Context, filter QueryFilter) ([]*MessageRecord, error)
	CountByStatus(ctx context.Context, status models.MessageStatus, olderThan time.Time) (int, error)
}

// AttemptStore records transmission attempts, append-only.
type AttemptStore interface {
	Record(ctx context.Context, attempt models.DeliveryAttempt) error
	Failures(ctx context.Context, since time.Time) ([]models.DeliveryAttempt, error)
}
