package models

import "time"

// EventKind identifies the ADT event a message carries.
type EventKind string

const (
	EventAdd    EventKind = "A28" // add person information
	EventUpdate EventKind = "A31" // update person information
	EventMerge  EventKind = "A40" // merge patient information
)

// MessageType returns the HL7 message type for the event, e.g. "ADT^A28".
func (k EventKind) MessageType() string {
	return "ADT^" + string(k)
}

// Valid reports whether k is one of the three supported event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventAdd, EventUpdate, EventMerge:
		return true
	}
	return false
}

// MessageStatus is the externally visible outcome of a message. Pending is
// the only state a retry may start from; Sent and Failed are terminal for
// an attempt cycle.
type MessageStatus string

const (
	StatusPending MessageStatus = "Pending"
	StatusSent    MessageStatus = "Sent"
	StatusFailed  MessageStatus = "Failed"
)

// ResourceEnvelope is the payload published to the conversion queue after
// intake validation and classification.
type ResourceEnvelope struct {
	MessageID string    `json:"messageId"`
	Resource  []byte    `json:"resource"`
	ClinicID  string    `json:"clinicId"`
	PatientID string    `json:"patientId"`
	EventKind EventKind `json:"eventKind"`
	Timestamp time.Time `json:"timestamp"`
}

// ComposedMessage is the payload published to the transmission queue. The
// HL7 content is composed once; retries and resends reuse it unchanged.
type ComposedMessage struct {
	MessageID string    `json:"messageId"`
	HL7       string    `json:"hl7"`
	Timestamp time.Time `json:"timestamp"`
}

// RetryTicket is the payload circulating on the retry queue. AttemptCount
// is the number of the transmission attempt the ticket represents and only
// ever increases.
type RetryTicket struct {
	MessageID    string    `json:"messageId"`
	HL7          string    `json:"hl7"`
	AttemptCount int       `json:"attemptCount"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

// DeliveryAttempt describes the outcome of one transmission attempt.
// Append-only; the digest is built from these records.
type DeliveryAttempt struct {
	MessageID      string    `json:"messageId"`
	AttemptedAt    time.Time `json:"attemptedAt"`
	Success        bool      `json:"success"`
	AckKind        string    `json:"ackKind"`
	ErrorDetail    string    `json:"errorDetail,omitempty"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
}

// Message header constants
const (
	HeaderMessageID     = "message-id"
	HeaderEventKind     = "event-kind"
	HeaderRetryCount    = "retry-count"
	HeaderFailureReason = "failure-reason"
	HeaderProcessedAt   = "processed-at"
)
