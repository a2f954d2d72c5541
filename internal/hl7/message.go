// Package hl7 composes outbound HL7 v2 ADT messages and interprets
// acknowledgment responses. The wire format is positional: empty fields are
// kept as empty strings between separators.
package hl7

import (
	"fmt"
	"strings"
	"time"

	"adt-bridge/internal/fhir"
	"adt-bridge/pkg/models"

	"github.com/google/uuid"
)

const (
	fieldSeparator     = "|"
	componentSeparator = "^"
	encodingCharacters = `^~\&`
	processingID       = "P"
	versionID          = "2.4"
	timestampLayout    = "20060102150405"
)

// Options carries the routing identity of the sender and receiver plus the
// clocks used for the MSH segment. Zero-value Now and ControlID fall back to
// the wall clock and a generated UUID.
type Options struct {
	SendingApp        string
	SendingFacility   string
	ReceivingApp      string
	ReceivingFacility string
	Now               func() time.Time
	ControlID         func() string
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) controlID() string {
	if o.ControlID != nil {
		return o.ControlID()
	}
	return uuid.NewString()
}

// segmentStep produces one line of the outbound message.
type segmentStep func() string

// Convert composes the full message for the given event kind: MSH and PID
// always, then PV1+MFT for Add/Update or MRG for Merge. The composition is a
// pure fold over the ordered segment steps; nothing is mutated between calls.
func Convert(patient *fhir.Patient, kind models.EventKind, opts Options) (string, error) {
	if patient == nil {
		return "", fmt.Errorf("nil patient resource")
	}
	if !kind.Valid() {
		return "", fmt.Errorf("unsupported event kind %q", kind)
	}

	steps := []segmentStep{
		func() string { return headerSegment(kind, opts) },
		func() string { return patientSegment(patient) },
	}
	switch kind {
	case models.EventAdd, models.EventUpdate:
		steps = append(steps,
			func() string { return visitSegment("I") },
			func() string { return masterFileSegment() },
		)
	case models.EventMerge:
		steps = append(steps, func() string { return mergeSegment(patient) })
	}

	lines := make([]string, 0, len(steps))
	for _, step := range steps {
		lines = append(lines, step())
	}
	return strings.Join(lines, "\n"), nil
}

// headerSegment emits the MSH segment:
// MSH|^~\&|sendingApp|sendingFacility|receivingApp|receivingFacility|timestamp||eventType|controlId|processingId|versionId
func headerSegment(kind models.EventKind, opts Options) string {
	return join("MSH",
		encodingCharacters,
		opts.SendingApp,
		opts.SendingFacility,
		opts.ReceivingApp,
		opts.ReceivingFacility,
		opts.now().Format(timestampLayout),
		"",
		kind.MessageType(),
		opts.controlID(),
		processingID,
		versionID,
	)
}

// patientSegment emits the PID segment with identity, name, birth date,
// gender, address and first phone contact at their standard positions.
func patientSegment(patient *fhir.Patient) string {
	return join("PID",
		"1",
		patient.ID,
		"",
		"",
		patientName(patient),
		"",
		birthDate(patient),
		gender(patient),
		"",
		"",
		address(patient),
		"",
		phoneNumber(patient),
	)
}

// visitSegment emits a minimal PV1 segment for the given patient class.
func visitSegment(patientClass string) string {
	return join("PV1", "1", patientClass)
}

// masterFileSegment emits a minimal MFT segment.
func masterFileSegment() string {
	return join("MFT", "1", "MAT")
}

// mergeSegment emits the MRG segment carrying the prior patient identity.
func mergeSegment(patient *fhir.Patient) string {
	return join("MRG", patient.ID)
}

func join(fields ...string) string {
	return strings.Join(fields, fieldSeparator)
}

func patientName(patient *fhir.Patient) string {
	if len(patient.Name) == 0 {
		return ""
	}
	name := patient.Name[0]
	return name.Family + componentSeparator + strings.Join(name.Given, " ")
}

func birthDate(patient *fhir.Patient) string {
	return strings.ReplaceAll(patient.BirthDate, "-", "")
}

func gender(patient *fhir.Patient) string {
	if patient.Gender == "" {
		return ""
	}
	return strings.ToUpper(patient.Gender[:1])
}

// address renders line^city^state^postal with empty components dropped.
func address(patient *fhir.Patient) string {
	if len(patient.Address) == 0 {
		return ""
	}
	addr := patient.Address[0]
	components := []string{
		strings.Join(addr.Line, " "),
		addr.City,
		addr.State,
		addr.PostalCode,
	}
	present := make([]string, 0, len(components))
	for _, component := range components {
		if component != "" {
			present = append(present, component)
		}
	}
	return strings.Join(present, componentSeparator)
}

func phoneNumber(patient *fhir.Patient) string {
	for _, contact := range patient.Telecom {
		if contact.System == "phone" {
			return contact.Value
		}
	}
	return ""
}
