// Package fhir holds the subset of the FHIR Patient resource the bridge
// consumes, plus intake validation and ADT classification.
package fhir

import (
	"encoding/json"
	"fmt"
)

// Patient is the structured clinical resource entering the pipeline.
// Immutable once parsed; the pipeline never writes back to it.
type Patient struct {
	ResourceType         string         `json:"resourceType"`
	ID                   string         `json:"id"`
	Meta                 *Meta          `json:"meta,omitempty"`
	Identifier           []Identifier   `json:"identifier,omitempty"`
	Name                 []HumanName    `json:"name,omitempty"`
	Gender               string         `json:"gender,omitempty"`
	BirthDate            string         `json:"birthDate,omitempty"`
	Address              []Address      `json:"address,omitempty"`
	Telecom              []ContactPoint `json:"telecom,omitempty"`
	ManagingOrganization *Reference     `json:"managingOrganization,omitempty"`
	Extension            []Extension    `json:"extension,omitempty"`
}

type Meta struct {
	Tag []Coding `json:"tag,omitempty"`
}

type Coding struct {
	System string `json:"system,omitempty"`
	Code   string `json:"code,omitempty"`
}

type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

type HumanName struct {
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

type Address struct {
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
}

type ContactPoint struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
}

type Extension struct {
	URL         string `json:"url,omitempty"`
	ValueString string `json:"valueString,omitempty"`
}

// ErrUnsupportedResource is returned for any resource type other than Patient.
var ErrUnsupportedResource = fmt.Errorf("unsupported resource type")

// ParsePatient decodes a raw FHIR resource, rejecting anything that is not
// a Patient.
func ParsePatient(raw []byte) (*Patient, error) {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("invalid FHIR payload: %w", err)
	}
	if probe.ResourceType != "Patient" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedResource, probe.ResourceType)
	}
	var p Patient
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid Patient resource: %w", err)
	}
	return &p, nil
}
