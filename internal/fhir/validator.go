package fhir

import (
	"fmt"
	"time"

	"adt-bridge/internal/observability"
)

// ValidationError describes one completeness failure found during intake.
type ValidationError struct {
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// ValidationResult collects intake checks for a resource.
type ValidationResult struct {
	Errors []ValidationError `json:"errors"`
}

func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) addError(message, path string) {
	r.Errors = append(r.Errors, ValidationError{Message: message, Path: path})
}

// Validate checks a Patient resource for the fields the registry requires.
// It never panics: an unexpected internal failure is reported as a single
// diagnostic error so malformed input cannot take the pipeline down.
func Validate(patient *Patient) (result *ValidationResult) {
	result = &ValidationResult{}

	defer func() {
		if r := recover(); r != nil {
			observability.WithField("panic", r).Error("unexpected error validating resource")
			result = &ValidationResult{Errors: []ValidationError{
				{Message: fmt.Sprintf("validation error: %v", r)},
			}}
		}
	}()

	if patient == nil {
		result.addError("patient resource is required", "Patient")
		return result
	}

	if patient.ID == "" {
		result.addError("patient ID is required", "Patient.id")
	}

	if len(patient.Name) == 0 {
		result.addError("patient name is required", "Patient.name")
	} else {
		name := patient.Name[0]
		if name.Family == "" {
			result.addError("patient family name is required", "Patient.name.family")
		}
		if len(name.Given) == 0 {
			result.addError("patient given name is required", "Patient.name.given")
		}
	}

	if patient.BirthDate == "" {
		result.addError("patient birth date is required", "Patient.birthDate")
	} else if birthDate, err := parseBirthDate(patient.BirthDate); err != nil {
		result.addError("invalid patient birth date format", "Patient.birthDate")
	} else if birthDate.After(time.Now()) {
		result.addError("patient birth date cannot be in the future", "Patient.birthDate")
	}

	if patient.Gender == "" {
		result.addError("patient gender is required", "Patient.gender")
	}

	return result
}

// parseBirthDate accepts the FHIR date precisions: year, year-month, full date.
func parseBirthDate(value string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}
