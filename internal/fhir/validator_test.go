package fhir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPatient() *Patient {
	return &Patient{
		ResourceType: "Patient",
		ID:           "patient-123",
		Name: []HumanName{
			{Family: "Doe", Given: []string{"John"}},
		},
		Gender:    "male",
		BirthDate: "1980-05-20",
	}
}

func TestValidate_ValidPatient(t *testing.T) {
	result := Validate(validPatient())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
}

func TestValidate_NilPatient(t *testing.T) {
	result := Validate(nil)
	require.False(t, result.Valid())
	assert.Equal(t, "Patient", result.Errors[0].Path)
}

func TestValidate_MissingFields(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(p *Patient)
		expectedPath string
	}{
		{
			name:         "Missing ID",
			mutate:       func(p *Patient) { p.ID = "" },
			expectedPath: "Patient.id",
		},
		{
			name:         "Missing name",
			mutate:       func(p *Patient) { p.Name = nil },
			expectedPath: "Patient.name",
		},
		{
			name:         "Missing family name",
			mutate:       func(p *Patient) { p.Name[0].Family = "" },
			expectedPath: "Patient.name.family",
		},
		{
			name:         "Missing given name",
			mutate:       func(p *Patient) { p.Name[0].Given = nil },
			expectedPath: "Patient.name.given",
		},
		{
			name:         "Missing birth date",
			mutate:       func(p *Patient) { p.BirthDate = "" },
			expectedPath: "Patient.birthDate",
		},
		{
			name:         "Missing gender",
			mutate:       func(p *Patient) { p.Gender = "" },
			expectedPath: "Patient.gender",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patient := validPatient()
			tt.mutate(patient)

			result := Validate(patient)
			require.False(t, result.Valid())
			require.Len(t, result.Errors, 1)
			assert.Equal(t, tt.expectedPath, result.Errors[0].Path)
		})
	}
}

func TestValidate_BirthDate(t *testing.T) {
	tests := []struct {
		name      string
		birthDate string
		valid     bool
	}{
		{"Full date", "1980-05-20", true},
		{"Year and month", "1980-05", true},
		{"Year only", "1980", true},
		{"Garbage", "not-a-date", false},
		{"Wrong separator", "1980/05/20", false},
		{"Future date", "2999-01-01", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patient := validPatient()
			patient.BirthDate = tt.birthDate

			result := Validate(patient)
			assert.Equal(t, tt.valid, result.Valid())
		})
	}
}

func TestValidate_ReportsAllMissingFields(t *testing.T) {
	result := Validate(&Patient{ResourceType: "Patient"})
	require.False(t, result.Valid())
	assert.Len(t, result.Errors, 4) // id, name, birthDate, gender
}
