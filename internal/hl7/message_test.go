package hl7

import (
	"strings"
	"testing"
	"time"

	"adt-bridge/internal/fhir"
	"adt-bridge/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		SendingApp:        "FHIR_SYSTEM",
		SendingFacility:   "CLINIC_ID",
		ReceivingApp:      "PCR",
		ReceivingFacility: "Ontario",
		Now:               func() time.Time { return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC) },
		ControlID:         func() string { return "control-1" },
	}
}

func testPatient() *fhir.Patient {
	return &fhir.Patient{
		ResourceType: "Patient",
		ID:           "patient-123",
		Name:         []fhir.HumanName{{Family: "Doe", Given: []string{"John"}}},
		Gender:       "male",
		BirthDate:    "1980-05-20",
		Address: []fhir.Address{{
			Line:       []string{"1 Main St"},
			City:       "Toronto",
			State:      "ON",
			PostalCode: "M5V 1A1",
		}},
		Telecom: []fhir.ContactPoint{
			{System: "email", Value: "john@example.org"},
			{System: "phone", Value: "555-0100"},
		},
	}
}

func TestConvert_HeaderSegment(t *testing.T) {
	msg, err := Convert(testPatient(), models.EventAdd, testOptions())
	require.NoError(t, err)

	lines := strings.Split(msg, "\n")
	assert.Equal(t,
		`MSH|^~\&|FHIR_SYSTEM|CLINIC_ID|PCR|Ontario|20240315103000||ADT^A28|control-1|P|2.4`,
		lines[0])
}

func TestConvert_EventTypePerKind(t *testing.T) {
	tests := []struct {
		kind     models.EventKind
		expected string
	}{
		{models.EventAdd, "ADT^A28"},
		{models.EventUpdate, "ADT^A31"},
		{models.EventMerge, "ADT^A40"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			msg, err := Convert(testPatient(), tt.kind, testOptions())
			require.NoError(t, err)

			fields := strings.Split(strings.Split(msg, "\n")[0], "|")
			assert.Equal(t, tt.expected, fields[8])
		})
	}
}

func TestConvert_PatientSegment(t *testing.T) {
	msg, err := Convert(testPatient(), models.EventAdd, testOptions())
	require.NoError(t, err)

	lines := strings.Split(msg, "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t,
		"PID|1|patient-123|||Doe^John||19800520|M|||1 Main St^Toronto^ON^M5V 1A1||555-0100",
		lines[1])
}

func TestConvert_BirthDateField(t *testing.T) {
	msg, err := Convert(testPatient(), models.EventUpdate, testOptions())
	require.NoError(t, err)

	pid := strings.Split(msg, "\n")[1]
	fields := strings.Split(pid, "|")
	// Birth date is the 8th pipe-delimited field and carries no separators.
	assert.Equal(t, "19800520", fields[7])
	assert.NotContains(t, fields[7], "-")
}

func TestConvert_SegmentsPerKind(t *testing.T) {
	tests := []struct {
		name     string
		kind     models.EventKind
		segments []string
	}{
		{"Add", models.EventAdd, []string{"MSH", "PID", "PV1", "MFT"}},
		{"Update", models.EventUpdate, []string{"MSH", "PID", "PV1", "MFT"}},
		{"Merge", models.EventMerge, []string{"MSH", "PID", "MRG"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Convert(testPatient(), tt.kind, testOptions())
			require.NoError(t, err)

			lines := strings.Split(msg, "\n")
			require.Len(t, lines, len(tt.segments))
			for i, segment := range tt.segments {
				assert.True(t, strings.HasPrefix(lines[i], segment+"|"),
					"line %d should start with %s: %s", i, segment, lines[i])
			}
		})
	}
}

func TestConvert_MergeSegmentCarriesPatientID(t *testing.T) {
	msg, err := Convert(testPatient(), models.EventMerge, testOptions())
	require.NoError(t, err)

	lines := strings.Split(msg, "\n")
	assert.Equal(t, "MRG|patient-123", lines[2])
}

func TestConvert_Deterministic(t *testing.T) {
	first, err := Convert(testPatient(), models.EventAdd, testOptions())
	require.NoError(t, err)
	second, err := Convert(testPatient(), models.EventAdd, testOptions())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestConvert_EmptyOptionalFieldsKeepPositions(t *testing.T) {
	patient := testPatient()
	patient.Address = nil
	patient.Telecom = nil

	msg, err := Convert(patient, models.EventAdd, testOptions())
	require.NoError(t, err)

	pid := strings.Split(msg, "\n")[1]
	assert.Equal(t, "PID|1|patient-123|||Doe^John||19800520|M|||||", pid)
}

func TestConvert_AddressDropsEmptyComponents(t *testing.T) {
	patient := testPatient()
	patient.Address = []fhir.Address{{City: "Toronto", PostalCode: "M5V 1A1"}}

	msg, err := Convert(patient, models.EventAdd, testOptions())
	require.NoError(t, err)

	fields := strings.Split(strings.Split(msg, "\n")[1], "|")
	assert.Equal(t, "Toronto^M5V 1A1", fields[11])
}

func TestConvert_GenderAbbreviated(t *testing.T) {
	tests := []struct {
		gender   string
		expected string
	}{
		{"male", "M"},
		{"female", "F"},
		{"other", "O"},
		{"unknown", "U"},
		{"", ""},
	}

	for _, tt := range tests {
		patient := testPatient()
		patient.Gender = tt.gender

		msg, err := Convert(patient, models.EventAdd, testOptions())
		require.NoError(t, err)

		fields := strings.Split(strings.Split(msg, "\n")[1], "|")
		assert.Equal(t, tt.expected, fields[8])
	}
}

func TestConvert_Rejects(t *testing.T) {
	_, err := Convert(nil, models.EventAdd, testOptions())
	assert.Error(t, err)

	_, err = Convert(testPatient(), models.EventKind("A99"), testOptions())
	assert.Error(t, err)
}
