package fhir

import (
	"fmt"
	"strings"

	"adt-bridge/pkg/models"

	"github.com/google/uuid"
)

const (
	// TagSystem is the code system whose tags select the ADT event kind.
	TagSystem = "http://terminology.hl7.org/CodeSystem/v2-0203"

	// ClinicExtensionURL carries the clinic id when the managing
	// organization reference is absent.
	ClinicExtensionURL = "http://example.org/fhir/StructureDefinition/clinicId"

	// MRNSystem identifies the medical record number identifier.
	MRNSystem = "http://example.org/fhir/identifier/mrn"

	organizationPrefix = "Organization/"
)

// ClassificationError reports a resource whose routing keys could not be
// resolved. Surfaced to the caller as a client error; never retried.
type ClassificationError struct {
	Reason string
}

func (e *ClassificationError) Error() string {
	return "classification failed: " + e.Reason
}

// Classification is the routing decision for one resource.
type Classification struct {
	Kind      models.EventKind
	ClinicID  string
	PatientID string
}

// FallbackResolver supplies routing keys when the resource itself carries
// none. The strict resolver treats that as a failure; the static resolver
// keeps the legacy placeholder behavior for dev environments.
type FallbackResolver interface {
	ClinicID(patient *Patient) (string, error)
	PatientID(patient *Patient) (string, error)
}

// StrictResolver refuses to invent routing keys.
type StrictResolver struct{}

func (StrictResolver) ClinicID(*Patient) (string, error) {
	return "", &ClassificationError{Reason: "could not determine clinic ID"}
}

func (StrictResolver) PatientID(*Patient) (string, error) {
	return "", &ClassificationError{Reason: "could not determine patient ID"}
}

// StaticResolver returns a configured clinic id and a generated patient id.
type StaticResolver struct {
	Clinic string
}

func (r StaticResolver) ClinicID(*Patient) (string, error) {
	return r.Clinic, nil
}

func (r StaticResolver) PatientID(*Patient) (string, error) {
	return uuid.NewString(), nil
}

// Classifier picks the event kind and routing keys for a resource.
type Classifier struct {
	resolver FallbackResolver
}

func NewClassifier(resolver FallbackResolver) *Classifier {
	if resolver == nil {
		resolver = StrictResolver{}
	}
	return &Classifier{resolver: resolver}
}

// Classify inspects the resource's tags for one of the three recognized
// event codes, defaulting to Update, and extracts the clinic and patient
// routing keys.
func (c *Classifier) Classify(patient *Patient) (Classification, error) {
	if patient == nil {
		return Classification{}, fmt.Errorf("%w: nil resource", ErrUnsupportedResource)
	}

	clinicID, err := c.clinicID(patient)
	if err != nil {
		return Classification{}, err
	}
	patientID, err := c.patientID(patient)
	if err != nil {
		return Classification{}, err
	}

	return Classification{
		Kind:      eventKind(patient),
		ClinicID:  clinicID,
		PatientID: patientID,
	}, nil
}

func eventKind(patient *Patient) models.EventKind {
	if patient.Meta == nil {
		return models.EventUpdate
	}
	for _, tag := range patient.Meta.Tag {
		if tag.System != TagSystem {
			continue
		}
		if kind := models.EventKind(tag.Code); kind.Valid() {
			return kind
		}
	}
	return models.EventUpdate
}

func (c *Classifier) clinicID(patient *Patient) (string, error) {
	if org := patient.ManagingOrganization; org != nil {
		if strings.HasPrefix(org.Reference, organizationPrefix) {
			if id := strings.TrimPrefix(org.Reference, organizationPrefix); id != "" {
				return id, nil
			}
		}
	}
	for _, ext := range patient.Extension {
		if ext.URL == ClinicExtensionURL && ext.ValueString != "" {
			return ext.ValueString, nil
		}
	}
	return c.resolver.ClinicID(patient)
}

func (c *Classifier) patientID(patient *Patient) (string, error) {
	if patient.ID != "" {
		return patient.ID, nil
	}
	for _, ident := range patient.Identifier {
		if ident.System == MRNSystem && ident.Value != "" {
			return ident.Value, nil
		}
	}
	return c.resolver.PatientID(patient)
}
