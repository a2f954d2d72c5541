package pipeline

import (
	"errors"
	"fmt"

	"adt-bridge/internal/fhir"
)

// permanentError marks a delivery that can never succeed: it is completed
// (dropped) instead of being returned to the queue. Infrastructure errors
// stay transient and are retried by the next scheduler cycle via Abandon.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so the consumer discards the delivery.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether the delivery carrying err should be dropped.
// Validation and classification failures are permanent by definition.
func IsPermanent(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	var ce *fhir.ClassificationError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, fhir.ErrUnsupportedResource)
}

// InfraError wraps a queue or store failure. Transient: the delivery is
// abandoned and picked up by a later cycle.
func InfraError(op string, err error) error {
	return fmt.Errorf("infrastructure failure in %s: %w", op, err)
}
