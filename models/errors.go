package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every component of the scan pipeline.
// Callers should use errors.Is() to check for these.
var (
	// ErrConfiguration indicates a missing or unusable asset/template reference.
	ErrConfiguration = errors.New("configuration error")

	// ErrExecution indicates the scanner process could not be launched or supervised.
	ErrExecution = errors.New("execution error")

	// ErrTimeout indicates the scanner exceeded its wall-clock deadline and was killed.
	ErrTimeout = errors.New("scan timeout")

	// ErrCancelled indicates the scanner process was killed by a cancellation request.
	ErrCancelled = errors.New("scan cancelled")

	// ErrInvalidState indicates an illegal scan or vulnerability state transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotFound indicates an entity lookup by id found nothing.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates rejected input, such as a short risk-acceptance reason.
	ErrValidation = errors.New("validation error")

	// ErrCapabilityDisabled indicates the deployment does not enable the requested feature.
	ErrCapabilityDisabled = errors.New("capability disabled")

	// ErrAdmissionDenied indicates the admission check refused to start another scan.
	ErrAdmissionDenied = errors.New("admission denied")
)

// InvalidStateError reports a scan status transition that is not allowed.
type InvalidStateError struct {
	ScanID  uint
	Current ScanStatus
	Wanted  ScanStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("scan %d: cannot move from %s to %s", e.ScanID, e.Current, e.Wanted)
}

// Is makes errors.Is(err, ErrInvalidState) match.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
