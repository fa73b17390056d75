package habs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the error returned
	// when a Getter tries to access a non-existent ref.
	// It denotes absence, not failure.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable matches errors reporting that no backend could serve a request.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrIntegrity matches *IntegrityError.
	ErrIntegrity = errors.New("integrity mismatch")

	// ErrExhaustedRetries matches *ExhaustedRetriesError.
	ErrExhaustedRetries = errors.New("exhausted retries")
)

// IntegrityError reports blob content that does not hash to its ref.
type IntegrityError struct {
	Ref  Ref
	Size int
	From string // the backend the bytes came from
	Err  error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("hash check failed: %s num bytes: %d from %s", e.Ref, e.Size, e.From)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }
func (e *IntegrityError) Unwrap() error        { return e.Err }

// ExhaustedRetriesError reports a write that failed on every backend in every attempt.
type ExhaustedRetriesError struct {
	Ref      Ref
	Attempts int
	Err      error // the cause of the last failure
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("failed to set %s in any blob store after %d attempts: %s", e.Ref, e.Attempts, e.Err)
}

func (e *ExhaustedRetriesError) Is(target error) bool { return target == ErrExhaustedRetries }
func (e *ExhaustedRetriesError) Unwrap() error        { return e.Err }

// UnavailableError reports a request that no backend could serve.
// Err holds the cause from each backend tried.
type UnavailableError struct {
	Ref Ref
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("no backend could serve %s: %s", e.Ref, e.Err)
}

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }
func (e *UnavailableError) Unwrap() error        { return e.Err }
