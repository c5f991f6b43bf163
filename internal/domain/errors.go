package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrInvalidState     = errors.New("invalid batch state")
	ErrNoRetryableItems = errors.New("no retryable items")
	ErrFatalSession     = errors.New("scraper session failed")
	ErrPersistence      = errors.New("persistence failure")
	ErrSessionBusy      = errors.New("another scraper session is active")
	ErrNotFound         = errors.New("not found")
)

// ValidationError rejects bad caller input before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidStateError rejects an operation attempted from the wrong batch status.
type InvalidStateError struct {
	BatchID   string
	Operation string
	Status    BatchStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s batch %s in status %s", e.Operation, e.BatchID, e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// NoRetryableItemsError is returned by retry when no item is in failed status.
type NoRetryableItemsError struct {
	BatchID string
}

func (e *NoRetryableItemsError) Error() string {
	return fmt.Sprintf("batch %s has no failed items to retry", e.BatchID)
}

func (e *NoRetryableItemsError) Is(target error) bool { return target == ErrNoRetryableItems }

// FatalSessionError wraps a session-level adapter failure. The batch has already been marked failed.
type FatalSessionError struct {
	BatchID string
	Phase   string
	Err     error
}

func (e *FatalSessionError) Error() string {
	return fmt.Sprintf("batch %s: %s phase: scraper session: %v", e.BatchID, e.Phase, e.Err)
}

func (e *FatalSessionError) Unwrap() error { return e.Err }

func (e *FatalSessionError) Is(target error) bool { return target == ErrFatalSession }

// PersistenceError wraps a store failure. The core never retries it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Persistence wraps err as a PersistenceError unless it already is one or is ErrNotFound.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
