package models

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input rejected at admission. It is never
// retried; the producer must fix and resubmit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// CapacityError reports a saturated window buffer or output queue. Admission
// is paused, not dropped; the condition clears when capacity frees.
type CapacityError struct {
	Resource string
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s at capacity (%d)", e.Resource, e.Capacity)
}

// InconsistentStateError reports an internal invariant violation such as a
// causal-hint cycle. The affected group is emitted without the offending
// analysis rather than aborting the batch.
type InconsistentStateError struct {
	Subject string
	Reason  string
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("inconsistent state in %s: %s", e.Subject, e.Reason)
}

// StoreUnavailableError reports that the correlation store cannot accept
// writes. Finalized groups stay queued and are retried with backoff.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("correlation store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsCapacity reports whether err is a CapacityError.
func IsCapacity(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}

// IsInconsistentState reports whether err is an InconsistentStateError.
func IsInconsistentState(err error) bool {
	var ie *InconsistentStateError
	return errors.As(err, &ie)
}

// IsStoreUnavailable reports whether err is a StoreUnavailableError.
func IsStoreUnavailable(err error) bool {
	var se *StoreUnavailableError
	return errors.As(err, &se)
}
