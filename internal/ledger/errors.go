package ledger

import (
	"context"
	"errors"
)

// Business outcomes.  These are final: retrying the same call against the
// same state yields the same error.
var (
	ErrEventNotFound       = errors.New("event not found")
	ErrEventClosed         = errors.New("event is not open for registration")
	ErrEventFull           = errors.New("event is full")
	ErrAlreadyRegistered   = errors.New("already registered for this event")
	ErrNotRegistered       = errors.New("no active registration for this event")
	ErrInvalidScore        = errors.New("score must be between 0 and 5")
	ErrInvalidCapacity     = errors.New("capacity must not be negative")
	ErrCapacityBelowActive = errors.New("capacity is below the number of active registrations")
	ErrFeeLocked           = errors.New("fee cannot change while registrations are active")
	ErrTicketNotFound      = errors.New("ticket not found for this event")
	ErrAlreadyCheckedIn    = errors.New("ticket already checked in")
	ErrPaymentRequired     = errors.New("registration fee has not been paid")
)

// InvalidEventError rejects an edit that would leave the event
// inconsistent, such as a registration window ending after the event.
type InvalidEventError struct {
	Reason string
}

func (e *InvalidEventError) Error() string { return e.Reason }

// ErrStorageUnavailable marks infrastructure failures that left no state
// behind.  Callers may retry.
var ErrStorageUnavailable = errors.New("storage unavailable")

// StorageError wraps a storage or context failure.  It matches
// ErrStorageUnavailable with errors.Is while keeping the cause reachable,
// so context.DeadlineExceeded is still detectable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "ledger: " + e.Op + ": " + ErrStorageUnavailable.Error() + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

// Unavailable wraps err as a retryable storage failure of op.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Code returns a stable machine-readable code for a business error, or
// the empty string when err is not one.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, ErrEventClosed):
		return "event_closed"
	case errors.Is(err, ErrEventFull):
		return "event_full"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, ErrInvalidScore):
		return "invalid_score"
	case errors.Is(err, ErrInvalidCapacity):
		return "invalid_capacity"
	case errors.Is(err, ErrCapacityBelowActive):
		return "capacity_below_active"
	case errors.Is(err, ErrFeeLocked):
		return "fee_locked"
	case errors.Is(err, ErrTicketNotFound):
		return "ticket_not_found"
	case errors.Is(err, ErrAlreadyCheckedIn):
		return "already_checked_in"
	case errors.Is(err, ErrPaymentRequired):
		return "payment_required"
	}
	var ie *InvalidEventError
	if errors.As(err, &ie) {
		return "invalid_event"
	}
	return ""
}

// IsBusiness reports whether err is one of the final business outcomes.
func IsBusiness(err error) bool { return Code(err) != "" }

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
