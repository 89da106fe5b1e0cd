package allocator

import "errors"

// Code is a stable, machine-readable allocator outcome.  Callers branch on
// codes, never on messages.
type Code string

const (
	CodeEventNotFound              Code = "EVENT_NOT_FOUND"
	CodeEventInPast                Code = "EVENT_IN_PAST"
	CodeDuplicateReservation       Code = "DUPLICATE_RESERVATION"
	CodeSeatsExhausted             Code = "SEATS_EXHAUSTED"
	CodeReservationNotFound        Code = "RESERVATION_NOT_FOUND"
	CodeNotAuthorized              Code = "NOT_AUTHORIZED"
	CodeAlreadyReleased            Code = "ALREADY_RELEASED"
	CodeEventAlreadyOccurred       Code = "EVENT_ALREADY_OCCURRED"
	CodeAllocatorUnavailable       Code = "ALLOCATOR_UNAVAILABLE"
	CodeCapacityReductionBelowHeld Code = "CAPACITY_REDUCTION_BELOW_HELD"
	CodeInvalidCapacity            Code = "INVALID_CAPACITY"
	CodeInvalidEvent               Code = "INVALID_EVENT"
	CodeInvariantViolation         Code = "INVARIANT_VIOLATION"
)

// Retryable reports whether repeating the same request may succeed.  Only
// an unavailable allocator qualifies: the unit of work never left partial
// state behind.  Every other code is a business rule outcome.
func (c Code) Retryable() bool { return c == CodeAllocatorUnavailable }

// Error is a typed allocator outcome.  Two errors match under errors.Is
// when their codes are equal, so wrapped or cause-carrying copies still
// match the exported sentinels.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrEventNotFound              = &Error{Code: CodeEventNotFound, Message: "event not found"}
	ErrEventInPast                = &Error{Code: CodeEventInPast, Message: "event has already started"}
	ErrDuplicateReservation       = &Error{Code: CodeDuplicateReservation, Message: "subject already holds a seat for this event"}
	ErrSeatsExhausted             = &Error{Code: CodeSeatsExhausted, Message: "no seats left for this event"}
	ErrReservationNotFound        = &Error{Code: CodeReservationNotFound, Message: "reservation not found"}
	ErrNotAuthorized              = &Error{Code: CodeNotAuthorized, Message: "not authorized"}
	ErrAlreadyReleased            = &Error{Code: CodeAlreadyReleased, Message: "reservation already released"}
	ErrEventAlreadyOccurred       = &Error{Code: CodeEventAlreadyOccurred, Message: "event already occurred"}
	ErrAllocatorUnavailable       = &Error{Code: CodeAllocatorUnavailable, Message: "allocator unavailable, retry later"}
	ErrCapacityReductionBelowHeld = &Error{Code: CodeCapacityReductionBelowHeld, Message: "capacity cannot go below held reservations"}
	ErrInvalidCapacity            = &Error{Code: CodeInvalidCapacity, Message: "seat capacity must be positive"}
	ErrInvalidEvent               = &Error{Code: CodeInvalidEvent, Message: "event needs a title and a start time"}
	ErrInvariantViolation         = &Error{Code: CodeInvariantViolation, Message: "seat accounting invariant violated"}
)

func unavailable(cause error) error {
	return &Error{Code: CodeAllocatorUnavailable, Message: ErrAllocatorUnavailable.Message, cause: cause}
}

// CodeOf extracts the allocator code carried by err.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
