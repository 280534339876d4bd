package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/cinema-booking-service/internal/client"
	"github.com/iliyamo/cinema-booking-service/internal/model"
	"github.com/iliyamo/cinema-booking-service/internal/repository"
)

// Kind classifies a business error.  The transport layer maps kinds to
// status codes; anything without a kind is reported as an internal error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindSeatConflict
	KindInvalidState
	KindAlreadyInState
	KindNotFound
	KindShowtimeNotFound
	KindUpstreamUnavailable
	KindUpstreamError
	KindPaymentNotCompleted
	KindPaymentAlreadyLinked
	KindInvalidAmount
	KindNotRefundable
	KindNoActiveHold
)

var kindNames = map[Kind]string{
	KindInternal:             "internal_error",
	KindValidation:           "validation_error",
	KindSeatConflict:         "seat_conflict",
	KindInvalidState:         "invalid_state",
	KindAlreadyInState:       "already_in_state",
	KindNotFound:             "not_found",
	KindShowtimeNotFound:     "showtime_not_found",
	KindUpstreamUnavailable:  "upstream_unavailable",
	KindUpstreamError:        "upstream_error",
	KindPaymentNotCompleted:  "payment_not_completed",
	KindPaymentAlreadyLinked: "payment_already_linked",
	KindInvalidAmount:        "invalid_amount",
	KindNotRefundable:        "not_refundable",
	KindNoActiveHold:         "no_active_hold",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindInternal]
}

// Error is the error type returned by every service operation that fails
// for a business reason.  Message is safe to show to callers; Err carries
// the underlying cause, if any.
type Error struct {
	Kind    Kind
	Field   string // JSON path of the offending input, validation errors only
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrSeatConflict)
// holds for any seat conflict regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrSeatConflict         = &Error{Kind: KindSeatConflict}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrAlreadyInState       = &Error{Kind: KindAlreadyInState}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrShowtimeNotFound     = &Error{Kind: KindShowtimeNotFound}
	ErrUpstreamUnavailable  = &Error{Kind: KindUpstreamUnavailable}
	ErrUpstreamError        = &Error{Kind: KindUpstreamError}
	ErrPaymentNotCompleted  = &Error{Kind: KindPaymentNotCompleted}
	ErrPaymentAlreadyLinked = &Error{Kind: KindPaymentAlreadyLinked}
	ErrInvalidAmount        = &Error{Kind: KindInvalidAmount}
	ErrNotRefundable        = &Error{Kind: KindNotRefundable}
	ErrNoActiveHold         = &Error{Kind: KindNoActiveHold}
)

// KindOf returns the kind of err, KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a field-level validation error.
func Validation(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// stateError translates a model transition error.
func stateError(err error) error {
	switch {
	case errors.Is(err, model.ErrAlreadyInState):
		return &Error{Kind: KindAlreadyInState, Message: err.Error(), Err: err}
	case errors.Is(err, model.ErrIllegalTransition):
		return &Error{Kind: KindInvalidState, Message: err.Error(), Err: err}
	}
	return err
}

// notFound turns repository.ErrNotFound into a NotFound error naming what
// was looked up and passes every other error through.
func notFound(err error, what string, id uint64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %d not found", what, id), Err: err}
	}
	return err
}

// upstream classifies a remote failure.
func upstream(err error, action string) error {
	if errors.Is(err, client.ErrUnavailable) {
		return &Error{Kind: KindUpstreamUnavailable, Message: "theatre service unavailable", Err: err}
	}
	var se *client.StatusError
	if errors.As(err, &se) {
		return &Error{Kind: KindUpstreamError, Message: fmt.Sprintf("%s: theatre service returned %d", action, se.StatusCode), Err: err}
	}
	return &Error{Kind: KindUpstreamError, Message: action, Err: err}
}
