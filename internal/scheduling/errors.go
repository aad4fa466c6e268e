package scheduling

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures surfaced by the integrator.
type Kind string

const (
	// KindNotFound indicates a patient, entity or appointment is absent.
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict indicates a duplicate create.
	KindConflict Kind = "CONFLICT"
	// KindIntegration indicates the upstream rejected the request, returned a
	// degenerate response, or a policy makes the request unsatisfiable.
	KindIntegration Kind = "INTEGRATION"
	// KindInternal indicates an unexpected fault.
	KindInternal Kind = "INTERNAL"
)

// Error is a typed integrator error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the kind to a response status for outer layers.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindIntegration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NotFound builds a NotFound error.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a Conflict error.
func Conflict(op, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

// IntegrationError builds an upstream/BadGateway error.
func IntegrationError(op string, err error, format string, args ...any) *Error {
	return &Error{Kind: KindIntegration, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// Internal builds an Internal error tagged with the originating operation.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf returns the kind of the outermost typed error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return KindInternal
}

// Wrap tags err with op, keeping the kind of an inner typed error.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

func IsNotFound(err error) bool    { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool    { return KindOf(err) == KindConflict }
func IsIntegration(err error) bool { return KindOf(err) == KindIntegration }
