package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure so callers can tell retryable from non-retryable errors.
type Kind string

const (
	InvalidInput        Kind = "invalid_input"
	UpstreamUnavailable Kind = "upstream_unavailable"
	UpstreamError       Kind = "upstream_error"
	Internal            Kind = "internal"
)

// Error is a classified error
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error from a message
func New(kind Kind, op, message string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(message)}
}

// Wrap classifies err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain,
// or Internal when nothing in the chain is classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a caller may reasonably try the operation again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case UpstreamUnavailable, UpstreamError:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a kind to the status code returned by the API
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidInput:
		return http.StatusBadRequest
	case UpstreamUnavailable:
		return http.StatusServiceUnavailable
	case UpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode is the process exit status for a failed command: 2 for invalid
// input, 1 for everything else.
func ExitCode(err error) int {
	if Is(err, InvalidInput) {
		return 2
	}
	return 1
}
