// Package apperr defines the error taxonomy shared by every component.
//
// Callers test the category with errors.Is against the sentinels below and
// use errors.As to reach the *Error for details such as the HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidRequest
	KindInvalidResponse
	KindHTTP
	KindDecoding
	KindTransientNetwork
	KindRateLimited
	KindNotFound
	KindValidation
	KindStorage
	KindArchive
	KindLimitExceeded
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid request"
	case KindInvalidResponse:
		return "invalid response"
	case KindHTTP:
		return "http error"
	case KindDecoding:
		return "decoding error"
	case KindTransientNetwork:
		return "network unavailable"
	case KindRateLimited:
		return "rate limited"
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "validation error"
	case KindStorage:
		return "storage error"
	case KindArchive:
		return "archive error"
	case KindLimitExceeded:
		return "limit exceeded"
	default:
		return "unknown error"
	}
}

// Error is the concrete error type returned by the core.
type Error struct {
	Kind Kind
	// Status is the HTTP status code for KindHTTP, KindRateLimited and
	// KindNotFound errors that came from a response.
	Status int
	Op     string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind so that errors.Is(err, ErrNotFound) holds for
// any *Error of KindNotFound regardless of op or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Status == 0 && t.Kind == e.Kind
}

// Sentinels, one per kind.
var (
	ErrInvalidRequest   = &Error{Kind: KindInvalidRequest}
	ErrInvalidResponse  = &Error{Kind: KindInvalidResponse}
	ErrHTTP             = &Error{Kind: KindHTTP}
	ErrDecoding         = &Error{Kind: KindDecoding}
	ErrTransientNetwork = &Error{Kind: KindTransientNetwork}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrStorage          = &Error{Kind: KindStorage}
	ErrArchive          = &Error{Kind: KindArchive}
	ErrLimitExceeded    = &Error{Kind: KindLimitExceeded}
)

// New builds an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an *Error whose cause is a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// FromStatus maps a non-2xx HTTP status to an error.
func FromStatus(op string, status int) *Error {
	switch status {
	case http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Op: op, Status: status}
	case http.StatusNotFound:
		return &Error{Kind: KindNotFound, Op: op, Status: status}
	default:
		return &Error{Kind: KindHTTP, Op: op, Status: status}
	}
}

// KindOf returns the kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StatusCode returns the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status, true
	}
	return 0, false
}

// retryableStatus is the set of HTTP statuses worth another attempt.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryableStatus reports whether status belongs to the retryable set.
func IsRetryableStatus(status int) bool {
	return retryableStatus[status]
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindTransientNetwork, KindRateLimited:
		return true
	case KindHTTP:
		return IsRetryableStatus(e.Status)
	default:
		return false
	}
}
