package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for retry decisions.
type Kind int

const (
	// Retryable failures are network errors, timeouts, 429 and 5xx responses.
	Retryable Kind = iota
	// NonRetryable failures are other 4xx responses and malformed payloads.
	NonRetryable
)

func (k Kind) String() string {
	if k == Retryable {
		return "retryable"
	}
	return "non_retryable"
}

// Error is the typed failure returned by every Client implementation.
type Error struct {
	Op         string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == Retryable
}

// IsAuth reports whether the service rejected the credentials.
func IsAuth(err error) bool {
	var re *Error
	return errors.As(err, &re) && (re.StatusCode == http.StatusUnauthorized || re.StatusCode == http.StatusForbidden)
}

// classifyStatus maps an HTTP status to a Kind.
func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return Retryable
	default:
		return NonRetryable
	}
}

// classifyTransport maps a transport-level error to a Kind. Cancellation by
// the caller is final; any other wire failure is worth another try.
func classifyTransport(err error) Kind {
	if errors.Is(err, context.Canceled) {
		return NonRetryable
	}
	return Retryable
}
