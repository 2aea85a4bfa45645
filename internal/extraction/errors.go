package extraction

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"google.golang.org/api/googleapi"
)

// FailureKind classifies an extraction failure for retry purposes.
type FailureKind int

const (
	// Transient failures (network errors, rate limits, timeouts, 5xx) are
	// expected to resolve on their own and are eligible for retry.
	Transient FailureKind = iota
	// Permanent failures (rejected input, unsupported format, auth failure)
	// will not improve on retry.
	Permanent
)

func (k FailureKind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

// Error is an extraction failure tagged with its retry classification.
type Error struct {
	Kind FailureKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// transientf builds a transient Error wrapping err (err may be nil).
func transientf(err error, format string, args ...any) *Error {
	return &Error{Kind: Transient, Msg: fmt.Sprintf(format, args...), Err: err}
}

// permanentf builds a permanent Error wrapping err (err may be nil).
func permanentf(err error, format string, args ...any) *Error {
	return &Error{Kind: Permanent, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsTransient reports whether err is an extraction failure worth retrying.
// Unclassified errors are treated as transient so a flaky provider never
// turns into a permanent receipt failure on the first hiccup.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == Transient
	}
	return true
}

// classify wraps a raw provider error in a tagged Error. Timeouts, network
// errors, rate limits, and 5xx responses are transient; everything the
// service rejects outright (bad request, auth) is permanent.
func classify(err error, msg string) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return transientf(err, "%s: timed out", msg)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == 429 || gerr.Code >= 500 {
			return transientf(err, "%s: service unavailable (status %d)", msg, gerr.Code)
		}
		return permanentf(err, "%s: rejected by service (status %d)", msg, gerr.Code)
	}

	var uerr *url.Error
	if errors.As(err, &uerr) {
		return transientf(err, "%s: network error", msg)
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return transientf(err, "%s: network error", msg)
	}

	return transientf(err, "%s", msg)
}
