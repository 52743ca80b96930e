package store

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrUnavailable is returned while the circuit breaker refuses
	// persistence operations.
	ErrUnavailable = errors.New("store unavailable")

	// ErrReadOnly is returned for writes while the database is in
	// read-only degradation.
	ErrReadOnly = errors.New("store is read-only")

	// ErrNoAuthToken is returned when no auth token row exists.
	ErrNoAuthToken = errors.New("no auth token stored")
)

// readOnlyIndicators mark failures where reads keep working but writes
// cannot succeed until the underlying condition clears.
var readOnlyIndicators = []string{
	"read-only",
	"readonly",
	"read only",
	"database is locked",
	"disk full",
}

// IsReadOnlyError reports whether err indicates read-only degradation
// rather than a full outage.
func IsReadOnlyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, ind := range readOnlyIndicators {
		if strings.Contains(msg, ind) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether an operation may succeed on retry.
// Validation errors, cancellations and read-only degradation are not
// retryable; connection-level failures are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrReadOnly) {
		return false
	}
	if IsReadOnlyError(err) {
		return false
	}
	return true
}

// OpError wraps a driver failure with the operation that produced it.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}
