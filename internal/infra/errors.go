package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// ErrCircuitOpen is matched by every CircuitOpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned without invoking the wrapped operation while a
// breaker is open, or while its half-open trial call is still in flight.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.Name == "" {
		return ErrCircuitOpen.Error()
	}
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

// Is reports ErrCircuitOpen as a match.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// TimeoutError is returned when an operation does not finish before its deadline.
// The operation itself keeps running in the background.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("operation timed out after %s", e.After)
	}
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// Timeout satisfies net.Error-style timeout checks.
func (e *TimeoutError) Timeout() bool { return true }

// TransientError wraps an error and marks it as eligible for retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// AsTransient wraps an error to indicate it should be retried.
func AsTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError wraps an error and indicates it should NOT be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// AsPermanent wraps an error to indicate it should NOT be retried.
func AsPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error was marked as permanent (non-retryable).
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// IsTransient reports whether err belongs to a retryable category: timeouts,
// connection resets, refused connections, DNS failures, or an explicit
// TransientError. Permanent, cancellation and circuit-open errors never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) || errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// Classify returns a short label for metrics and logs.
func Classify(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case IsTimeout(err):
		return "timeout"
	case IsTransient(err):
		return "transient"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "permanent"
	}
}

// IsTimeout reports whether err is a deadline or timeout failure.
func IsTimeout(err error) bool {
	var timeout *TimeoutError
	if errors.As(err, &timeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
