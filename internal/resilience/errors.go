package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// Class is the retry classification of an error.
type Class int

const (
	// Fatal errors short-circuit the retry loop after one attempt.
	Fatal Class = iota
	// Retryable errors consume one retry.
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

// ErrRetryExhausted matches every *ExhaustedError via errors.Is.
var ErrRetryExhausted = eris.New("retry attempts exhausted")

// ExhaustedError is returned when all attempts failed with retryable errors.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry attempts exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrRetryExhausted) match.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// FatalError wraps an error that must not be retried (auth rejection,
// not-found, access denied).
type FatalError struct {
	Err        error
	StatusCode int
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps an error as fatal with an optional HTTP status code.
func NewFatalError(err error, statusCode int) *FatalError {
	return &FatalError{Err: err, StatusCode: statusCode}
}

// Classify returns the retry class of err. Explicit markers win, then
// network-level heuristics. Anything unrecognized is Fatal.
func Classify(err error) Class {
	if IsTransient(err) {
		return Retryable
	}
	return Fatal
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures). A FatalError anywhere in the
// chain always wins.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var fe *FatalError
	if errors.As(err, &fe) {
		return false
	}

	// Cancellation belongs to the caller, not to the upstream.
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Check for explicit TransientError in chain.
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// Check for network-level transient errors.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection reset / refused / DNS.
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue or rate limiting that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		425, // Too Early
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
