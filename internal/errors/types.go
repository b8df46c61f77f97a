package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError marks a failure of an outbound call that may succeed when
// retried.
type TransientError struct {
	Err        error
	StatusCode int    // upstream HTTP status, 0 when not from a response
	Message    string // operator-facing text, replaces Err in Error()
}

func (e *TransientError) Error() string { return describe("transient", e.Message, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix, such as a
// rejected credential or a malformed request.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string { return describe("permanent", e.Message, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// DegradedError reports a collaborator that is deliberately not being
// called, e.g. behind an open circuit breaker.
type DegradedError struct {
	Err     error
	Message string
}

func (e *DegradedError) Error() string { return describe("degraded", e.Message, e.Err) }
func (e *DegradedError) Unwrap() error { return e.Err }

func describe(class, message string, err error) string {
	if message != "" {
		return message
	}
	return fmt.Sprintf("%s error: %v", class, err)
}

func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

func NewDegradedError(err error, message string) *DegradedError {
	return &DegradedError{Err: err, Message: message}
}

// FromHTTPStatus classifies a non-2xx response from an external collaborator.
// Rate limiting and 5xx gateway failures are transient.
func FromHTTPStatus(statusCode int, body string) error {
	err := fmt.Errorf("status %d: %s", statusCode, strings.TrimSpace(body))
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &TransientError{Err: err, StatusCode: statusCode}
	default:
		return &PermanentError{Err: err, StatusCode: statusCode}
	}
}

// IsTransient reports whether err is marked transient or is a network
// failure. An explicit PermanentError wins over an inner network error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	return isNetworkFailure(err)
}

// IsPermanent reports whether err is neither transient nor degraded.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return true
	}
	return !IsTransient(err) && !IsDegraded(err)
}

func IsDegraded(err error) bool {
	var degraded *DegradedError
	return errors.As(err, &degraded)
}

var (
	transientErrnos = []syscall.Errno{
		syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
		syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH,
	}
	transientMessages = []string{"connection refused", "connection reset", "broken pipe", "i/o timeout"}
)

func isNetworkFailure(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientMessages {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
