package translate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// ErrEmptyTranslation is returned when the backend answers with no text.
var ErrEmptyTranslation = errors.New("empty translation")

// BackendError is a failed backend call.
type BackendError struct {
	// StatusCode is the HTTP status when the backend reported one.
	StatusCode int
	Message    string
	Err        error
}

func (e *BackendError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() error { return e.Err }

// Retryable reports whether the call may succeed when repeated. Rate limits,
// server errors and transport failures are retryable; rejected requests are not.
func (e *BackendError) Retryable() bool {
	switch {
	case e.StatusCode == 429 || e.StatusCode == 408 || e.StatusCode >= 500:
		return true
	case e.StatusCode >= 400:
		return false
	}
	return true
}

// MismatchError reports a batch response with the wrong number of parts.
type MismatchError struct {
	Want, Got int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("batch response has %d parts, want %d", e.Got, e.Want)
}

var statusCode = regexp.MustCompile(`status code: (\d{3})`)

// classify turns an error from the chat client into a BackendError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	out := &BackendError{Message: "chat completion failed", Err: err}
	if m := statusCode.FindStringSubmatch(err.Error()); m != nil {
		out.StatusCode, _ = strconv.Atoi(m[1])
	}
	return out
}

// retryable decides whether a failed batch is attempted again.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// per-call timeouts; a cancelled parent stops the retry loop itself
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Retryable()
	}
	var mm *MismatchError
	if errors.As(err, &mm) {
		return false
	}
	if errors.Is(err, ErrEmptyTranslation) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "connection") || strings.Contains(s, "timeout") || strings.Contains(s, "EOF")
}
