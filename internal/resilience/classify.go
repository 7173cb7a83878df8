// Package resilience protects upstream calls with classified retry and
// circuit breaking.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sony/gobreaker"
)

// Class tells Retry whether a failure is worth another attempt.
type Class int

const (
	Transient Class = iota
	Permanent
)

func (c Class) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// Classifier maps an error to its retry class.
type Classifier func(err error) Class

// StatusError is an upstream HTTP failure.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}

// ValidationError marks a request the upstream will never accept.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// AuthError marks missing or rejected credentials.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return "auth: " + e.Msg }

// Classify is the default Classifier.
//
// 429 and 5xx responses, network failures and truncated reads are transient.
// Other 4xx responses, validation and auth failures, cancellation and an open
// circuit are permanent. Anything unrecognised is treated as transient.
func Classify(err error) Class {
	if err == nil {
		return Transient
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Permanent
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Permanent
	}

	var validationErr *ValidationError
	var authErr *AuthError
	if errors.As(err, &validationErr) || errors.As(err, &authErr) {
		return Permanent
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}

	return Transient
}

func classifyStatus(code int) Class {
	switch {
	case code == http.StatusTooManyRequests:
		return Transient
	case code >= 500:
		return Transient
	case code >= 400:
		return Permanent
	default:
		return Transient
	}
}
