package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrUnknownProvider   = errors.New("unknown_provider")
	ErrProviderTimeout   = errors.New("provider_timeout")
	ErrProviderAuth      = errors.New("provider_auth_rejected")
	ErrRefundUnsupported = errors.New("refund_unsupported")
)

// Error is a provider-side failure with a retryability verdict attached.
// Retryable failures (timeouts, 5xx, throttling) may be rescheduled;
// terminal ones must not be.
type Error struct {
	Provider   string
	Code       string
	Message    string
	HTTPStatus int
	Retryable  bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
}

// Retryable reports whether err represents a failure worth retrying.
// Unknown errors are treated as terminal.
func Retryable(err error) bool {
	if errors.Is(err, ErrProviderTimeout) {
		return true
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// ClassifyHTTP maps an unexpected provider HTTP status into an Error.
func ClassifyHTTP(provider string, status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrProviderAuth
	case status == http.StatusTooManyRequests:
		return &Error{Provider: provider, Code: "throttled", Message: body, HTTPStatus: status, Retryable: true}
	case status >= 500:
		return &Error{Provider: provider, Code: "provider_unavailable", Message: body, HTTPStatus: status, Retryable: true}
	default:
		return &Error{Provider: provider, Code: "provider_rejected", Message: body, HTTPStatus: status, Retryable: false}
	}
}

// ClassifyTransport converts transport failures into ErrProviderTimeout
// when nothing is known about whether the provider acted on the request.
func ClassifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrProviderTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrProviderTimeout
	}
	return ErrProviderTimeout
}
