package sourcing

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/cockroachdb/errors"
)

// Error classes shared by every pipeline stage. Check them with errors.Is.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrTransient         = errors.New("transient failure")
	ErrPermanent         = errors.New("permanent failure")
	ErrRateLimiterBreach = errors.New("rate limiter breach")
	ErrPersistence       = errors.New("persistence failure")
	ErrNotFound          = errors.New("not found")
	ErrInterrupted       = errors.New("interrupted")
)

// ConnectorErrorKind classifies source connector failures.
type ConnectorErrorKind string

// Connector error kinds.
const (
	KindTimeout     ConnectorErrorKind = "timeout"
	KindNotFound    ConnectorErrorKind = "not_found"
	KindRateLimited ConnectorErrorKind = "rate_limited"
	KindInvalid     ConnectorErrorKind = "invalid"
	KindUnknown     ConnectorErrorKind = "unknown"
)

// ConnectorError is returned by source connectors.
type ConnectorError struct {
	Source     Source
	Kind       ConnectorErrorKind
	StatusCode int
	Err        error
}

// NewConnectorError wraps err with a kind.
func NewConnectorError(source Source, kind ConnectorErrorKind, status int, err error) *ConnectorError {
	return &ConnectorError{Source: source, Kind: kind, StatusCode: status, Err: err}
}

// ConnectorErrorFromStatus builds an error for an unexpected HTTP status.
func ConnectorErrorFromStatus(source Source, status int) *ConnectorError {
	return NewConnectorError(
		source,
		ConnectorKindFromStatus(status),
		status,
		fmt.Errorf("unexpected status %d %s", status, http.StatusText(status)),
	)
}

func (e *ConnectorError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Source, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the cause.
func (e *ConnectorError) Unwrap() error { return e.Err }

// Transient reports whether a retry may succeed. A 4xx status other than 429
// is permanent whatever its kind, so a 408 keeps KindTimeout but is not retried.
func (e *ConnectorError) Transient() bool {
	if clientStatus(e.StatusCode) {
		return false
	}
	switch e.Kind {
	case KindTimeout, KindRateLimited:
		return true
	case KindNotFound, KindInvalid:
		return false
	default:
		if e.StatusCode != 0 {
			return transientStatus(e.StatusCode)
		}
		return transientCause(e.Err)
	}
}

// Is lets errors.Is match ErrTransient and ErrPermanent.
func (e *ConnectorError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Transient()
	case ErrPermanent:
		return !e.Transient()
	}
	return false
}

// ConnectorKindFromStatus maps an HTTP status to a connector error kind.
func ConnectorKindFromStatus(status int) ConnectorErrorKind {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 400 && status < 500:
		return KindInvalid
	default:
		return KindUnknown
	}
}

// EnricherErrorKind classifies contact enricher failures.
type EnricherErrorKind string

// Enricher error kinds.
const (
	EnricherRateLimited EnricherErrorKind = "rate_limited"
	EnricherAuthInvalid EnricherErrorKind = "auth_invalid"
	EnricherServiceDown EnricherErrorKind = "service_down"
	EnricherUnknown     EnricherErrorKind = "unknown"
)

// EnricherError is returned by contact enrichers.
type EnricherError struct {
	Kind       EnricherErrorKind
	StatusCode int
	Err        error
}

// NewEnricherError wraps err with a kind.
func NewEnricherError(kind EnricherErrorKind, status int, err error) *EnricherError {
	return &EnricherError{Kind: kind, StatusCode: status, Err: err}
}

// EnricherKindFromStatus maps an HTTP status to an enricher error kind.
func EnricherKindFromStatus(status int) EnricherErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusPaymentRequired:
		return EnricherAuthInvalid
	case status == http.StatusTooManyRequests:
		return EnricherRateLimited
	case status >= 500:
		return EnricherServiceDown
	default:
		return EnricherUnknown
	}
}

func (e *EnricherError) Error() string {
	msg := "enricher: " + string(e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the cause.
func (e *EnricherError) Unwrap() error { return e.Err }

// Transient reports whether a retry may succeed.
func (e *EnricherError) Transient() bool {
	if clientStatus(e.StatusCode) {
		return false
	}
	switch e.Kind {
	case EnricherRateLimited, EnricherServiceDown:
		return true
	case EnricherAuthInvalid:
		return false
	default:
		if e.StatusCode != 0 {
			return transientStatus(e.StatusCode)
		}
		return transientCause(e.Err)
	}
}

// Is lets errors.Is match ErrTransient and ErrPermanent.
func (e *EnricherError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Transient()
	case ErrPermanent:
		return !e.Transient()
	}
	return false
}

// IsRetryable reports whether err is a transient condition: a timeout, a reset
// connection, HTTP 5xx or 429. Invalid input, limiter breaches, cancellation
// and other 4xx responses are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrRateLimiterBreach) ||
		errors.Is(err, ErrPersistence) {
		return false
	}
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return ce.Transient()
	}
	var ee *EnricherError
	if errors.As(err, &ee) {
		return ee.Transient()
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	return transientCause(err)
}

// KindOf returns the connector error kind carried by err, or KindUnknown.
func KindOf(err error) ConnectorErrorKind {
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnknown
}

// clientStatus reports a 4xx status other than 429.
func clientStatus(status int) bool {
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

func transientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func transientCause(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// AsConnectorError converts any fetch failure into a *ConnectorError for
// source. Existing connector errors pass through; a non-zero status wins over
// the cause; timeouts map to KindTimeout.
func AsConnectorError(source Source, status int, err error) *ConnectorError {
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return ce
	}
	if status >= 400 {
		out := ConnectorErrorFromStatus(source, status)
		if err != nil {
			out.Err = err
		}
		return out
	}
	return NewConnectorError(source, KindOf(err), status, err)
}
