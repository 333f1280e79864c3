package modeladapter

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/germanamz/promptlab/pkg/apperr"
)

// FailureKind tags the cause of a failed call.
type FailureKind string

const (
	FailureConnection      FailureKind = "connection"
	FailureTimeout         FailureKind = "timeout"
	FailureHTTPStatus      FailureKind = "http_status"
	FailureInvalidResponse FailureKind = "invalid_response"
	FailureRequest         FailureKind = "request"
	FailureUnknown         FailureKind = "unknown"
)

// Retryable reports whether a call that failed with this kind may succeed
// when repeated unchanged.
func (k FailureKind) Retryable() bool {
	return k == FailureConnection || k == FailureTimeout
}

// Classify maps an error from the HTTP path onto a FailureKind.
func Classify(err error) FailureKind {
	if err == nil {
		return ""
	}

	var se *StatusError
	if errors.As(err, &se) {
		return FailureHTTPStatus
	}
	if errors.Is(err, ErrInvalidResponse) {
		return FailureInvalidResponse
	}
	if errors.Is(err, ErrInvalidRequest) || apperr.IsValidation(err) || apperr.IsConfiguration(err) {
		return FailureRequest
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}

	if isConnectionError(err) {
		return FailureConnection
	}

	return FailureUnknown
}

func isConnectionError(err error) bool {
	var (
		opErr   *net.OpError
		dnsErr  *net.DNSError
		tlsErr  tls.RecordHeaderError
		verErr  *tls.CertificateVerificationError
		certErr x509.UnknownAuthorityError
		hostErr x509.HostnameError
		urlErr  *url.Error
	)

	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return true
	case errors.As(err, &tlsErr), errors.As(err, &verErr), errors.As(err, &certErr), errors.As(err, &hostErr):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.As(err, &urlErr):
		return !errors.Is(err, context.Canceled)
	}

	return false
}

// Describe classifies err and renders the human-readable error string stored
// in a failed response. timeout is quoted in timeout messages.
func Describe(err error, timeout time.Duration) (FailureKind, string) {
	kind := Classify(err)

	switch kind {
	case FailureConnection:
		return kind, fmt.Sprintf("connection failed: %v", err)
	case FailureTimeout:
		return kind, fmt.Sprintf("request timed out after %s: %v", timeout, err)
	case FailureHTTPStatus:
		var se *StatusError
		errors.As(err, &se)
		if se.Body == "" {
			return kind, fmt.Sprintf("HTTP %d", se.StatusCode)
		}
		return kind, fmt.Sprintf("HTTP %d: %s", se.StatusCode, se.Body)
	case FailureInvalidResponse:
		return kind, fmt.Sprintf("malformed response: %v", err)
	case FailureRequest:
		return kind, fmt.Sprintf("request error: %v", err)
	}

	return FailureUnknown, fmt.Sprintf("unknown error: %v", err)
}
