package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// ErrCircuitOpen is wrapped by a TransportError when the breaker for the
// upstream host rejects the request without dialing.
var ErrCircuitOpen = errors.New("upstream circuit breaker open")

// TransportKind classifies why an upstream request failed to produce a response.
type TransportKind string

const (
	KindConnectRefused TransportKind = "connect_refused"
	KindTimeout        TransportKind = "timeout"
	KindTLS            TransportKind = "tls"
	KindOther          TransportKind = "other"
)

// TransportError reports an upstream that could not be reached or did not
// answer in time. It is never converted into a synthetic response here.
type TransportError struct {
	Kind TransportKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream transport (%s): %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// timeoutError replaces the cancellation error of a request cut off by its
// per-request timeout, so it classifies as a timeout and not as a client
// disconnect.
type timeoutError struct {
	after time.Duration
	err   error
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("no response within %s: %v", e.after, e.err)
}

func (e *timeoutError) Unwrap() error { return context.DeadlineExceeded }

func (e *timeoutError) Timeout() bool { return true }

// classify maps a transport failure to its TransportKind.
func classify(err error) TransportKind {
	if isTLSError(err) {
		return KindTLS
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectRefused
	}
	return KindOther
}

func isTLSError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
		recordHeader tls.RecordHeaderError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &recordHeader)
}
