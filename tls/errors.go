package tls

import (
	"errors"
	"fmt"
)

type TimeoutError struct {
	Authority string
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out for %s", e.Authority)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

type NoCertificateError struct {
	Authority string
}

func (e *NoCertificateError) Error() string {
	return fmt.Sprintf("no server certificate found for %s", e.Authority)
}

// RequestFailedError reports a non-2xx response. Result carries the
// certificate captured during the handshake, if any.
type RequestFailedError struct {
	Authority  string
	StatusCode int
	Result     *Result
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("failed to retrieve the web page %s, status code: %d", e.Authority, e.StatusCode)
}

type TransportError struct {
	Authority string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed: %s", e.Authority, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Kind classifies a Fetch error. Unknown errors are reported as transport errors.
func Kind(err error) string {
	var (
		timeout       *TimeoutError
		noCertificate *NoCertificateError
		requestFailed *RequestFailedError
	)

	switch {
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &noCertificate):
		return "no_certificate"
	case errors.As(err, &requestFailed):
		return "request_failed"
	default:
		return "transport"
	}
}
