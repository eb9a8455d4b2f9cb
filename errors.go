package primp

import (
	"errors"
	"fmt"
)

// Error message constants shared across the package.
const (
	ErrFailedToComposeRequest = "failed to compose request"
	ErrFailedToReadResponse   = "failed to read response body"
)

// ConfigError reports a configuration value that failed syntactic validation.
// It is always raised before any network I/O takes place.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s=%q: %s", e.Field, e.Value, e.Reason)
}

// TransportErrorKind sub-classifies transport failures.
type TransportErrorKind string

const (
	// KindTimeout marks a request that exceeded its deadline.
	KindTimeout TransportErrorKind = "timeout"
	// KindTLS marks a TLS handshake or certificate verification failure.
	KindTLS TransportErrorKind = "tls"
	// KindConnection marks connection establishment or reset failures.
	KindConnection TransportErrorKind = "connection"
	// KindProxy marks failures negotiating with the configured proxy.
	KindProxy TransportErrorKind = "proxy"
	// KindIncomplete marks a response body that was cut off mid-stream.
	// Truncated bodies are reported as errors, never as successes.
	KindIncomplete TransportErrorKind = "incomplete"
)

// TransportError wraps a network, TLS or timeout failure surfaced by the
// transport. It is returned verbatim to the caller; the client performs no
// internal retries.
type TransportError struct {
	Kind TransportErrorKind
	URL  string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (%s): %s: %s", e.Kind, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the error was caused by a deadline.
func (e *TransportError) Timeout() bool { return e.Kind == KindTimeout }

// EncodingError reports a request body or header that could not be
// serialized to a valid wire form.
type EncodingError struct {
	What string
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding error: %s: %s", e.What, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsTransportError returns the wrapped TransportError, if any.
func IsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	ok := errors.As(err, &te)
	return te, ok
}
