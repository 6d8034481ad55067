// Package errs provides structured error types and helpers for wsmux.
package errs

import (
	"sort"
	"strconv"
	"strings"
)

// Code identifies a connection-manager error category.
type Code string

const (
	// CodeTimeout indicates a pending request or wait exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeAuth indicates a reconnect authentication routine failed.
	CodeAuth Code = "auth"
	// CodeInvalid indicates invalid input supplied by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeTransport indicates a transport-level failure (dial, write, close).
	CodeTransport Code = "transport"
	// CodeNetwork indicates a network failure distinct from a local misuse.
	CodeNetwork Code = "network"
	// CodeNotFound indicates a missing subscription or pending entry.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates the connection is closed or saturated.
	CodeUnavailable Code = "unavailable"
)

// CanonicalCode captures endpoint-agnostic failure categories.
type CanonicalCode string

const (
	// CanonicalUnknown captures uncategorized failures.
	CanonicalUnknown CanonicalCode = "unknown"
	// CanonicalPendingTimeout indicates a send-and-wait call exceeded its deadline with no match.
	CanonicalPendingTimeout CanonicalCode = "pending_timeout"
	// CanonicalDispatchUnhandled indicates an inbound frame matched neither a pending request nor a subscription.
	CanonicalDispatchUnhandled CanonicalCode = "dispatch_unhandled"
	// CanonicalTransportClosed indicates the operation could not proceed because the transport was closed.
	CanonicalTransportClosed CanonicalCode = "transport_closed"
	// CanonicalRetryExhausted indicates the reconnect or resubscribe retry budget was exhausted.
	CanonicalRetryExhausted CanonicalCode = "retry_exhausted"
	// CanonicalResubscribeRejected indicates a single subscription within a resubscribe batch was rejected or panicked.
	CanonicalResubscribeRejected CanonicalCode = "resubscribe_rejected"
)

// E captures structured error information produced across the wsmux stack.
type E struct {
	Endpoint      string
	Code          Code
	RawCode       string
	RawMsg        string
	Message       string
	Canonical     CanonicalCode
	VenueMetadata map[string]string
	Remediation   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the endpoint and error code.
func New(endpoint string, code Code, opts ...Option) *E {
	e := &E{
		Endpoint:      strings.TrimSpace(endpoint),
		Code:          code,
		RawCode:       "",
		RawMsg:        "",
		Message:       "",
		Canonical:     CanonicalUnknown,
		VenueMetadata: nil,
		Remediation:   "",
		cause:         nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRemediation attaches remediation guidance to the error.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) {
		e.Remediation = trimmed
	}
}

// WithRawCode captures the raw remote error code, when the frame carried one.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw remote error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithCanonicalCode sets the canonical error code describing the failure category.
func WithCanonicalCode(code CanonicalCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = CanonicalCode(trimmed)
	}
}

// WithVenueMetadata merges the provided metadata into the error envelope.
func WithVenueMetadata(meta map[string]string) Option {
	return func(e *E) {
		if len(meta) == 0 {
			return
		}
		if e.VenueMetadata == nil {
			e.VenueMetadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			value := strings.TrimSpace(v)
			e.VenueMetadata[key] = value
		}
	}
}

// WithVenueField appends a single metadata key/value pair.
func WithVenueField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.VenueMetadata == nil {
			e.VenueMetadata = make(map[string]string, 1)
		}
		e.VenueMetadata[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	endpoint := strings.TrimSpace(e.Endpoint)
	if endpoint == "" {
		endpoint = "unknown"
	}
	parts = append(parts, "endpoint="+endpoint)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Remediation != "" {
		parts = append(parts, "remediation="+strconv.Quote(e.Remediation))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if len(e.VenueMetadata) > 0 {
		keys := make([]string, 0, len(e.VenueMetadata))
		for k := range e.VenueMetadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			v := e.VenueMetadata[k]
			pairs = append(pairs, k+"="+strconv.Quote(v))
		}
		parts = append(parts, "venue="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Timeout returns a standardized pending-request timeout error.
func Timeout(endpoint, msg string) *E {
	return New(endpoint, CodeTimeout, WithMessage(strings.TrimSpace(msg)), WithCanonicalCode(CanonicalPendingTimeout))
}

// Unavailable returns a standardized error for operations attempted on a closed connection.
func Unavailable(endpoint, msg string) *E {
	return New(endpoint, CodeUnavailable, WithMessage(strings.TrimSpace(msg)), WithCanonicalCode(CanonicalTransportClosed))
}
