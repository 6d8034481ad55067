package conn

import "time"

// Options configures a Connection's reconnect policy and dispatch behaviour.
// The zero value is not directly usable; start from DefaultOptions.
type Options struct {
	// SocketNoDataTimeout is the idle timeout a Transport is expected to
	// enforce; the core passes it through at construction time.
	SocketNoDataTimeout time.Duration

	// AutoReconnect enables the reconnect path on transport close.
	AutoReconnect bool

	// ReconnectInterval is the fixed delay between reconnect attempts.
	ReconnectInterval time.Duration

	// MaxReconnectTries caps failed connect() attempts per outage. Nil means
	// unlimited.
	MaxReconnectTries *int

	// MaxResubscribeTries caps failed resubscribe rounds per outage. Nil
	// means unlimited.
	MaxResubscribeTries *int

	// MaxConcurrentResubscriptions bounds how many subscribe_and_wait calls
	// run in parallel during process-reconnect.
	MaxConcurrentResubscriptions int

	// OutputOriginalData retains the raw frame string on delivered frames.
	OutputOriginalData bool

	// ContinueOnQueryResponse allows a frame that satisfied a pending
	// request to also be dispatched to matching subscriptions.
	ContinueOnQueryResponse bool

	// UnhandledMessageExpected suppresses the warning log (but not the
	// unhandled-message event) for frames matching nothing.
	UnhandledMessageExpected bool
}

// DefaultOptions returns an Options value with conservative, always-valid
// defaults.
func DefaultOptions() Options {
	return Options{
		SocketNoDataTimeout:          30 * time.Second,
		AutoReconnect:                true,
		ReconnectInterval:            2 * time.Second,
		MaxReconnectTries:            nil,
		MaxResubscribeTries:          nil,
		MaxConcurrentResubscriptions: 4,
		OutputOriginalData:           false,
		ContinueOnQueryResponse:      false,
		UnhandledMessageExpected:     false,
	}
}

// Normalized returns a copy of o with invalid zero-valued fields replaced:
// ReconnectInterval and SocketNoDataTimeout take their DefaultOptions values,
// and MaxConcurrentResubscriptions becomes 1.
func (o Options) Normalized() Options {
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = DefaultOptions().ReconnectInterval
	}
	if o.MaxConcurrentResubscriptions <= 0 {
		o.MaxConcurrentResubscriptions = 1
	}
	if o.SocketNoDataTimeout <= 0 {
		o.SocketNoDataTimeout = DefaultOptions().SocketNoDataTimeout
	}
	return o
}
