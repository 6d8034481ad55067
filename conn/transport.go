package conn

import "context"

// Transport is the abstract duplex channel the core programs against. The
// module ships a default implementation, transport/wstransport.Conn, but
// callers may supply any implementation satisfying this contract — the core
// never imports a concrete transport.
type Transport interface {
	// Connect establishes a session. success is false (with a nil error) for
	// a clean refusal, or a non-nil error for an exceptional failure; the
	// reconnect loop treats both as a failed attempt.
	Connect(ctx context.Context) (success bool, err error)

	// Close tears down the current session. It is idempotent: calling it
	// again on an already-closed session is a no-op and must not re-invoke
	// OnClose's callback.
	Close(ctx context.Context) error

	// Reset discards internal session state so Connect may be retried.
	Reset()

	// Send is non-blocking and best-effort; data that cannot be delivered
	// is dropped and logged by the implementation.
	Send(data string)

	// Dispose releases all resources. The transport is not reused after
	// Dispose.
	Dispose()

	// IsOpen reports whether the current session is live.
	IsOpen() bool

	// IsReconnecting and SetReconnecting guard the single-reconnect-loop
	// invariant; the core treats this flag as owned by the transport.
	IsReconnecting() bool
	SetReconnecting(bool)

	// OnOpen, OnMessage, OnClose and OnError register the core's callbacks.
	// Each setter replaces any previously registered callback and is called
	// exactly once, during construction of the owning Connection.
	OnOpen(func())
	OnMessage(func(string))
	OnClose(func())
	OnError(func(error))
}
