package conn

import "context"

// Collaborator is the parent client's half of the contract: API-specific
// authentication, subscribe/unsubscribe request construction, frame
// matching, and frame transformation. The core never constructs wire
// payloads itself; it only calls out to these hooks.
type Collaborator interface {
	// Authenticate runs the venue's authentication routine against an
	// already-open connection, used only when the connection had previously
	// authenticated and is now reconnecting.
	Authenticate(ctx context.Context, c *Connection) (bool, error)

	// SubscribeAndWait sends sub's subscribe request and waits for
	// confirmation. The core calls it only when replaying request-bound
	// subscriptions after an outage; a true result with a nil error marks
	// sub confirmed.
	SubscribeAndWait(ctx context.Context, c *Connection, sub *Subscription) (bool, error)

	// Unsubscribe sends sub's unsubscribe request, best-effort.
	Unsubscribe(ctx context.Context, c *Connection, sub *Subscription) error

	// Matches reports whether frame belongs to target, which is either a
	// Subscription.Identifier (string) or a Subscription.Request (the
	// opaque object supplied when the subscription was created).
	Matches(c *Connection, frame Frame, target any) bool

	// Transform post-processes a frame matched against a request-bound
	// subscription before its handler runs.
	Transform(frame Frame) Frame
}

// NoopCollaborator is a Collaborator that always succeeds and never matches
// anything. It is a safe default for connections whose caller drives
// dispatch purely through identifier-based subscriptions matched elsewhere,
// or for tests exercising the reconnect state machine in isolation.
type NoopCollaborator struct{}

func (NoopCollaborator) Authenticate(context.Context, *Connection) (bool, error) { return true, nil }

func (NoopCollaborator) SubscribeAndWait(context.Context, *Connection, *Subscription) (bool, error) {
	return true, nil
}

func (NoopCollaborator) Unsubscribe(context.Context, *Connection, *Subscription) error { return nil }

func (NoopCollaborator) Matches(*Connection, Frame, any) bool { return false }

func (NoopCollaborator) Transform(frame Frame) Frame { return frame }
