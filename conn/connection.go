// Package conn implements a resilient multiplexed websocket connection
// manager: a single logical duplex connection that fans inbound frames to a
// dynamic set of subscriptions, correlates request/response pairs over the
// same channel, and transparently reconnects, re-authenticates and
// re-subscribes across transport failures.
package conn

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wsmux/wsmux/errs"
	"github.com/wsmux/wsmux/internal/observability"
)

// Config wires a Connection's collaborators and policy at construction.
type Config struct {
	// ID identifies the connection, e.g. for logging and parent-map lookup.
	// A random id is generated if empty.
	ID string
	// Tag is an opaque caller label carried alongside the connection.
	Tag string

	Transport    Transport // required
	Codec        Codec     // defaults to JSONCodec{}
	Collaborator Collaborator
	Options      Options
	Metrics      Metrics

	// OnRemove is invoked exactly once, on terminal close, so the caller can
	// drop this connection from its transport_id -> connection map.
	OnRemove func()
}

// Connection is the public facade: a single logical duplex connection with
// its owned transport, subscription list, and pending-request list.
type Connection struct {
	id  string
	tag string

	transport Transport
	codec     Codec
	collab    Collaborator
	opts      Options
	metrics   Metrics
	onRemove  func()

	subs    *subscriptionRegistry
	pending *pendingRegistry
	events  *emitter

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu              sync.Mutex
	authenticated   bool
	connected       bool
	shouldReconnect bool
	pausedActivity  bool
	disconnectTime  time.Time
	reconnectTry    int
	resubscribeTry  int
	lostTriggered   bool

	closeOnce sync.Once
	closed    bool
}

// New constructs a Connection wired to cfg.Transport's callbacks. It does
// not dial; call Connect to establish the initial session.
func New(cfg Config) (*Connection, error) {
	if cfg.Transport == nil {
		return nil, errs.New(cfg.ID, errs.CodeInvalid, errs.WithMessage("transport is required"))
	}
	codec := cfg.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	collab := cfg.Collaborator
	if collab == nil {
		collab = NoopCollaborator{}
	}
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:              id,
		tag:             cfg.Tag,
		transport:       cfg.Transport,
		codec:           codec,
		collab:          collab,
		opts:            cfg.Options.Normalized(),
		metrics:         cfg.Metrics,
		onRemove:        cfg.OnRemove,
		subs:            newSubscriptionRegistry(),
		pending:         &pendingRegistry{},
		events:          newEmitter(),
		rootCtx:         rootCtx,
		rootCancel:      cancel,
		shouldReconnect: true,
	}

	cfg.Transport.OnOpen(c.handleOpen)
	cfg.Transport.OnMessage(c.handleMessage)
	cfg.Transport.OnClose(c.handleClose)
	cfg.Transport.OnError(c.handleError)

	return c, nil
}

// ID returns the connection's identifier.
func (c *Connection) ID() string { return c.id }

// Tag returns the caller-supplied label.
func (c *Connection) Tag() string { return c.tag }

// Connect performs the initial dial. Subsequent reconnects are owned by the
// state machine and are not driven through this method.
func (c *Connection) Connect(ctx context.Context) error {
	ok, err := c.transport.Connect(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(c.id, errs.CodeTransport, errs.WithMessage("initial connect failed"))
	}
	return nil
}

// SetAuthenticated records whether this connection has completed an
// application-level authentication handshake; the reconnect loop consults
// this to decide whether to re-authenticate after an outage.
func (c *Connection) SetAuthenticated(v bool) {
	c.mu.Lock()
	c.authenticated = v
	c.mu.Unlock()
}

// IsConnected reports whether the transport is currently open.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetPausedActivity records the remote-declared data-suspension state. The
// setter is idempotent on equal values; a genuine change raises the paired
// event.
func (c *Connection) SetPausedActivity(paused bool) {
	c.mu.Lock()
	changed := c.pausedActivity != paused
	c.pausedActivity = paused
	c.mu.Unlock()
	if !changed {
		return
	}
	observability.Log().Info("connection activity-paused state changed",
		observability.Field{Key: "connection", Value: c.id},
		observability.Field{Key: "paused", Value: paused},
	)
	if paused {
		c.events.emit(Event{Kind: EventActivityPaused})
	} else {
		c.events.emit(Event{Kind: EventActivityUnpaused})
	}
}

// PausedActivity reports the current paused-activity flag.
func (c *Connection) PausedActivity() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pausedActivity
}

// AddSubscription appends sub to the subscription list under lock.
func (c *Connection) AddSubscription(sub *Subscription) error {
	return c.subs.add(sub)
}

// GetSubscription looks up a subscription by id.
func (c *Connection) GetSubscription(id string) (*Subscription, bool) {
	return c.subs.getByID(id)
}

// GetSubscriptionByRequest looks up the first subscription whose Request
// satisfies pred.
func (c *Connection) GetSubscriptionByRequest(pred func(any) bool) (*Subscription, bool) {
	return c.subs.getByRequest(pred)
}

// SubscriptionCount returns the number of user subscriptions (housekeeping
// subscriptions are excluded).
func (c *Connection) SubscriptionCount() int {
	return c.subs.countUser()
}

// OnEvent registers a lifecycle listener and returns a function to cancel
// it. Listener panics are recovered and logged; they never crash the
// emitting goroutine.
func (c *Connection) OnEvent(l Listener) func() {
	return c.events.subscribe(l)
}

// Send forwards data to the transport without waiting for a response.
func (c *Connection) Send(data string) {
	observability.Log().Debug("connection send",
		observability.Field{Key: "connection", Value: c.id},
		observability.Field{Key: "data", Value: data},
	)
	c.transport.Send(data)
}

// SendAndWait sends data, then suspends until a frame satisfying match
// arrives, timeout elapses, or ctx is cancelled.
func (c *Connection) SendAndWait(ctx context.Context, data string, timeout time.Duration, match Matcher) (Frame, error) {
	pr := c.pending.register(match, timeout)
	c.Send(data)

	frame, ok, err := pr.wait(ctx)
	if err != nil {
		pr.complete(Frame{}, false)
		c.pending.remove(pr)
		return Frame{}, err
	}
	if !ok {
		c.incPendingTimeout()
		return Frame{}, errs.Timeout(c.id, "send_and_wait: no matching frame received before deadline")
	}
	return frame, nil
}

// Close tears down the connection permanently: should_reconnect is
// latched false, subscriptions' cancellation hooks run, pending requests
// are failed, the transport is closed and disposed, the connection is
// removed from its parent, and closed fires. Close is idempotent.
func (c *Connection) Close(ctx context.Context) error {
	c.finish(ctx, false)
	return nil
}

// CloseSubscription unsubscribes and removes sub. If sub is the last user
// subscription, the whole connection is closed.
func (c *Connection) CloseSubscription(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}

	if c.transport.IsOpen() {
		if sub.Cancel != nil {
			sub.Cancel()
		}
		if sub.Confirmed() {
			if err := c.collab.Unsubscribe(ctx, c, sub); err != nil {
				observability.Log().Warn("unsubscribe failed",
					observability.Field{Key: "connection", Value: c.id},
					observability.Field{Key: "subscription", Value: sub.ID},
					observability.Field{Key: "error", Value: err},
				)
			}
		}
	}

	remainingUsers := 0
	for _, s := range c.subs.snapshot() {
		if s != sub && s.User {
			remainingUsers++
		}
	}

	var err error
	if sub.User && remainingUsers == 0 {
		err = c.Close(ctx)
	}
	c.subs.remove(sub)
	return err
}

// finish runs the terminal-close sequence exactly once, regardless of which
// caller triggered it (Close, terminal give-up, or a remote-initiated
// close with reconnect disabled).
func (c *Connection) finish(ctx context.Context, emitConnectionClosed bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		c.shouldReconnect = false
		c.closed = true
		c.mu.Unlock()

		c.rootCancel()

		for _, sub := range c.subs.snapshot() {
			if sub.Cancel != nil {
				sub.Cancel()
			}
		}
		c.pending.failAll()

		if c.transport.IsOpen() {
			_ = c.transport.Close(ctx)
		}
		c.transport.Dispose()

		if c.onRemove != nil {
			c.onRemove()
		}

		if emitConnectionClosed {
			c.events.emit(Event{Kind: EventConnectionClosed})
		}
		c.events.emit(Event{Kind: EventClosed})
	})
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) handleOpen() {
	c.mu.Lock()
	c.reconnectTry = 0
	c.connected = true
	c.mu.Unlock()
	c.SetPausedActivity(false)
}

func (c *Connection) handleError(err error) {
	if err == nil {
		return
	}
	observability.Log().Warn("transport error",
		observability.Field{Key: "connection", Value: c.id},
		observability.Field{Key: "error", Value: err},
	)
}
