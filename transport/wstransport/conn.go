// Package wstransport implements the default conn.Transport over
// github.com/coder/websocket: a single dial, a read loop, and a protocol
// ping loop, with outbound writes queued through a bounded worker pool and
// paced by a token-bucket rate limiter.
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wsmux/wsmux/errs"
	"github.com/wsmux/wsmux/internal/observability"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 2 * 1024 * 1024
	defaultSendWorkers  = 4
	defaultSendQueue    = 64
	defaultSendRate     = 20 // frames/sec
	defaultSendBurst    = 20
)

// Config configures a Conn. Zero-valued fields fall back to sane defaults.
type Config struct {
	URL           string
	Header        http.Header
	DialTimeout   time.Duration
	PingInterval  time.Duration
	WriteTimeout  time.Duration
	NoDataTimeout time.Duration // idle read watchdog; 0 disables it

	SendRate       rate.Limit // outbound frames/sec across Send calls
	SendBurst      int
	SendWorkers    int
	SendQueueDepth int
}

func (c Config) normalized() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.SendRate <= 0 {
		c.SendRate = defaultSendRate
	}
	if c.SendBurst <= 0 {
		c.SendBurst = defaultSendBurst
	}
	if c.SendWorkers <= 0 {
		c.SendWorkers = defaultSendWorkers
	}
	if c.SendQueueDepth <= 0 {
		c.SendQueueDepth = defaultSendQueue
	}
	return c
}

// Conn is the default conn.Transport implementation.
type Conn struct {
	cfg     Config
	limiter *rate.Limiter
	queue   *sendQueue

	mu         sync.Mutex
	socket     *websocket.Conn
	cancelSess context.CancelFunc
	open       bool
	fired      bool // whether on_close already fired for the current session

	reconnecting atomic.Bool

	onOpen    func()
	onMessage func(string)
	onClose   func()
	onError   func(error)
}

// New constructs a Conn targeting cfg.URL.
func New(cfg Config) (*Conn, error) {
	cfg = cfg.normalized()
	c := &Conn{
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.SendRate, cfg.SendBurst),
	}
	c.queue = newSendQueue(cfg.SendWorkers, cfg.SendQueueDepth, c.writeFrame)
	return c, nil
}

// RequestID returns a fresh correlation id suitable for control-frame
// request bodies built by a conn.Collaborator.
func RequestID() string { return uuid.NewString() }

func (c *Conn) OnOpen(f func())          { c.onOpen = f }
func (c *Conn) OnMessage(f func(string)) { c.onMessage = f }
func (c *Conn) OnClose(f func())         { c.onClose = f }
func (c *Conn) OnError(f func(error))    { c.onError = f }

// IsOpen reports whether the current session is live.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// IsReconnecting reports the reconnecting guard.
func (c *Conn) IsReconnecting() bool { return c.reconnecting.Load() }

// SetReconnecting sets the reconnecting guard.
func (c *Conn) SetReconnecting(v bool) { c.reconnecting.Store(v) }

// Connect dials once and, on success, starts the read and ping loops in the
// background. It does not block on those loops.
func (c *Conn) Connect(ctx context.Context) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	socket, _, err := websocket.Dial(dialCtx, c.cfg.URL, &websocket.DialOptions{HTTPHeader: c.cfg.Header})
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	socket.SetReadLimit(defaultReadLimit)

	sessCtx, sessCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.socket = socket
	c.cancelSess = sessCancel
	c.open = true
	c.fired = false
	c.mu.Unlock()

	if c.onOpen != nil {
		c.onOpen()
	}

	go c.runSession(sessCtx, sessCancel, socket)
	return true, nil
}

func (c *Conn) runSession(ctx context.Context, cancel context.CancelFunc, socket *websocket.Conn) {
	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errCh <- c.readLoop(ctx, socket) }()
	go func() { defer wg.Done(); errCh <- c.pingLoop(ctx, socket) }()

	firstErr := <-errCh
	cancel()
	wg.Wait()
	close(errCh)

	for e := range errCh {
		if firstErr == nil {
			firstErr = e
		}
	}

	_ = socket.Close(websocket.StatusNormalClosure, "")

	c.mu.Lock()
	c.open = false
	alreadyFired := c.fired
	c.fired = true
	c.mu.Unlock()

	if firstErr != nil && !errors.Is(firstErr, context.Canceled) {
		if c.onError != nil {
			c.onError(firstErr)
		}
	}
	if !alreadyFired && c.onClose != nil {
		c.onClose()
	}
}

func (c *Conn) readLoop(ctx context.Context, socket *websocket.Conn) error {
	for {
		readCtx := ctx
		var cancel context.CancelFunc
		if c.cfg.NoDataTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, c.cfg.NoDataTimeout)
		}
		_, data, err := socket.Read(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if c.onMessage != nil {
			c.onMessage(string(data))
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context, socket *websocket.Conn) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err := socket.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// Close cancels the active session, which unblocks the read and ping loops
// and triggers the registered on_close callback exactly once. It is
// idempotent.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancelSess
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Reset discards the previous session so Connect may be retried.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.socket = nil
	c.cancelSess = nil
	c.open = false
	c.mu.Unlock()
}

// Send queues data for delivery without blocking the caller. A saturated
// send queue drops the frame and logs it.
func (c *Conn) Send(data string) {
	if err := c.queue.enqueue(data); err != nil {
		observability.Log().Warn("transport send dropped",
			observability.Field{Key: "error", Value: err},
		)
	}
}

func (c *Conn) writeFrame(ctx context.Context, data string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()
	if socket == nil {
		return errs.Unavailable("", "transport has no open session")
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return socket.Write(writeCtx, websocket.MessageText, []byte(data))
}

// Dispose releases the send queue. The Conn is not reused after Dispose.
func (c *Conn) Dispose() {
	c.queue.close()
}
