package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc/pool"

	"github.com/wsmux/wsmux/errs"
	"github.com/wsmux/wsmux/internal/observability"
)

// handleClose is the transport's on_close callback. It sweeps pending
// requests unconditionally, then branches into the reconnect path or the
// terminal path.
func (c *Connection) handleClose() {
	if c.isClosed() {
		// Close()/terminalGiveUp already ran the full teardown sequence;
		// this callback is the echo from our own transport.Close() call.
		return
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.pending.failAll()

	c.mu.Lock()
	auto := c.opts.AutoReconnect
	should := c.shouldReconnect
	c.mu.Unlock()

	if auto && should {
		c.enterReconnectPath()
		return
	}

	// Terminal path: should_reconnect is false, or auto-reconnect is
	// disabled. connection-closed only fires when the disconnect was
	// unsolicited (should_reconnect was still true).
	c.finish(context.Background(), should && !auto)
}

func (c *Connection) enterReconnectPath() {
	if c.transport.IsReconnecting() {
		return
	}
	c.transport.SetReconnecting(true)

	c.mu.Lock()
	c.disconnectTime = time.Now()
	first := !c.lostTriggered
	c.lostTriggered = true
	c.mu.Unlock()

	if first {
		c.events.emit(Event{Kind: EventConnectionLost})
	}

	go c.reconnectLoop(c.rootCtx)
}

// reconnectLoop runs as an independent goroutine, guarded by the
// transport's reconnecting flag so at most one runs per connection.
func (c *Connection) reconnectLoop(ctx context.Context) {
	defer c.transport.SetReconnecting(false)

	policy := backoff.NewConstantBackOff(c.opts.ReconnectInterval)

	for {
		c.mu.Lock()
		try := c.reconnectTry
		c.mu.Unlock()

		if try > 0 {
			wait := policy.NextBackOff()
			if wait == backoff.Stop {
				wait = c.opts.ReconnectInterval
			}
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}

		c.mu.Lock()
		should := c.shouldReconnect
		c.mu.Unlock()
		if !should {
			return
		}

		c.transport.Reset()
		ok, err := c.transport.Connect(ctx)
		if err != nil || !ok {
			c.incReconnect("failed")
			c.mu.Lock()
			c.reconnectTry++
			c.resubscribeTry = 0
			tries := c.reconnectTry
			c.mu.Unlock()

			if c.maxReconnectTriesReached(tries) {
				c.terminalGiveUp()
				return
			}
			continue
		}
		c.incReconnect("ok")

		c.mu.Lock()
		outage := c.disconnectTime
		c.disconnectTime = time.Time{}
		c.mu.Unlock()

		if c.processReconnect(ctx) {
			c.mu.Lock()
			c.resubscribeTry = 0
			lost := c.lostTriggered
			c.lostTriggered = false
			c.mu.Unlock()

			if lost {
				var dur time.Duration
				if !outage.IsZero() {
					dur = time.Since(outage)
				}
				c.events.emit(Event{Kind: EventConnectionRestored, OutageDuration: dur})
			}
			return
		}

		c.mu.Lock()
		c.resubscribeTry++
		c.disconnectTime = outage
		tries := c.resubscribeTry
		c.mu.Unlock()

		if c.maxResubscribeTriesReached(tries) {
			c.terminalGiveUp()
			return
		}

		if c.transport.IsOpen() {
			_ = c.transport.Close(ctx)
		}
	}
}

func (c *Connection) maxReconnectTriesReached(tries int) bool {
	return c.opts.MaxReconnectTries != nil && tries >= *c.opts.MaxReconnectTries
}

func (c *Connection) maxResubscribeTriesReached(tries int) bool {
	return c.opts.MaxResubscribeTries != nil && tries >= *c.opts.MaxResubscribeTries
}

// terminalGiveUp ends the connection's lifetime after a retry budget is
// exhausted: should_reconnect is latched false, the connection is removed
// from its parent, and closed + connection-closed fire exactly once.
func (c *Connection) terminalGiveUp() {
	c.finish(context.Background(), true)
}

// processReconnect re-authenticates (if previously authenticated) and
// replays request-bound subscriptions in bounded-concurrency batches.
// Identifier-only subscriptions are assumed auto-recovered by the remote.
func (c *Connection) processReconnect(ctx context.Context) bool {
	c.mu.Lock()
	needAuth := c.authenticated
	c.mu.Unlock()

	if needAuth {
		if !c.transport.IsOpen() {
			return false
		}
		ok, err := c.collab.Authenticate(ctx, c)
		if err != nil || !ok {
			if err != nil {
				observability.Log().Warn("reconnect authentication failed",
					observability.Field{Key: "connection", Value: c.id},
					observability.Field{Key: "error", Value: err},
				)
			}
			return false
		}
	}

	var requestBound []*Subscription
	for _, sub := range c.subs.snapshot() {
		if sub.Request != nil {
			requestBound = append(requestBound, sub)
		}
	}
	if len(requestBound) == 0 {
		return true
	}

	batchSize := c.opts.MaxConcurrentResubscriptions
	if batchSize <= 0 {
		batchSize = 1
	}

	for start := 0; start < len(requestBound); start += batchSize {
		end := start + batchSize
		if end > len(requestBound) {
			end = len(requestBound)
		}
		if !c.transport.IsOpen() {
			return false
		}
		if !c.resubscribeBatch(ctx, requestBound[start:end]) {
			c.incResubscribeBatch("failed")
			return false
		}
		c.incResubscribeBatch("ok")
	}
	return true
}

func (c *Connection) resubscribeBatch(ctx context.Context, batch []*Subscription) bool {
	var mu sync.Mutex
	var failures []error

	wp := pool.New().WithMaxGoroutines(len(batch))
	for _, sub := range batch {
		s := sub
		wp.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					failures = append(failures, errs.New(c.id, errs.CodeTransport,
						errs.WithMessage(fmt.Sprintf("subscription %s: panic: %v", s.ID, r)),
						errs.WithCanonicalCode(errs.CanonicalResubscribeRejected),
					))
					mu.Unlock()
				}
			}()

			ok, err := c.collab.SubscribeAndWait(ctx, c, s)
			if err != nil || !ok {
				mu.Lock()
				if err == nil {
					err = errs.New(c.id, errs.CodeTransport,
						errs.WithMessage(fmt.Sprintf("subscription %s: subscribe rejected", s.ID)),
						errs.WithCanonicalCode(errs.CanonicalResubscribeRejected),
					)
				}
				failures = append(failures, err)
				mu.Unlock()
				return
			}
			s.confirmed.Store(true)
		})
	}
	wp.Wait()

	_ = observability.AggregateErrors("resubscribe batch",
		failures,
		observability.Field{Key: "connection", Value: c.id},
		observability.Field{Key: "batch_size", Value: len(batch)},
	)

	if ctx.Err() != nil {
		return false
	}
	return len(failures) == 0
}
