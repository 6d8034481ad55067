package conn

import (
	"fmt"
	"strings"
	"time"

	"github.com/wsmux/wsmux/internal/observability"
)

// slowDispatchThreshold is the soft contract on handler wall-clock time; a
// frame whose full handler sequence exceeds this logs a warning.
const slowDispatchThreshold = 500 * time.Millisecond

// handleMessage is the transport's on_message callback: parse -> sweep
// pending -> correlate -> fan-out to subscriptions -> unhandled.
func (c *Connection) handleMessage(raw string) {
	receivedAt := time.Now()

	if strings.TrimSpace(raw) == "" {
		return
	}

	frame, err := c.codec.Parse(raw)
	if err != nil {
		observability.Log().Debug("dropped unparseable frame",
			observability.Field{Key: "connection", Value: c.id},
			observability.Field{Key: "error", Value: err},
		)
		return
	}
	frame.ReceivedAt = receivedAt
	if c.opts.OutputOriginalData {
		frame.Original = raw
	}

	start := time.Now()

	pendingHandled := c.pending.checkAndSweep(frame)
	if pendingHandled && !c.opts.ContinueOnQueryResponse {
		c.observeDispatch(time.Since(start))
		return
	}

	anyHandled := c.fanOut(frame)

	elapsed := time.Since(start)
	if elapsed > slowDispatchThreshold {
		observability.Log().Warn("message processing slow",
			observability.Field{Key: "connection", Value: c.id},
			observability.Field{Key: "elapsed_ms", Value: elapsed.Milliseconds()},
		)
	}
	c.observeDispatch(elapsed)

	if !pendingHandled && !anyHandled {
		if !c.opts.UnhandledMessageExpected {
			observability.Log().Warn("unhandled message",
				observability.Field{Key: "connection", Value: c.id},
				observability.Field{Key: "frame", Value: frame.Value},
			)
		}
		c.incUnhandled()
		c.events.emit(Event{Kind: EventUnhandledMessage, Frame: frame})
	}
}

func (c *Connection) fanOut(frame Frame) bool {
	var anyHandled bool
	for _, sub := range c.subs.snapshot() {
		var isMatch bool
		deliver := frame

		if sub.Request == nil {
			if sub.Identifier == "" {
				continue
			}
			isMatch = c.collab.Matches(c, frame, sub.Identifier)
		} else {
			isMatch = c.collab.Matches(c, frame, sub.Request)
			if isMatch {
				deliver = c.collab.Transform(frame)
			}
		}
		if !isMatch {
			continue
		}

		anyHandled = true
		c.invokeHandler(sub, deliver)
	}
	return anyHandled
}

func (c *Connection) invokeHandler(sub *Subscription, frame Frame) {
	var herr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				herr = fmt.Errorf("subscription handler panic: %v", r)
			}
		}()
		if sub.Handler != nil {
			herr = sub.Handler(frame)
		}
	}()

	if herr == nil {
		return
	}
	observability.Log().Error("subscription handler error",
		observability.Field{Key: "connection", Value: c.id},
		observability.Field{Key: "subscription", Value: sub.ID},
		observability.Field{Key: "error", Value: herr},
	)
	if sub.OnException != nil {
		c.invokeException(sub, frame, herr)
	}
}

func (c *Connection) invokeException(sub *Subscription, frame Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			observability.Log().Error("subscription exception handler panicked",
				observability.Field{Key: "connection", Value: c.id},
				observability.Field{Key: "subscription", Value: sub.ID},
				observability.Field{Key: "panic", Value: r},
			)
		}
	}()
	sub.OnException(frame, err)
}
