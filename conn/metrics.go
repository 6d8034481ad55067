package conn

import "time"

// Metrics is an optional hook a caller can supply to observe connection
// health. When nil, the core stays dependency-free. Result strings are
// either "ok" or "failed" unless noted otherwise.
type Metrics interface {
	IncReconnect(result string)
	IncResubscribeBatch(result string)
	IncPendingTimeout()
	IncUnhandled()
	ObserveDispatch(d time.Duration)
}

func (c *Connection) incReconnect(result string) {
	if c.metrics != nil {
		c.metrics.IncReconnect(result)
	}
}

func (c *Connection) incResubscribeBatch(result string) {
	if c.metrics != nil {
		c.metrics.IncResubscribeBatch(result)
	}
}

func (c *Connection) incPendingTimeout() {
	if c.metrics != nil {
		c.metrics.IncPendingTimeout()
	}
}

func (c *Connection) incUnhandled() {
	if c.metrics != nil {
		c.metrics.IncUnhandled()
	}
}

func (c *Connection) observeDispatch(d time.Duration) {
	if c.metrics != nil {
		c.metrics.ObserveDispatch(d)
	}
}
