package conn

import (
	"context"
	"sync"
	"time"
)

// Matcher reports whether frame satisfies a pending request's predicate.
type Matcher func(Frame) bool

// pendingRequest is a one-shot correlation entry. complete is safe to call
// more than once; only the first call has effect, guaranteeing every
// pending request is signalled exactly once.
type pendingRequest struct {
	match Matcher
	timer *time.Timer
	done  chan struct{}
	once  sync.Once

	result Frame
	ok     bool
}

func newPendingRequest(match Matcher, timeout time.Duration) *pendingRequest {
	p := &pendingRequest{
		match: match,
		done:  make(chan struct{}),
	}
	p.timer = time.AfterFunc(timeout, func() {
		p.complete(Frame{}, false)
	})
	return p
}

func (p *pendingRequest) complete(frame Frame, ok bool) {
	p.once.Do(func() {
		p.result = frame
		p.ok = ok
		p.timer.Stop()
		close(p.done)
	})
}

func (p *pendingRequest) isDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// wait suspends until the pending request is signalled or ctx is done. A
// timeout (as opposed to caller cancellation) is reported as ok=false with a
// nil error.
func (p *pendingRequest) wait(ctx context.Context) (Frame, bool, error) {
	select {
	case <-p.done:
		return p.result, p.ok, nil
	case <-ctx.Done():
		return Frame{}, false, ctx.Err()
	}
}

// pendingRegistry correlates outgoing requests with inbound frames.
type pendingRegistry struct {
	mu      sync.Mutex
	entries []*pendingRequest
}

func (r *pendingRegistry) register(match Matcher, timeout time.Duration) *pendingRequest {
	p := newPendingRequest(match, timeout)
	r.mu.Lock()
	r.entries = append(r.entries, p)
	r.mu.Unlock()
	return p
}

// checkAndSweep removes already-completed entries, then matches frame
// against the remaining entries in insertion order. It returns true if a
// match consumed the frame.
func (r *pendingRegistry) checkAndSweep(frame Frame) bool {
	r.mu.Lock()
	live := make([]*pendingRequest, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.isDone() {
			live = append(live, e)
		}
	}
	r.entries = live
	snapshot := make([]*pendingRequest, len(live))
	copy(snapshot, live)
	r.mu.Unlock()

	for _, e := range snapshot {
		if e.isDone() {
			continue
		}
		if e.match == nil || !e.match(frame) {
			continue
		}
		e.complete(frame, true)
		r.remove(e)
		return true
	}
	return false
}

func (r *pendingRegistry) remove(target *pendingRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e == target {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// failAll signals every outstanding entry with no result. Invoked on
// transport close.
func (r *pendingRegistry) failAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	for _, e := range entries {
		e.complete(Frame{}, false)
	}
}
