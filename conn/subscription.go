package conn

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/wsmux/wsmux/errs"
)

// Handler processes one matched Frame. A returned error is treated as a
// caught exception: logged and forwarded to OnException without stopping
// dispatch to other subscriptions.
type Handler func(Frame) error

// ExceptionHandler observes a Handler failure for its subscription.
type ExceptionHandler func(Frame, error)

// Subscription is a live interest in a stream of frames, matched either by
// an opaque Identifier or by the original Request object used to create it.
type Subscription struct {
	ID          string
	Request     any
	Identifier  string
	User        bool
	Handler     Handler
	OnException ExceptionHandler
	Cancel      func()

	confirmed atomic.Bool
}

// NewSubscription creates a user subscription matched by identifier.
func NewSubscription(identifier string, handler Handler) *Subscription {
	return &Subscription{
		ID:         uuid.NewString(),
		Identifier: identifier,
		User:       true,
		Handler:    handler,
	}
}

// NewRequestSubscription creates a user subscription matched by the
// original subscribe-request object, replayed on reconnect.
func NewRequestSubscription(request any, handler Handler) *Subscription {
	return &Subscription{
		ID:      uuid.NewString(),
		Request: request,
		User:    true,
		Handler: handler,
	}
}

// NewInternalSubscription creates a housekeeping subscription excluded from
// subscription_count.
func NewInternalSubscription(identifier string, handler Handler) *Subscription {
	return &Subscription{
		ID:         uuid.NewString(),
		Identifier: identifier,
		User:       false,
		Handler:    handler,
	}
}

// Confirmed reports whether this subscription has completed a successful
// subscribe round-trip.
func (s *Subscription) Confirmed() bool { return s.confirmed.Load() }

type subscriptionRegistry struct {
	mu    sync.Mutex
	order []*Subscription
	byID  map[string]*Subscription
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{byID: make(map[string]*Subscription)}
}

func (r *subscriptionRegistry) add(sub *Subscription) error {
	if sub == nil || sub.ID == "" {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("subscription must have an id"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[sub.ID]; exists {
		return errs.New("", errs.CodeConflict, errs.WithMessage("subscription already present: "+sub.ID))
	}
	r.byID[sub.ID] = sub
	r.order = append(r.order, sub)
	return nil
}

func (r *subscriptionRegistry) remove(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, sub.ID)
	for i, s := range r.order {
		if s == sub {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *subscriptionRegistry) getByID(id string) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

func (r *subscriptionRegistry) getByRequest(pred func(any) bool) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.order {
		if s.Request != nil && pred(s.Request) {
			return s, true
		}
	}
	return nil, false
}

func (r *subscriptionRegistry) snapshot() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Subscription, len(r.order))
	copy(out, r.order)
	return out
}

func (r *subscriptionRegistry) countUser() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.order {
		if s.User {
			n++
		}
	}
	return n
}
