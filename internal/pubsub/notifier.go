package pubsub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Notifier fans a payload out to callbacks synchronously, in registration
// order, on the goroutine that calls Publish. Callbacks must not block for
// long; anything slow belongs in a goroutine the callback starts.
//
// There is no replay: a subscriber only sees payloads published after it
// subscribed.
type Notifier[T any] struct {
	mu     sync.Mutex
	subs   []*Subscription[T]
	closed bool
}

// Subscription is a registered callback. Close unregisters it.
type Subscription[T any] struct {
	id     string
	fn     func(T)
	owner  *Notifier[T]
	active atomic.Bool

	stopMu sync.Mutex
	stop   func() bool
}

// NewNotifier creates an empty notifier.
func NewNotifier[T any]() *Notifier[T] {
	return &Notifier[T]{}
}

// Subscribe registers fn. The subscription lives until ctx is done or
// Close is called on the returned handle, whichever comes first.
// Subscribing to a closed notifier returns an inactive subscription.
func (n *Notifier[T]) Subscribe(ctx context.Context, fn func(T)) *Subscription[T] {
	sub := &Subscription[T]{
		id:    uuid.NewString(),
		fn:    fn,
		owner: n,
	}

	n.mu.Lock()
	if n.closed || fn == nil {
		n.mu.Unlock()
		return sub
	}
	sub.active.Store(true)
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	stop := context.AfterFunc(ctx, sub.Close)
	sub.stopMu.Lock()
	sub.stop = stop
	sub.stopMu.Unlock()
	return sub
}

// Publish invokes every active callback with payload and returns how many
// were invoked. Callbacks may subscribe or unsubscribe re-entrantly: a
// subscription added mid-publish first fires on the next Publish, one
// closed mid-publish is skipped if it has not run yet.
func (n *Notifier[T]) Publish(payload T) int {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return 0
	}
	snapshot := make([]*Subscription[T], len(n.subs))
	copy(snapshot, n.subs)
	n.mu.Unlock()

	delivered := 0
	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		sub.fn(payload)
		delivered++
	}
	return delivered
}

// SubscriberCount returns the number of active subscriptions.
func (n *Notifier[T]) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Close drops every subscription. Later publishes are no-ops.
func (n *Notifier[T]) Close() {
	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	n.closed = true
	n.mu.Unlock()

	for _, sub := range subs {
		sub.deactivate()
	}
}

// ID returns the subscription's unique identifier.
func (s *Subscription[T]) ID() string {
	return s.id
}

// Active reports whether the callback can still be invoked.
func (s *Subscription[T]) Active() bool {
	return s.active.Load()
}

// Close unregisters the callback. Safe to call more than once.
func (s *Subscription[T]) Close() {
	if !s.active.Load() {
		return
	}
	n := s.owner
	n.mu.Lock()
	for i, sub := range n.subs {
		if sub == s {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			break
		}
	}
	n.mu.Unlock()
	s.deactivate()
}

func (s *Subscription[T]) deactivate() {
	s.active.Store(false)
	s.stopMu.Lock()
	stop := s.stop
	s.stopMu.Unlock()
	if stop != nil {
		stop()
	}
}
