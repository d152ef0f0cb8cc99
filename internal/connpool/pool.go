// Package connpool keeps one live backend client per kind bound to the
// active profile, rebuilding clients when the selection changes.
package connpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/qprofile/internal/backend"
	"github.com/zjrosen/qprofile/internal/log"
	"github.com/zjrosen/qprofile/internal/profile"
	"github.com/zjrosen/qprofile/internal/pubsub"
	"github.com/zjrosen/qprofile/internal/tracing"
)

// ErrPoolDisposed is returned by every call made after Dispose.
var ErrPoolDisposed = errors.New("connpool: pool disposed")

// ErrUnknownKind is returned for a kind that was never registered.
var ErrUnknownKind = errors.New("connpool: unknown client kind")

// ErrNoBinding is returned when neither a selection nor the fallback names
// an endpoint.
var ErrNoBinding = errors.New("connpool: no endpoint to bind")

// Kind names a client flavor.
type Kind string

const (
	KindRuntime   Kind = "runtime"
	KindStreaming Kind = "streaming"
)

// State is the pool lifecycle. Disposed is terminal.
type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handle is a live client bound to one binding for its whole life.
type Handle interface {
	Binding() backend.Binding
	Close() error
}

// Constructor builds a handle for a binding.
type Constructor func(ctx context.Context, b backend.Binding) (Handle, error)

// BindingSource reports the binding of the active selection.
type BindingSource interface {
	CurrentBinding() (backend.Binding, bool)
}

// EventType classifies pool events.
type EventType string

const (
	EventSwapped     EventType = "swapped"
	EventBuildFailed EventType = "build_failed"
	EventDisposed    EventType = "disposed"
)

// Event reports a change to one slot.
type Event struct {
	Type    EventType
	Kind    Kind
	Binding backend.Binding
	Err     error
}

func (e Event) String() string {
	switch e.Type {
	case EventBuildFailed:
		return fmt.Sprintf("%s client for %s failed: %v", e.Kind, e.Binding, e.Err)
	case EventDisposed:
		return "client pool disposed"
	default:
		return fmt.Sprintf("%s client bound to %s", e.Kind, e.Binding)
	}
}

// handleRef boxes a Handle so it can live in an atomic.Pointer.
type handleRef struct {
	h Handle
}

type slot struct {
	kind      Kind
	construct Constructor

	current atomic.Pointer[handleRef]
	// pending is the binding a failed or deferred rebuild asked for.
	pending atomic.Pointer[backend.Binding]
	// build serializes construction and swaps for this slot.
	build sync.Mutex
}

func (s *slot) load() Handle {
	if ref := s.current.Load(); ref != nil {
		return ref.h
	}
	return nil
}

func (s *slot) swap(h Handle) Handle {
	var next *handleRef
	if h != nil {
		next = &handleRef{h: h}
	}
	if prev := s.current.Swap(next); prev != nil {
		return prev.h
	}
	return nil
}

// Pool holds one handle per registered kind. Handles are constructed
// fully before they are published, so readers see either the previous
// handle or the new one.
type Pool struct {
	source   BindingSource
	fallback backend.Binding

	mu    sync.RWMutex
	slots map[Kind]*slot
	order []Kind

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	sub    *pubsub.Subscription[profile.Selected]
	events *pubsub.Broker[Event]
	closer sync.WaitGroup
}

// New creates a pool that rebuilds its handles on every selection
// announced by notifier. source supplies the initial binding; fallback is
// used when nothing is selected.
func New(notifier *pubsub.Notifier[profile.Selected], source BindingSource, fallback backend.Binding) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		source:   source,
		fallback: fallback,
		slots:    make(map[Kind]*slot),
		ctx:      ctx,
		cancel:   cancel,
		events:   pubsub.NewBroker[Event](),
	}
	p.sub = notifier.Subscribe(ctx, p.onSelected)
	return p
}

// State returns the lifecycle state.
func (p *Pool) State() State {
	return State(p.state.Load())
}

func (p *Pool) disposed() bool {
	return p.State() == StateDisposed
}

// Events subscribes to slot changes until ctx is done.
func (p *Pool) Events(ctx context.Context) <-chan pubsub.Event[Event] {
	return p.events.Subscribe(ctx)
}

// Register adds a client kind. Registering a kind twice replaces its
// constructor for future builds.
func (p *Pool) Register(kind Kind, construct Constructor) error {
	if construct == nil {
		return fmt.Errorf("connpool: nil constructor for %s", kind)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed() {
		return ErrPoolDisposed
	}
	if s, ok := p.slots[kind]; ok {
		s.build.Lock()
		s.construct = construct
		s.build.Unlock()
		return nil
	}
	p.slots[kind] = &slot{kind: kind, construct: construct}
	p.order = append(p.order, kind)
	return nil
}

func (p *Pool) slot(kind Kind) (*slot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.slots[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return s, nil
}

func (p *Pool) allSlots() []*slot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*slot, 0, len(p.order))
	for _, k := range p.order {
		out = append(out, p.slots[k])
	}
	return out
}

// Client returns the live handle for kind, constructing it on first use.
func (p *Pool) Client(ctx context.Context, kind Kind) (Handle, error) {
	if p.disposed() {
		return nil, ErrPoolDisposed
	}
	s, err := p.slot(kind)
	if err != nil {
		return nil, err
	}
	if h := s.load(); h != nil {
		return h, nil
	}

	s.build.Lock()
	defer s.build.Unlock()

	if p.disposed() {
		return nil, ErrPoolDisposed
	}
	if h := s.load(); h != nil {
		return h, nil
	}

	b := p.initialBinding(s)
	if b.IsZero() {
		return nil, ErrNoBinding
	}
	h, err := p.construct(ctx, s, b)
	if err != nil {
		s.pending.Store(&b)
		return nil, err
	}
	s.swap(h)
	s.pending.Store(nil)
	p.state.CompareAndSwap(int32(StateUninitialized), int32(StateActive))

	if p.disposed() {
		// Dispose ran while we were building; it must not leak.
		if h := s.swap(nil); h != nil {
			closeHandle(s.kind, h)
		}
		return nil, ErrPoolDisposed
	}
	p.events.Publish(pubsub.CreatedEvent, Event{Type: EventSwapped, Kind: s.kind, Binding: b})
	return h, nil
}

func (p *Pool) initialBinding(s *slot) backend.Binding {
	if b := s.pending.Load(); b != nil {
		return *b
	}
	return p.currentBinding()
}

func (p *Pool) currentBinding() backend.Binding {
	if p.source != nil {
		if b, ok := p.source.CurrentBinding(); ok {
			return b
		}
	}
	return p.fallback
}

func (p *Pool) construct(ctx context.Context, s *slot, b backend.Binding) (Handle, error) {
	ctx, span := tracing.Start(ctx, tracing.SpanPoolRebuild,
		attribute.String(tracing.AttrClientKind, string(s.kind)),
		attribute.String(tracing.AttrEndpoint, b.Endpoint),
		attribute.String(tracing.AttrRegion, b.Region),
	)
	h, err := s.construct(ctx, b)
	if err == nil && h == nil {
		err = fmt.Errorf("connpool: constructor for %s returned no handle", s.kind)
	}
	if err != nil {
		err = fmt.Errorf("building %s client for %s: %w", s.kind, b.Endpoint, err)
		log.ErrorErr(log.CatPool, "Client construction failed", err, "kind", s.kind, "endpoint", b.Endpoint, "region", b.Region)
		p.events.Publish(pubsub.UpdatedEvent, Event{Type: EventBuildFailed, Kind: s.kind, Binding: b, Err: err})
		tracing.End(span, err)
		return nil, err
	}
	tracing.End(span, nil)
	return h, nil
}

// onSelected rebuilds every constructed handle for the new binding. Kinds
// not built yet pick the binding up on their first Client call.
func (p *Pool) onSelected(sel profile.Selected) {
	if p.disposed() {
		return
	}
	b := sel.Binding()
	for _, s := range p.allSlots() {
		p.rebuild(s, b)
	}
}

// Rebind points every slot at the source's current binding, or the
// fallback when nothing is selected. Slots already bound there are left
// alone; unbuilt slots resolve their binding on first use.
func (p *Pool) Rebind() {
	if p.disposed() {
		return
	}
	for _, s := range p.allSlots() {
		p.resync(s)
	}
}

func (p *Pool) resync(s *slot) {
	s.build.Lock()
	defer s.build.Unlock()

	if p.disposed() {
		return
	}
	// Read under the slot lock so a selection published meanwhile is either
	// seen here or rebuilt after us.
	b := p.currentBinding()
	cur := s.load()
	switch {
	case cur == nil:
		s.pending.Store(nil)
	case cur.Binding() == b:
		s.pending.Store(nil)
	case b.IsZero():
		s.pending.Store(nil)
		p.retire(s.kind, s.swap(nil))
		log.Info(log.CatPool, "Dropped client with no endpoint to bind", "kind", s.kind)
	default:
		p.rebuildLocked(s, b)
	}
}

func (p *Pool) rebuild(s *slot, b backend.Binding) {
	s.build.Lock()
	defer s.build.Unlock()

	if p.disposed() {
		return
	}
	p.rebuildLocked(s, b)
}

func (p *Pool) rebuildLocked(s *slot, b backend.Binding) {
	if s.load() == nil {
		s.pending.Store(&b)
		log.Debug(log.CatPool, "Deferred client build", "kind", s.kind, "endpoint", b.Endpoint)
		return
	}

	h, err := p.construct(p.ctx, s, b)
	if err != nil {
		s.pending.Store(&b)
		p.retire(s.kind, s.swap(nil))
		return
	}
	s.pending.Store(nil)
	old := s.swap(h)
	log.Info(log.CatPool, "Swapped client", "kind", s.kind, "endpoint", b.Endpoint, "region", b.Region)
	p.events.Publish(pubsub.UpdatedEvent, Event{Type: EventSwapped, Kind: s.kind, Binding: b})
	p.retire(s.kind, old)
}

// retire closes a replaced handle in the background so in-flight calls on
// it can finish without stalling the publisher.
func (p *Pool) retire(kind Kind, h Handle) {
	if h == nil {
		return
	}
	p.closer.Add(1)
	go func() {
		defer p.closer.Done()
		closeHandle(kind, h)
	}()
}

func closeHandle(kind Kind, h Handle) {
	if err := h.Close(); err != nil {
		log.ErrorErr(log.CatPool, "Closing client failed", err, "kind", kind)
	}
}

// Binding reports the binding of the live handle for kind.
func (p *Pool) Binding(kind Kind) (backend.Binding, bool) {
	s, err := p.slot(kind)
	if err != nil {
		return backend.Binding{}, false
	}
	h := s.load()
	if h == nil {
		return backend.Binding{}, false
	}
	return h.Binding(), true
}

// Dispose closes every handle and stops listening for selections. It is
// safe to call more than once; the pool never becomes usable again.
func (p *Pool) Dispose() {
	if State(p.state.Swap(int32(StateDisposed))) == StateDisposed {
		return
	}
	p.cancel()
	p.sub.Close()

	for _, s := range p.allSlots() {
		s.build.Lock()
		if h := s.swap(nil); h != nil {
			closeHandle(s.kind, h)
		}
		s.pending.Store(nil)
		s.build.Unlock()
	}
	p.closer.Wait()

	p.events.Publish(pubsub.DeletedEvent, Event{Type: EventDisposed})
	p.events.Close()
	log.Debug(log.CatPool, "Pool disposed")
}

// With runs fn against the live handle for kind. A handle retired by a
// concurrent swap is retried once against its replacement.
func (p *Pool) With(ctx context.Context, kind Kind, fn func(Handle) error) error {
	h, err := p.Client(ctx, kind)
	if err != nil {
		return err
	}
	err = fn(h)
	if !errors.Is(err, backend.ErrClientClosed) {
		return err
	}
	log.Debug(log.CatPool, "Retrying on replacement client", "kind", kind)
	if h, err = p.Client(ctx, kind); err != nil {
		return err
	}
	return fn(h)
}

// Get returns the live handle for kind as its concrete client type.
func Get[T Handle](ctx context.Context, p *Pool, kind Kind) (T, error) {
	var zero T
	h, err := p.Client(ctx, kind)
	if err != nil {
		return zero, err
	}
	t, ok := h.(T)
	if !ok {
		return zero, fmt.Errorf("connpool: %s client is %T, not %T", kind, h, zero)
	}
	return t, nil
}
