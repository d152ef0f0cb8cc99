package profile

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/qprofile/internal/identity"
	"github.com/zjrosen/qprofile/internal/log"
	"github.com/zjrosen/qprofile/internal/pubsub"
	"github.com/zjrosen/qprofile/internal/tracing"
)

// Repository persists the active selection.
type Repository interface {
	LoadAll(ctx context.Context) (map[identity.ID]Profile, error)
	Save(ctx context.Context, id identity.ID, p Profile) error
	Delete(ctx context.Context, id identity.ID) error
}

// StoreOption configures a SelectionStore.
type StoreOption func(*SelectionStore)

// WithNotifyOnReselect makes SetActive persist and publish even when the
// profile is already active.
func WithNotifyOnReselect(enabled bool) StoreOption {
	return func(s *SelectionStore) {
		s.notifyOnReselect = enabled
	}
}

// SelectionStore owns the active profile per identity. Every operation is
// one critical section; SetActive publishes while holding it, so
// selections for the store are announced in the order they were made.
type SelectionStore struct {
	mu               sync.Mutex
	active           map[identity.ID]Profile
	repo             Repository
	notifier         *pubsub.Notifier[Selected]
	notifyOnReselect bool
}

// NewSelectionStore creates an empty store. Call Load to restore persisted
// entries.
func NewSelectionStore(repo Repository, notifier *pubsub.Notifier[Selected], opts ...StoreOption) *SelectionStore {
	s := &SelectionStore{
		active:   make(map[identity.ID]Profile),
		repo:     repo,
		notifier: notifier,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory selection with the persisted one. Entries
// are trusted as stored.
func (s *SelectionStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading active profiles: %w", err)
	}
	s.active = make(map[identity.ID]Profile, len(entries))
	maps.Copy(s.active, entries)
	log.Debug(log.CatStore, "Loaded active profiles", "count", len(entries))
	return nil
}

// Active returns the selected profile for id.
func (s *SelectionStore) Active(id identity.ID) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.active[id]
	return p, ok
}

// SetActive selects p for id, served by endpoint in region. The stored
// record takes its account from the ARN and its endpoint and region from
// the arguments. It reports whether a change was recorded and announced.
func (s *SelectionStore) SetActive(ctx context.Context, id identity.ID, p Profile, endpoint, region string) (bool, error) {
	ctx, span := tracing.Start(ctx, tracing.SpanSetActive,
		attribute.String(tracing.AttrConnectionID, id.String()),
		attribute.String(tracing.AttrProfileARN, p.ARN),
	)

	parsed, err := ParseARN(p.ARN)
	if err != nil {
		log.Warn(log.CatStore, "Refusing to select profile with invalid ARN", "id", id, "arn", p.ARN)
		tracing.End(span, err)
		return false, err
	}

	next := Profile{
		Name:      p.Name,
		AccountID: parsed.AccountID,
		Region:    region,
		ARN:       p.ARN,
		Endpoint:  endpoint,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.active[id]
	if had && prev == next && !s.notifyOnReselect {
		span.AddEvent(tracing.EventSelectionNoop)
		tracing.End(span, nil)
		return false, nil
	}

	if err := s.repo.Save(ctx, id, next); err != nil {
		err = fmt.Errorf("persisting active profile: %w", err)
		log.ErrorErr(log.CatStore, "Failed to persist profile selection", err, "id", id)
		tracing.End(span, err)
		return false, err
	}
	s.active[id] = next

	if had {
		log.Info(log.CatStore, "Switched profile", "id", id, "from", prev.ARN, "to", next.ARN)
	} else {
		log.Info(log.CatStore, "Selected profile", "id", id, "arn", next.ARN)
	}
	span.AddEvent(tracing.EventSelectionChanged)

	delivered := s.notifier.Publish(Selected{Endpoint: endpoint, Region: region, ProfileARN: next.ARN})
	log.Debug(log.CatNotify, "Published profile selection", "arn", next.ARN, "subscribers", delivered)
	tracing.End(span, nil)
	return true, nil
}

// Prune forgets the selection for id without announcing anything.
func (s *SelectionStore) Prune(ctx context.Context, id identity.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[id]; !ok {
		return false, nil
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("deleting active profile: %w", err)
	}
	delete(s.active, id)
	log.Info(log.CatStore, "Pruned profile selection", "id", id)
	return true, nil
}

// Snapshot returns a copy of every selection.
func (s *SelectionStore) Snapshot() map[identity.ID]Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.active)
}

// PruneOnDisconnect prunes the selection of every identity reported as
// disconnected on events. It returns when ctx is done or events closes.
func (s *SelectionStore) PruneOnDisconnect(ctx context.Context, events <-chan pubsub.Event[identity.Connection]) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != pubsub.DisconnectedEvent {
				continue
			}
			if _, err := s.Prune(ctx, ev.Payload.ID); err != nil {
				log.ErrorErr(log.CatStore, "Pruning selection failed", err, "id", ev.Payload.ID)
			}
		}
	}
}

// MemoryRepository is a Repository kept in memory.
type MemoryRepository struct {
	mu      sync.Mutex
	entries map[identity.ID]Profile
	// SaveErr, when set, fails every Save.
	SaveErr error
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[identity.ID]Profile)}
}

func (r *MemoryRepository) LoadAll(context.Context) (map[identity.ID]Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.entries), nil
}

func (r *MemoryRepository) Save(_ context.Context, id identity.ID, p Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SaveErr != nil {
		return r.SaveErr
	}
	r.entries[id] = p
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id identity.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	return nil
}
