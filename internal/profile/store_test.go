package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/qprofile/internal/identity"
	"github.com/zjrosen/qprofile/internal/pubsub"
)

const (
	idA identity.ID = "sso;us-east-1;https://a.awsapps.com/start"
	idB identity.ID = "sso;us-east-1;https://b.awsapps.com/start"

	urlPrimary   = "https://codewhisperer.us-east-1.amazonaws.com/"
	urlSecondary = "https://q.eu-central-1.amazonaws.com/"
)

type recorder struct {
	mu     sync.Mutex
	events []Selected
}

func (r *recorder) record(s Selected) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) all() []Selected {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Selected(nil), r.events...)
}

func newTestStore(t *testing.T, opts ...StoreOption) (*SelectionStore, *MemoryRepository, *recorder) {
	t.Helper()
	notifier := pubsub.NewNotifier[Selected]()
	t.Cleanup(notifier.Close)
	rec := &recorder{}
	notifier.Subscribe(context.Background(), rec.record)

	repo := NewMemoryRepository()
	return NewSelectionStore(repo, notifier, opts...), repo, rec
}

func profileA() Profile {
	return Profile{Name: "alpha", ARN: arnPrimaryA}
}

func TestSelectionStore_SetActiveRoundTrip(t *testing.T) {
	store, repo, rec := newTestStore(t)

	changed, err := store.SetActive(context.Background(), idA, profileA(), urlPrimary, "us-east-1")
	require.NoError(t, err)
	require.True(t, changed)

	want := Profile{Name: "alpha", AccountID: "111111111111", Region: "us-east-1", ARN: arnPrimaryA, Endpoint: urlPrimary}
	got, ok := store.Active(idA)
	require.True(t, ok)
	require.Equal(t, want, got)

	persisted, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, persisted[idA])

	require.Equal(t, []Selected{{Endpoint: urlPrimary, Region: "us-east-1", ProfileARN: arnPrimaryA}}, rec.all())

	_, ok = store.Active(idB)
	require.False(t, ok)
}

func TestSelectionStore_ReselectNotifiesOnce(t *testing.T) {
	store, _, rec := newTestStore(t)
	ctx := context.Background()

	changed, err := store.SetActive(ctx, idA, profileA(), urlPrimary, "us-east-1")
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = store.SetActive(ctx, idA, profileA(), urlPrimary, "us-east-1")
	require.NoError(t, err)
	require.False(t, changed)

	require.Len(t, rec.all(), 1)
}

func TestSelectionStore_ReselectNotifiesEveryTimeWhenConfigured(t *testing.T) {
	store, _, rec := newTestStore(t, WithNotifyOnReselect(true))
	ctx := context.Background()

	for range 2 {
		changed, err := store.SetActive(ctx, idA, profileA(), urlPrimary, "us-east-1")
		require.NoError(t, err)
		require.True(t, changed)
	}

	require.Len(t, rec.all(), 2)
}

func TestSelectionStore_DifferentEndpointIsAChange(t *testing.T) {
	store, _, rec := newTestStore(t)
	ctx := context.Background()

	_, err := store.SetActive(ctx, idA, profileA(), urlPrimary, "us-east-1")
	require.NoError(t, err)
	changed, err := store.SetActive(ctx, idA, profileA(), urlSecondary, "eu-central-1")
	require.NoError(t, err)
	require.True(t, changed)

	require.Len(t, rec.all(), 2)
}

func TestSelectionStore_InvalidARNRejected(t *testing.T) {
	store, repo, rec := newTestStore(t)

	changed, err := store.SetActive(context.Background(), idA, Profile{Name: "bad", ARN: "arn:aws:codewhisperer:us-east-1:1:profile/x"}, urlPrimary, "us-east-1")
	require.ErrorIs(t, err, ErrInvalidProfileARN)
	require.False(t, changed)

	_, ok := store.Active(idA)
	require.False(t, ok)
	persisted, _ := repo.LoadAll(context.Background())
	require.Empty(t, persisted)
	require.Empty(t, rec.all())
}

func TestSelectionStore_PersistFailureLeavesStateUnchanged(t *testing.T) {
	store, repo, rec := newTestStore(t)
	repo.SaveErr = errors.New("disk full")

	_, err := store.SetActive(context.Background(), idA, profileA(), urlPrimary, "us-east-1")
	require.ErrorContains(t, err, "disk full")

	_, ok := store.Active(idA)
	require.False(t, ok)
	require.Empty(t, rec.all())
}

func TestSelectionStore_LoadRestoresVerbatim(t *testing.T) {
	repo := NewMemoryRepository()
	// Stored entries are trusted even when they would not validate today.
	stale := Profile{Name: "legacy", AccountID: "x", Region: "r", ARN: "not-an-arn", Endpoint: "e"}
	require.NoError(t, repo.Save(context.Background(), idA, stale))

	store := NewSelectionStore(repo, pubsub.NewNotifier[Selected]())
	require.NoError(t, store.Load(context.Background()))

	got, ok := store.Active(idA)
	require.True(t, ok)
	require.Equal(t, stale, got)
}

func TestSelectionStore_PruneIsSilent(t *testing.T) {
	store, repo, rec := newTestStore(t)
	ctx := context.Background()

	_, err := store.SetActive(ctx, idA, profileA(), urlPrimary, "us-east-1")
	require.NoError(t, err)

	pruned, err := store.Prune(ctx, idA)
	require.NoError(t, err)
	require.True(t, pruned)

	pruned, err = store.Prune(ctx, idA)
	require.NoError(t, err)
	require.False(t, pruned)

	_, ok := store.Active(idA)
	require.False(t, ok)
	persisted, _ := repo.LoadAll(ctx)
	require.Empty(t, persisted)
	require.Len(t, rec.all(), 1, "prune must not publish")
}

func TestSelectionStore_PruneOnDisconnect(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := store.SetActive(ctx, idA, profileA(), urlPrimary, "us-east-1")
	require.NoError(t, err)
	_, err = store.SetActive(ctx, idB, Profile{Name: "beta", ARN: arnPrimaryB}, urlPrimary, "us-east-1")
	require.NoError(t, err)

	events := make(chan pubsub.Event[identity.Connection], 2)
	events <- pubsub.Event[identity.Connection]{Type: pubsub.ConnectedEvent, Payload: identity.Connection{ID: idB}}
	events <- pubsub.Event[identity.Connection]{Type: pubsub.DisconnectedEvent, Payload: identity.Connection{ID: idA}}
	close(events)

	store.PruneOnDisconnect(ctx, events)

	snap := store.Snapshot()
	require.Len(t, snap, 1)
	require.Contains(t, snap, idB)
}

func TestSelectionStore_SnapshotIsACopy(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := store.SetActive(context.Background(), idA, profileA(), urlPrimary, "us-east-1")
	require.NoError(t, err)

	snap := store.Snapshot()
	delete(snap, idA)

	_, ok := store.Active(idA)
	require.True(t, ok)
}

func TestSelectionStore_ConcurrentSelectionsPublishInCommitOrder(t *testing.T) {
	notifier := pubsub.NewNotifier[Selected]()
	defer notifier.Close()
	store := NewSelectionStore(NewMemoryRepository(), notifier)

	var (
		mu        sync.Mutex
		published []string
	)
	notifier.Subscribe(context.Background(), func(s Selected) {
		mu.Lock()
		published = append(published, s.ProfileARN)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := Profile{Name: "p", ARN: fmt.Sprintf("arn:aws:codewhisperer:us-east-1:%012d:profile/AAAAAAAAAAAA", i)}
			_, err := store.SetActive(context.Background(), idA, p, urlPrimary, "us-east-1")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 50)
	final, ok := store.Active(idA)
	require.True(t, ok)
	require.Equal(t, final.ARN, published[len(published)-1], "last announcement must match the stored selection")
}
