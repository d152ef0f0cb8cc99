// Package app wires identity, discovery, selection and the client pool
// into one process-wide object.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zjrosen/qprofile/internal/backend"
	"github.com/zjrosen/qprofile/internal/cachemanager"
	"github.com/zjrosen/qprofile/internal/config"
	"github.com/zjrosen/qprofile/internal/connpool"
	"github.com/zjrosen/qprofile/internal/identity"
	"github.com/zjrosen/qprofile/internal/infrastructure/sqlite"
	"github.com/zjrosen/qprofile/internal/log"
	"github.com/zjrosen/qprofile/internal/profile"
	"github.com/zjrosen/qprofile/internal/pubsub"
	"github.com/zjrosen/qprofile/internal/tracing"
)

// ErrUnsupportedClient is returned when a pooled handle lacks the
// operation requested of it.
var ErrUnsupportedClient = errors.New("app: pooled client does not support operation")

// Deps overrides the collaborators New would otherwise build from config.
// Zero fields use the defaults.
type Deps struct {
	Identity     *identity.Manager
	Repository   profile.Repository
	Listers      backend.ListerFactory
	Constructors map[connpool.Kind]connpool.Constructor
}

// App owns every long-lived component.
type App struct {
	cfg config.Config

	identity     *identity.Manager
	ownsIdentity bool
	db           *sqlite.DB
	notifier     *pubsub.Notifier[profile.Selected]
	store        *profile.SelectionStore
	dir          *profile.Directory
	service      *profile.Service
	pool         *connpool.Pool
	tracer       *tracing.Provider

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New builds the application. The returned App must be closed.
func New(ctx context.Context, cfg config.Config, deps Deps) (*App, error) {
	tracer, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("starting tracing: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a := &App{cfg: cfg, tracer: tracer, ctx: runCtx, cancel: cancel}

	a.identity = deps.Identity
	if a.identity == nil {
		a.identity = identity.NewManager(cfg.Identity.TokenFile)
		a.ownsIdentity = true
		if err := a.identity.Reload(); err != nil {
			log.Debug(log.CatIdentity, "Starting without a connection", "error", err)
		}
	}

	repo := deps.Repository
	if repo == nil {
		db, err := sqlite.NewDB(cfg.Selection.DBPath)
		if err != nil {
			a.abort()
			return nil, fmt.Errorf("opening selection database: %w", err)
		}
		a.db = db
		repo = db.SelectionRepository(cfg.Selection.Component)
	}

	a.notifier = pubsub.NewNotifier[profile.Selected]()
	a.store = profile.NewSelectionStore(repo, a.notifier,
		profile.WithNotifyOnReselect(cfg.Selection.NotifyOnReselect))
	if err := a.store.Load(ctx); err != nil {
		a.abort()
		return nil, fmt.Errorf("loading selections: %w", err)
	}

	listers := deps.Listers
	factory := backend.NewFactory(clientOptions(cfg.Client))
	if listers == nil {
		listers = factory
	}

	var cache cachemanager.CacheManager[identity.ID, *profile.Discovery]
	if cfg.Discovery.CacheTTL > 0 {
		cache = cachemanager.NewInMemoryCacheManager[identity.ID, *profile.Discovery](
			"discovery", cfg.Discovery.CacheTTL, cachemanager.DefaultCleanupInterval)
	}
	a.dir = profile.NewDirectory(cfg.DirectoryConfig(), listers, cache)
	a.service = profile.NewService(a.identity, a.dir, a.store)

	fallback := backend.Binding{Endpoint: cfg.Client.DefaultEndpoint, Region: cfg.Client.DefaultRegion}
	a.pool = connpool.New(a.notifier, a.service, fallback)

	constructors := map[connpool.Kind]connpool.Constructor{
		connpool.KindRuntime: func(_ context.Context, b backend.Binding) (connpool.Handle, error) {
			return factory.NewRuntime(b, a.identity)
		},
		connpool.KindStreaming: func(_ context.Context, b backend.Binding) (connpool.Handle, error) {
			return factory.NewStreaming(b, a.identity)
		},
	}
	for kind, c := range deps.Constructors {
		constructors[kind] = c
	}
	for _, kind := range []connpool.Kind{connpool.KindRuntime, connpool.KindStreaming} {
		if err := a.pool.Register(kind, constructors[kind]); err != nil {
			a.abort()
			return nil, err
		}
	}

	a.listenForIdentity()
	return a, nil
}

func clientOptions(c config.ClientConfig) backend.Options {
	opts := backend.DefaultOptions()
	opts.MaxRetries = c.MaxRetries
	if c.RequestTimeout > 0 {
		opts.RequestTimeout = c.RequestTimeout
	}
	return opts
}

// listenForIdentity prunes the selection and drops cached discovery of
// every identity that goes away, and rebinds pooled clients to whatever
// the new identity has selected.
func (a *App) listenForIdentity() {
	prune := a.identity.Events(a.ctx)
	changes := a.identity.Events(a.ctx)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.store.PruneOnDisconnect(a.ctx, prune)
	}()
	go func() {
		defer a.wg.Done()
		for ev := range changes {
			switch ev.Type {
			case pubsub.DisconnectedEvent:
				a.dir.Invalidate(a.ctx, ev.Payload.ID)
				a.pool.Rebind()
			case pubsub.ConnectedEvent:
				a.pool.Rebind()
			}
		}
	}()
}

// abort releases what New acquired before it failed.
func (a *App) abort() {
	_ = a.Close()
}

// Config returns the configuration the app was built with.
func (a *App) Config() config.Config { return a.cfg }

// Identity returns the connection manager.
func (a *App) Identity() *identity.Manager { return a.identity }

// Service returns the profile service.
func (a *App) Service() *profile.Service { return a.service }

// Store returns the selection store.
func (a *App) Store() *profile.SelectionStore { return a.store }

// Notifier returns the selection notifier.
func (a *App) Notifier() *pubsub.Notifier[profile.Selected] { return a.notifier }

// Pool returns the client pool.
func (a *App) Pool() *connpool.Pool { return a.pool }

type completer interface {
	GenerateCompletions(ctx context.Context, in backend.CompletionsInput) (*backend.CompletionsOutput, error)
}

type exporter interface {
	ExportResultArchive(ctx context.Context, in backend.ExportInput, h backend.ExportHandlers) (*backend.ExportResult, error)
}

// Complete requests completions through the pooled runtime client.
func (a *App) Complete(ctx context.Context, in backend.CompletionsInput) (*backend.CompletionsOutput, error) {
	var out *backend.CompletionsOutput
	err := a.pool.With(ctx, connpool.KindRuntime, func(h connpool.Handle) error {
		c, ok := h.(completer)
		if !ok {
			return fmt.Errorf("%w: completions", ErrUnsupportedClient)
		}
		var err error
		out, err = c.GenerateCompletions(ctx, in)
		return err
	})
	return out, err
}

// Export streams an archive through the pooled streaming client.
func (a *App) Export(ctx context.Context, in backend.ExportInput, h backend.ExportHandlers) (*backend.ExportResult, error) {
	var out *backend.ExportResult
	err := a.pool.With(ctx, connpool.KindStreaming, func(handle connpool.Handle) error {
		e, ok := handle.(exporter)
		if !ok {
			return fmt.Errorf("%w: export", ErrUnsupportedClient)
		}
		var err error
		out, err = e.ExportResultArchive(ctx, in, h)
		return err
	})
	return out, err
}

// Watch follows the token file and refreshes discovery on every new
// connection until ctx is done.
func (a *App) Watch(ctx context.Context) error {
	events := a.identity.Events(ctx)
	if a.cfg.Identity.TokenFile != "" {
		if err := a.identity.Watch(ctx, a.cfg.Identity.WatchDebounce); err != nil {
			return fmt.Errorf("watching token file: %w", err)
		}
	}

	a.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == pubsub.ConnectedEvent {
				a.refresh(ctx)
			}
		}
	}
}

func (a *App) refresh(ctx context.Context) {
	disc, err := a.service.Refresh(ctx, false)
	switch {
	case errors.Is(err, identity.ErrNoConnection), errors.Is(err, profile.ErrNotApplicable):
		log.Debug(log.CatProfile, "Skipping discovery", "reason", err)
	case err != nil:
		log.ErrorErr(log.CatProfile, "Refresh failed", err)
	default:
		log.Info(log.CatProfile, "Discovered profiles", "count", len(disc.Profiles()))
	}
}

// Close disposes the pool and releases storage and tracing. Safe to call
// more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.cancel()
		if a.pool != nil {
			a.pool.Dispose()
		}
		if a.ownsIdentity && a.identity != nil {
			a.identity.Close()
		}
		a.wg.Wait()
		if a.notifier != nil {
			a.notifier.Close()
		}

		var errs []error
		if a.db != nil {
			errs = append(errs, a.db.Close())
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.tracer.Shutdown(shutdownCtx))
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
