package profile

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/qprofile/internal/backend"
	"github.com/zjrosen/qprofile/internal/identity"
	"github.com/zjrosen/qprofile/internal/log"
	"github.com/zjrosen/qprofile/internal/tracing"
)

// ErrNotApplicable is returned when the active connection is not one that
// profiles apply to.
var ErrNotApplicable = errors.New("profile: connection does not use profiles")

// ErrUnknownProfile is returned by Select for an ARN discovery did not
// return.
var ErrUnknownProfile = errors.New("profile: profile not available to this connection")

// ConnectionSource provides the active identity connection.
type ConnectionSource interface {
	Current() (identity.Connection, bool)
}

// Service composes discovery and selection for the active connection.
type Service struct {
	conns ConnectionSource
	dir   *Directory
	store *SelectionStore
}

// NewService creates a service.
func NewService(conns ConnectionSource, dir *Directory, store *SelectionStore) *Service {
	return &Service{conns: conns, dir: dir, store: store}
}

// Store returns the selection store.
func (s *Service) Store() *SelectionStore {
	return s.store
}

func (s *Service) connection() (identity.Connection, error) {
	conn, ok := s.conns.Current()
	if !ok {
		return identity.Connection{}, identity.ErrNoConnection
	}
	return conn, nil
}

// Discover lists the profiles for the active connection. force bypasses
// the discovery cache.
func (s *Service) Discover(ctx context.Context, force bool) (*Discovery, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	return s.discover(ctx, conn, force)
}

func (s *Service) discover(ctx context.Context, conn identity.Connection, force bool) (*Discovery, error) {
	var (
		disc *Discovery
		ok   bool
	)
	if force {
		disc, ok = s.dir.Reload(ctx, conn)
	} else {
		disc, ok = s.dir.Discover(ctx, conn)
	}
	if !ok {
		return nil, ErrNotApplicable
	}
	return disc, nil
}

// Refresh discovers profiles and auto-selects when a single endpoint
// contributed any.
func (s *Service) Refresh(ctx context.Context, force bool) (*Discovery, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	disc, err := s.discover(ctx, conn, force)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.AutoSelectIfSingleSource(ctx, conn.ID, disc); err != nil {
		return disc, err
	}
	return disc, nil
}

// AutoSelectIfSingleSource selects the first profile of the only endpoint
// that contributed profiles, bound to that endpoint. With zero or several
// contributing endpoints nothing is selected. A stored selection that is
// still offered by disc is kept and returned without a write.
func (s *Service) AutoSelectIfSingleSource(ctx context.Context, id identity.ID, disc *Discovery) (Profile, bool, error) {
	src, ok := disc.SingleSource()
	if !ok {
		return Profile{}, false, nil
	}
	if active, ok := s.store.Active(id); ok {
		if _, found := disc.Find(active.ARN); found {
			return active, false, nil
		}
		log.Debug(log.CatProfile, "Stored profile no longer offered", "connection", id.String(), "arn", active.ARN)
	}
	ctx, span := tracing.Start(ctx, tracing.SpanAutoSelect,
		attribute.String(tracing.AttrConnectionID, id.String()),
		attribute.String(tracing.AttrEndpoint, src.Endpoint.URL),
	)

	first := src.Profiles[0]
	log.Debug(log.CatProfile, "Auto-selecting profile from single endpoint", "endpoint", src.Endpoint.URL, "arn", first.ARN)
	if _, err := s.store.SetActive(ctx, id, first, src.Endpoint.URL, src.Endpoint.Region); err != nil {
		tracing.End(span, err)
		return Profile{}, false, err
	}
	tracing.End(span, nil)

	selected, _ := s.store.Active(id)
	return selected, true, nil
}

// Select makes the discovered profile with profileARN active for the
// active connection.
func (s *Service) Select(ctx context.Context, profileARN string) (Profile, bool, error) {
	if _, err := ParseARN(profileARN); err != nil {
		return Profile{}, false, err
	}
	conn, err := s.connection()
	if err != nil {
		return Profile{}, false, err
	}
	disc, err := s.discover(ctx, conn, false)
	if err != nil {
		return Profile{}, false, err
	}
	p, ok := disc.Find(profileARN)
	if !ok {
		return Profile{}, false, fmt.Errorf("%w: %s", ErrUnknownProfile, profileARN)
	}
	changed, err := s.store.SetActive(ctx, conn.ID, p, p.Endpoint, p.Region)
	if err != nil {
		return Profile{}, false, err
	}
	selected, _ := s.store.Active(conn.ID)
	return selected, changed, nil
}

// Current returns the selection for the active connection.
func (s *Service) Current() (Profile, bool, error) {
	conn, err := s.connection()
	if err != nil {
		return Profile{}, false, err
	}
	p, ok := s.store.Active(conn.ID)
	return p, ok, nil
}

// CurrentBinding returns the client binding of the active connection's
// selection.
func (s *Service) CurrentBinding() (backend.Binding, bool) {
	p, ok, err := s.Current()
	if err != nil || !ok {
		return backend.Binding{}, false
	}
	return backend.Binding{Endpoint: p.Endpoint, Region: p.Region, ProfileARN: p.ARN}, true
}
