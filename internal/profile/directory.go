package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/qprofile/internal/backend"
	"github.com/zjrosen/qprofile/internal/cachemanager"
	"github.com/zjrosen/qprofile/internal/identity"
	"github.com/zjrosen/qprofile/internal/log"
	"github.com/zjrosen/qprofile/internal/tracing"
)

// maxPages bounds pagination against a backend that never stops
// returning continuation tokens.
const maxPages = 1000

// errPartialDiscovery keeps discoveries with a failed endpoint out of the
// cache.
var errPartialDiscovery = errors.New("profile: discovery incomplete")

// Source is what one endpoint contributed to a discovery.
type Source struct {
	Endpoint Endpoint
	// Raw counts records returned before ARN validation.
	Raw      int
	Profiles []Profile
	Err      error
}

// Discovery is the result of querying every endpoint, in endpoint order.
type Discovery struct {
	Sources   []Source
	FetchedAt time.Time
}

// Profiles returns every parsed profile in endpoint order, then backend
// order within an endpoint.
func (d *Discovery) Profiles() []Profile {
	if d == nil {
		return nil
	}
	var out []Profile
	for _, s := range d.Sources {
		out = append(out, s.Profiles...)
	}
	return out
}

// SingleSource returns the endpoint that contributed profiles when exactly
// one did.
func (d *Discovery) SingleSource() (Source, bool) {
	if d == nil {
		return Source{}, false
	}
	var (
		found Source
		count int
	)
	for _, s := range d.Sources {
		if len(s.Profiles) > 0 {
			found = s
			count++
		}
	}
	return found, count == 1
}

// Find returns the discovered profile with the given ARN.
func (d *Discovery) Find(profileARN string) (Profile, bool) {
	for _, p := range d.Profiles() {
		if p.ARN == profileARN {
			return p, true
		}
	}
	return Profile{}, false
}

// DirectoryConfig configures discovery.
type DirectoryConfig struct {
	Endpoints []Endpoint
	PageSize  int
	Timeout   time.Duration
	CacheTTL  time.Duration
}

// DefaultDirectoryConfig returns the discovery defaults.
func DefaultDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		Endpoints: DefaultEndpoints(),
		PageSize:  10,
		Timeout:   10 * time.Second,
		CacheTTL:  5 * time.Minute,
	}
}

// Directory queries the configured endpoints for the profiles visible to a
// connection. Endpoint failures never surface to the caller; they leave
// that endpoint's contribution empty.
type Directory struct {
	cfg     DirectoryConfig
	factory backend.ListerFactory
	cache   *cachemanager.ReadThroughCache[identity.ID, *Discovery, identity.Connection]
	now     func() time.Time
}

// NewDirectory creates a directory. A nil cache disables caching.
func NewDirectory(cfg DirectoryConfig, factory backend.ListerFactory, cache cachemanager.CacheManager[identity.ID, *Discovery]) *Directory {
	d := &Directory{cfg: cfg, factory: factory, now: time.Now}
	d.cache = cachemanager.NewReadThroughCache[identity.ID, *Discovery, identity.Connection](cache, d.fetch, cache == nil)
	return d
}

// Discover returns the profiles visible to conn. The bool is false when
// discovery does not apply to conn, which is different from an empty
// result.
func (d *Directory) Discover(ctx context.Context, conn identity.Connection) (*Discovery, bool) {
	if !conn.IsIdentityCenter() {
		log.Debug(log.CatProfile, "Discovery not applicable", "id", conn.ID, "kind", conn.Kind)
		return nil, false
	}
	disc, _ := d.cache.Get(ctx, conn.ID, conn, d.cfg.CacheTTL)
	return disc, true
}

// Reload is Discover without the cache.
func (d *Directory) Reload(ctx context.Context, conn identity.Connection) (*Discovery, bool) {
	if !conn.IsIdentityCenter() {
		return nil, false
	}
	disc, _ := d.cache.Reload(ctx, conn.ID, conn, d.cfg.CacheTTL)
	return disc, true
}

// Invalidate drops the cached discovery for id.
func (d *Directory) Invalidate(ctx context.Context, id identity.ID) {
	d.cache.Invalidate(ctx, id)
}

func (d *Directory) fetch(ctx context.Context, conn identity.Connection) (*Discovery, error) {
	ctx, span := tracing.Start(ctx, tracing.SpanDiscover, attribute.String(tracing.AttrConnectionID, conn.ID.String()))

	disc := &Discovery{
		Sources:   make([]Source, len(d.cfg.Endpoints)),
		FetchedAt: d.now(),
	}

	var g errgroup.Group
	for i, ep := range d.cfg.Endpoints {
		g.Go(func() error {
			disc.Sources[i] = d.fetchEndpoint(ctx, conn, ep)
			return nil
		})
	}
	_ = g.Wait()

	var err error
	total := 0
	for _, s := range disc.Sources {
		total += len(s.Profiles)
		if s.Err != nil {
			err = errPartialDiscovery
		}
	}
	span.SetAttributes(attribute.Int(tracing.AttrProfileCount, total))
	tracing.End(span, nil)

	if total == 0 {
		log.Debug(log.CatProfile, "No available profiles", "id", conn.ID)
	}
	return disc, err
}

func (d *Directory) fetchEndpoint(ctx context.Context, conn identity.Connection, ep Endpoint) Source {
	src := Source{Endpoint: ep}

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}
	ctx, span := tracing.Start(ctx, tracing.SpanDiscoverSource,
		attribute.String(tracing.AttrEndpoint, ep.URL),
		attribute.String(tracing.AttrRegion, ep.Region),
	)

	records, pages, err := d.listAll(ctx, conn, ep)
	span.SetAttributes(attribute.Int(tracing.AttrPageCount, pages))
	if err != nil {
		src.Err = err
		log.Debug(log.CatProfile, "Listing profiles failed", "endpoint", ep.URL, "region", ep.Region, "error", err)
		tracing.End(span, err)
		return src
	}

	src.Raw = len(records)
	src.Profiles = Parse(records, d.cfg.Endpoints, ep)
	span.SetAttributes(attribute.Int(tracing.AttrProfileCount, len(src.Profiles)))
	tracing.End(span, nil)
	log.Debug(log.CatProfile, "Listed profiles", "endpoint", ep.URL, "region", ep.Region, "count", len(src.Profiles), "raw", src.Raw)
	return src
}

// listAll pages through one endpoint with a client created for this call
// only.
func (d *Directory) listAll(ctx context.Context, conn identity.Connection, ep Endpoint) ([]backend.ProfileRecord, int, error) {
	lister, err := d.factory.NewProfileLister(ctx, backend.Binding{Endpoint: ep.URL, Region: ep.Region}, conn.Token)
	if err != nil {
		return nil, 0, fmt.Errorf("creating client for %s: %w", ep.URL, err)
	}
	defer func() {
		if cerr := lister.Close(); cerr != nil {
			log.Debug(log.CatProfile, "Closing discovery client", "endpoint", ep.URL, "error", cerr)
		}
	}()

	var (
		records []backend.ProfileRecord
		token   string
		pages   int
	)
	for {
		out, err := lister.ListAvailableProfiles(ctx, backend.ListProfilesInput{
			MaxResults: d.cfg.PageSize,
			NextToken:  token,
		})
		if err != nil {
			return nil, pages, err
		}
		pages++
		records = append(records, out.Profiles...)

		if out.NextToken == "" {
			return records, pages, nil
		}
		if pages >= maxPages {
			log.Warn(log.CatProfile, "Stopped paginating profiles", "endpoint", ep.URL, "pages", pages)
			return records, pages, nil
		}
		token = out.NextToken
	}
}
