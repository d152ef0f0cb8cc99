package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrConnectionID = "identity.connection_id"
	AttrEndpoint     = "backend.endpoint"
	AttrRegion       = "backend.region"
	AttrProfileARN   = "profile.arn"
	AttrProfileCount = "profile.count"
	AttrPageCount    = "discovery.pages"
	AttrCacheHit     = "discovery.cache_hit"
	AttrClientKind   = "pool.client_kind"
	AttrOperation    = "backend.operation"
	AttrAttempt      = "backend.attempt"
	AttrStatusCode   = "http.status_code"
)

// Span names.
const (
	SpanDiscover       = "profile.discover"
	SpanDiscoverSource = "profile.discover.endpoint"
	SpanAutoSelect     = "profile.auto_select"
	SpanSetActive      = "profile.set_active"
	SpanPoolRebuild    = "pool.rebuild"
	SpanBackendCall    = "backend.call"
)

// Event names.
const (
	EventSelectionChanged = "selection.changed"
	EventSelectionNoop    = "selection.noop"
	EventHandleSwapped    = "pool.handle_swapped"
	EventRetry            = "backend.retry"
)

// Start opens a span on the global tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err, if any, sets the status and ends the span.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
