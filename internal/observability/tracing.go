package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	dbTracerName   = "rostersync/db"
	syncTracerName = "rostersync/sync"
)

type contextKey string

const (
	connectorIDContextKey contextKey = "observability.connector_id"
	orgIDContextKey       contextKey = "observability.org_id"
	requestIDKey          contextKey = "observability.request_id"
	routeKey              contextKey = "observability.route"
)

// Span is the application-level tracing span contract.
type Span interface {
	End()
	RecordError(error)
}

type otelSpan struct {
	inner trace.Span
}

// StartDBSpan starts a database tracing span for one query operation.
func StartDBSpan(ctx context.Context, queryName, operation string) (context.Context, Span) {
	queryName = strings.TrimSpace(queryName)
	if queryName == "" {
		queryName = "unknown"
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.system.name", "sqlite"),
		attribute.String("db.query_name", queryName),
		attribute.String("db.operation", strings.TrimSpace(operation)),
	}
	attrs = appendIdentityAttrs(ctx, attrs)

	ctx, span := otel.Tracer(dbTracerName).Start(ctx, "db."+queryName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	return ctx, otelSpan{inner: span}
}

// StartSyncSpan starts a span covering one stage of a sync run.
func StartSyncSpan(ctx context.Context, stage string) (context.Context, Span) {
	attrs := appendIdentityAttrs(ctx, []attribute.KeyValue{
		attribute.String("sync.stage", stage),
	})
	ctx, span := otel.Tracer(syncTracerName).Start(ctx, "sync."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, otelSpan{inner: span}
}

// WithSyncIdentity enriches context and current span with connector/org
// attributes so every nested span and log line carries them.
func WithSyncIdentity(ctx context.Context, connectorID, orgID string) context.Context {
	connectorID = strings.TrimSpace(connectorID)
	orgID = strings.TrimSpace(orgID)
	if connectorID != "" {
		ctx = context.WithValue(ctx, connectorIDContextKey, connectorID)
	}
	if orgID != "" {
		ctx = context.WithValue(ctx, orgIDContextKey, orgID)
	}
	setSpanIdentityAttributes(ctx, connectorID, orgID)
	return ctx
}

// WithRequestMetadata enriches context and current span with request metadata.
func WithRequestMetadata(ctx context.Context, requestID, route string) context.Context {
	requestID = strings.TrimSpace(requestID)
	route = strings.TrimSpace(route)
	if requestID != "" {
		ctx = context.WithValue(ctx, requestIDKey, requestID)
	}
	if route != "" {
		ctx = context.WithValue(ctx, routeKey, route)
	}
	setSpanRequestAttributes(ctx, requestID, route)
	return ctx
}

// ConnectorIDFromContext extracts the connector the work runs on behalf of.
func ConnectorIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(connectorIDContextKey).(string)
	return value, ok && value != ""
}

// OrgIDFromContext extracts the active organization id.
func OrgIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(orgIDContextKey).(string)
	return value, ok && value != ""
}

// RequestIDFromContext extracts request id.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(requestIDKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// RouteFromContext extracts normalized route path.
func RouteFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(routeKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func appendIdentityAttrs(ctx context.Context, attrs []attribute.KeyValue) []attribute.KeyValue {
	if connectorID, ok := ConnectorIDFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("rostersync.connector_id", connectorID))
	}
	if orgID, ok := OrgIDFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("rostersync.org_id", orgID))
	}
	return attrs
}

func setSpanIdentityAttributes(ctx context.Context, connectorID, orgID string) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, 2)
	if connectorID != "" {
		attrs = append(attrs, attribute.String("rostersync.connector_id", connectorID))
	}
	if orgID != "" {
		attrs = append(attrs, attribute.String("rostersync.org_id", orgID))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

func setSpanRequestAttributes(ctx context.Context, requestID, route string) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, 2)
	if requestID != "" {
		attrs = append(attrs, attribute.String("request.id", requestID))
	}
	if route != "" {
		attrs = append(attrs, attribute.String("http.route", route))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

func (s otelSpan) End() {
	if s.inner == nil {
		return
	}
	s.inner.End()
}

func (s otelSpan) RecordError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}
