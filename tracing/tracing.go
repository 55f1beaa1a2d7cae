// Package tracing provides OpenTelemetry spans around cache operations. It
// is entirely optional: a nil [Config] produces no-op spans, so the cache
// never pays for tracing that nobody wired in.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds the OpenTelemetry configuration used by the cache.
type Config struct {
	// TracerProvider supplies the Tracer used to create spans. When nil the
	// global otel.GetTracerProvider() is used.
	TracerProvider trace.TracerProvider
}

// tracer returns a configured [trace.Tracer].
func (c *Config) tracer() trace.Tracer {
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer("github.com/promptpipe/enhancecache")
}

var noopTracer = noop.NewTracerProvider().Tracer("")

// Start opens a span for one cache operation. A nil cfg yields a no-op
// span, so call sites need no branching.
func Start(ctx context.Context, cfg *Config, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if cfg == nil {
		return noopTracer.Start(ctx, op)
	}
	ctx, span := cfg.tracer().Start(ctx, "cache."+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attrs...)
	return ctx, span
}

// Hit marks the span as resolved from cache at the given tier.
func Hit(span trace.Span, tier string) {
	span.SetAttributes(
		attribute.Bool("cache.hit", true),
		attribute.String("cache.tier", tier),
	)
	span.SetStatus(codes.Ok, "")
}

// Miss marks the span as fallen through to the pipeline.
func Miss(span trace.Span) {
	span.SetAttributes(attribute.Bool("cache.hit", false))
	span.SetStatus(codes.Ok, "")
}

// Fail records an error on the span. Cache failures never propagate to the
// caller, so this is the only place they stay visible per-request.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
