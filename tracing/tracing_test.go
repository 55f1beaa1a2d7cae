package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// newTestConfig returns a Config backed by an in-memory span recorder.
func newTestConfig(t *testing.T) (*Config, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return &Config{TracerProvider: tp}, rec
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartCreatesSpan(t *testing.T) {
	cfg, rec := newTestConfig(t)

	_, span := Start(context.Background(), cfg, "lookup", attribute.String("cache.key", "abc"))
	Hit(span, "memory")
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	got := spans[0]
	if got.Name() != "cache.lookup" {
		t.Fatalf("span name = %q", got.Name())
	}
	if got.SpanKind() != trace.SpanKindInternal {
		t.Fatalf("span kind = %v", got.SpanKind())
	}
	if v, ok := attrValue(got.Attributes(), "cache.tier"); !ok || v.AsString() != "memory" {
		t.Fatalf("cache.tier attribute missing or wrong: %v", got.Attributes())
	}
	if got.Status().Code != codes.Ok {
		t.Fatalf("status = %v", got.Status())
	}
}

func TestFailRecordsError(t *testing.T) {
	cfg, rec := newTestConfig(t)

	_, span := Start(context.Background(), cfg, "store")
	Fail(span, errors.New("disk full"))
	span.End()

	got := rec.Ended()[0]
	if got.Status().Code != codes.Error {
		t.Fatalf("status = %v", got.Status())
	}
	if len(got.Events()) == 0 {
		t.Fatal("expected a recorded error event")
	}
}

func TestNilConfigIsNoop(t *testing.T) {
	ctx, span := Start(context.Background(), nil, "lookup")
	Miss(span)
	span.End()

	if span.SpanContext().IsValid() {
		t.Fatal("nil config must not produce a recording span")
	}
	if ctx == nil {
		t.Fatal("context must still be returned")
	}
}
