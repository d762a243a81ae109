package tracing

import (
	"context"
	"testing"
)

func TestInitTracer_NoEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, tracer, err := InitTracer(ctx, "")
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	defer tp.Shutdown(ctx)

	_, span := tracer.Start(ctx, "probe")
	if !span.SpanContext().IsValid() {
		t.Fatal("expected a recording span with a valid context")
	}
	span.End()
}

func TestInitTracer_WithEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, ep := range []string{"localhost:4317", "http://localhost:4317"} {
		tp, _, err := InitTracer(ctx, ep)
		if err != nil {
			t.Fatalf("InitTracer(%q): %v", ep, err)
		}
		tp.Shutdown(ctx)
	}
}
