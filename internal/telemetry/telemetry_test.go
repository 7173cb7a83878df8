package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatalf("disabled Init should not fail: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{Enabled: true}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewTracerProviderEmitsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()

	tp, err := NewTracerProvider(exp, Config{ServiceName: "taskforge", ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("new tracer provider: %v", err)
	}

	_, sp := tp.Tracer(InstrumentationName).Start(context.Background(), "tool.execute")
	sp.End()

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "tool.execute" {
		t.Errorf("unexpected span name %q", spans[0].Name)
	}

	found := false
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == attribute.Key("service.name") && kv.Value.AsString() == "taskforge" {
			found = true
		}
	}
	if !found {
		t.Error("expected resource to include service.name=taskforge")
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
