package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("MESHTOPO_TRACING_ENABLED", "true")
	t.Setenv("TRACING_EXPORTER", "OTLP")
	t.Setenv("MESHTOPO_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("MESHTOPO_TRACING_SERVICE_NAME", "")
	t.Setenv("TRACING_SERVICE_NAME", "")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.ServiceName != "meshtopo" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestTracingConfigIgnoresBadRatio(t *testing.T) {
	t.Setenv("MESHTOPO_TRACING_SAMPLE_RATIO", "3")
	if cfg := TracingConfigFromEnv(); cfg.SampleRatio != 1 {
		t.Fatalf("SampleRatio = %v, want 1", cfg.SampleRatio)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "stdout", SampleRatio: 1, Output: &buf}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	_, span := Tracer().Start(context.Background(), "topology.compute")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if !strings.Contains(buf.String(), "topology.compute") {
		t.Fatalf("span not exported: %q", buf.String())
	}
}
