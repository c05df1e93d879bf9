package tracer

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace/noop"

	"forge-ai/internal/infra/config"
)

func TestSetupNoopPaths(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TracerConfig
	}{
		{"disabled", config.TracerConfig{Enabled: false, Exporter: "stdout"}},
		{"noop exporter", config.TracerConfig{Enabled: true, Exporter: "noop"}},
		{"empty exporter", config.TracerConfig{Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			defer shutdown(context.Background())
			if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
				t.Errorf("provider = %T, want noop", otel.GetTracerProvider())
			}
		})
	}
}

func TestSetupStdoutExporter(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "stdout"})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSetupRejectsUnknownExporter(t *testing.T) {
	if _, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "jaeger"}); err == nil {
		t.Fatal("want error for unknown exporter")
	}
}

func TestSpanHelpers(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())

	ctx, span := StartSpan(context.Background(), "loop.step")
	if ctx == nil {
		t.Fatal("nil context from StartSpan")
	}
	SetOK(span)
	RecordError(span, errors.New("provider timeout"))
	span.End()

	if got := StringAttr("tool.name", "shell"); got.Key != attribute.Key("tool.name") || got.Value.AsString() != "shell" {
		t.Errorf("StringAttr = %v", got)
	}
	if got := IntAttr("iteration", 7); got.Value.AsInt64() != 7 {
		t.Errorf("IntAttr = %v", got)
	}
}
