package otel_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/easyops/ctxwindow-go/pkg/core/config"
	"github.com/easyops/ctxwindow-go/pkg/otel"
)

func TestDefaultConfig(t *testing.T) {
	cfg := otel.DefaultConfig()

	if cfg.Enabled {
		t.Fatal("expected Enabled to be false by default")
	}
	if cfg.ServiceName != "ctxwindow" {
		t.Fatalf("expected ServiceName 'ctxwindow', got %s", cfg.ServiceName)
	}
	if cfg.Tracing.Exporter != otel.ExporterOTLPGRPC {
		t.Fatalf("expected tracing exporter otlp-grpc, got %s", cfg.Tracing.Exporter)
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Fatalf("expected SampleRate 1.0, got %f", cfg.Tracing.SampleRate)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("expected info/text logging, got %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    otel.Config
		expectErr bool
	}{
		{
			name:   "valid config",
			config: otel.DefaultConfig(),
		},
		{
			name:      "invalid sample rate - negative",
			config:    otel.Config{Tracing: otel.TracingConfig{SampleRate: -0.1}},
			expectErr: true,
		},
		{
			name:      "invalid sample rate - too high",
			config:    otel.Config{Tracing: otel.TracingConfig{SampleRate: 1.5}},
			expectErr: true,
		},
		{
			name:   "valid sample rate - zero",
			config: otel.Config{Tracing: otel.TracingConfig{SampleRate: 0.0}},
		},
		{
			name:      "unknown tracing exporter",
			config:    otel.Config{Tracing: otel.TracingConfig{Exporter: "zipkin"}},
			expectErr: true,
		},
		{
			name:      "unknown log level",
			config:    otel.Config{Logging: otel.LoggingConfig{Level: "verbose"}},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestConfig_WithDefaults_PreservesSetValues(t *testing.T) {
	cfg := otel.Config{
		ServiceName: "custom",
		Tracing:     otel.TracingConfig{Endpoint: "collector:4317", SampleRate: 0.5},
		Logging:     otel.LoggingConfig{Level: "debug"},
	}.WithDefaults()

	if cfg.ServiceName != "custom" {
		t.Fatalf("expected ServiceName 'custom', got %s", cfg.ServiceName)
	}
	if cfg.Tracing.Endpoint != "collector:4317" {
		t.Fatalf("expected endpoint to be preserved, got %s", cfg.Tracing.Endpoint)
	}
	if cfg.Tracing.SampleRate != 0.5 {
		t.Fatalf("expected SampleRate 0.5, got %f", cfg.Tracing.SampleRate)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Fatalf("expected default format text, got %s", cfg.Logging.Format)
	}
}

func TestFromObservabilityConfig(t *testing.T) {
	cfg := otel.FromObservabilityConfig(config.ObservabilityConfig{
		Enabled:    true,
		Exporter:   "stdout",
		Endpoint:   "otel:4318",
		SampleRate: 0.25,
		LogLevel:   "warn",
		LogFormat:  "json",
	})

	if !cfg.Enabled || !cfg.Tracing.Enabled || !cfg.Metrics.Enabled {
		t.Fatalf("expected tracing and metrics enabled, got %+v", cfg)
	}
	if cfg.Tracing.Exporter != otel.ExporterStdout || cfg.Metrics.Exporter != otel.ExporterStdout {
		t.Fatalf("expected stdout exporters, got %s/%s", cfg.Tracing.Exporter, cfg.Metrics.Exporter)
	}
	if cfg.Tracing.Endpoint != "otel:4318" {
		t.Fatalf("expected endpoint otel:4318, got %s", cfg.Tracing.Endpoint)
	}
	if cfg.Tracing.SampleRate != 0.25 {
		t.Fatalf("expected SampleRate 0.25, got %f", cfg.Tracing.SampleRate)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Format != "json" {
		t.Fatalf("expected warn/json logging, got %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}

	secure := otel.FromObservabilityConfig(config.ObservabilityConfig{Endpoint: "https://collector.example.com:4318"})
	if secure.Tracing.Endpoint != "collector.example.com:4318" || secure.Tracing.Insecure || secure.Metrics.Insecure {
		t.Fatalf("https endpoint should be secure: %+v", secure.Tracing)
	}

	none := otel.FromObservabilityConfig(config.ObservabilityConfig{Enabled: true, Exporter: "none"})
	if none.Tracing.Enabled || none.Metrics.Enabled {
		t.Fatal("exporter none should leave tracing and metrics disabled")
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := otel.NewProvider(otel.DefaultConfig())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if _, ok := p.Tracer().(*otel.NoopTracer); !ok {
		t.Fatalf("expected NoopTracer, got %T", p.Tracer())
	}
	if _, ok := p.Metrics().(*otel.NoopMetrics); !ok {
		t.Fatalf("expected NoopMetrics, got %T", p.Metrics())
	}
	if p.Logger() == nil {
		t.Fatal("logger should always be set")
	}
}

func TestNewProvider_NoneExporter(t *testing.T) {
	cfg := otel.DefaultConfig()
	cfg.Enabled = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = otel.ExporterNone
	cfg.Metrics.Enabled = true
	cfg.Metrics.Exporter = otel.ExporterNone

	p, err := otel.NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	defer p.Shutdown(context.Background())

	if _, ok := p.Tracer().(*otel.NoopTracer); !ok {
		t.Fatalf("expected NoopTracer, got %T", p.Tracer())
	}
	if _, ok := p.Metrics().(*otel.NoopMetrics); !ok {
		t.Fatalf("expected NoopMetrics, got %T", p.Metrics())
	}
}

func TestNewProvider_StdoutExporter(t *testing.T) {
	cfg := otel.DefaultConfig()
	cfg.Enabled = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = otel.ExporterStdout
	cfg.Metrics.Enabled = true
	cfg.Metrics.Exporter = otel.ExporterStdout

	p, err := otel.NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	defer p.Shutdown(context.Background())

	if _, ok := p.Tracer().(*otel.OTelTracer); !ok {
		t.Fatalf("expected OTelTracer, got %T", p.Tracer())
	}
	if _, ok := p.Metrics().(*otel.OTelMetrics); !ok {
		t.Fatalf("expected OTelMetrics, got %T", p.Metrics())
	}
}

func TestNewProvider_UnknownExporter(t *testing.T) {
	cfg := otel.DefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.Exporter = "prometheus"

	_, err := otel.NewProvider(cfg)
	if !errors.Is(err, otel.ErrUnknownExporter) || !errors.Is(err, otel.ErrInvalidConfig) {
		t.Fatalf("expected ErrUnknownExporter, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := otel.NewLogger(otel.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("hidden")
	logger.With("path", "a.ts").Warn("shown", "tokens", 12)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered at warn level: %s", out)
	}
	for _, want := range []string{`"msg":"shown"`, `"path":"a.ts"`, `"tokens":12`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %s", want, out)
		}
	}

	if _, err := otel.NewLogger(otel.LoggingConfig{Format: "xml"}, &buf); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestSlogLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := otel.NewLogger(otel.LoggingConfig{Level: "debug", Format: "json", IncludeTraceID: true}, &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(tracetest.NewSpanRecorder()))
	defer tp.Shutdown(context.Background())
	ctx, span := otel.NewTracer(tp.Tracer("test")).Start(context.Background(), "context.assemble")
	defer span.End()

	logger.WithContext(ctx).Info("assembled")
	if !strings.Contains(buf.String(), `"trace_id":"`+span.SpanContext().TraceID+`"`) {
		t.Fatalf("trace id missing: %s", buf.String())
	}

	buf.Reset()
	logger.WithContext(context.Background()).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Fatalf("unexpected trace id: %s", buf.String())
	}
}
