package otel

import (
	"context"
	stderrors "errors"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Provider 持有一个进程内共享的追踪器、指标和日志器
//
// 日志总是可用；追踪和指标只有在 Enabled 且对应导出器不是 none 时才接入 SDK，
// 其余情况返回 noop 实现。
type Provider struct {
	cfg     Config
	tracer  Tracer
	metrics Metrics
	logger  Logger

	mu        sync.Mutex
	shutdowns []func(context.Context) error
}

// NewProvider 按配置创建 Provider，日志写到 stderr
func NewProvider(cfg Config) (*Provider, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		cfg:     cfg,
		tracer:  NewNoopTracer(),
		metrics: NewNoopMetrics(),
		logger:  logger,
	}
	if !cfg.Enabled {
		return p, nil
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(cfg.Environment),
	))
	if err != nil {
		return nil, err
	}
	if cfg.Tracing.Enabled {
		if err := p.setupTracing(res); err != nil {
			return nil, err
		}
	}
	if cfg.Metrics.Enabled {
		if err := p.setupMetrics(res); err != nil {
			_ = p.Shutdown(context.Background())
			return nil, err
		}
	}
	return p, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

func (p *Provider) setupTracing(res *resource.Resource) error {
	exporter, err := newSpanExporter(context.Background(), p.cfg.Tracing)
	if err != nil || exporter == nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(p.cfg.Tracing.SampleRate)),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.tracer = NewTracer(tp.Tracer(p.cfg.ServiceName))
	p.shutdowns = append(p.shutdowns, tp.Shutdown)
	return nil
}

func (p *Provider) setupMetrics(res *resource.Resource) error {
	exporter, err := newMetricExporter(context.Background(), p.cfg.Metrics)
	if err != nil || exporter == nil {
		return err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(p.cfg.Metrics.Interval))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)

	p.metrics = NewOTelMetrics(mp.Meter(p.cfg.ServiceName))
	p.shutdowns = append(p.shutdowns, mp.Shutdown)
	return nil
}

func (p *Provider) Tracer() Tracer   { return p.tracer }
func (p *Provider) Metrics() Metrics { return p.metrics }
func (p *Provider) Logger() Logger   { return p.logger }

// Shutdown 刷新并关闭 SDK provider，可重复调用
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	fns := p.shutdowns
	p.shutdowns = nil
	p.mu.Unlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
