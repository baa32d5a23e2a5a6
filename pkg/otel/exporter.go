package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ExporterType 遥测导出方式
type ExporterType string

const (
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
	// ExporterStdout 打印到标准输出，调试窗口组装时使用
	ExporterStdout ExporterType = "stdout"
	// ExporterNone 不导出，对应的 SDK provider 不会被创建
	ExporterNone ExporterType = "none"
)

// Valid 是否为已知的导出方式
func (t ExporterType) Valid() bool {
	switch t {
	case ExporterOTLPGRPC, ExporterOTLPHTTP, ExporterStdout, ExporterNone:
		return true
	}
	return false
}

// otlpTarget 两类 OTLP 导出器共用的连接参数
type otlpTarget struct {
	endpoint string
	insecure bool
	timeout  time.Duration
}

func (t otlpTarget) check(kind ExporterType) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownExporter, kind)
	}
	if (kind == ExporterOTLPGRPC || kind == ExporterOTLPHTTP) && t.endpoint == "" {
		return ErrMissingEndpoint
	}
	return nil
}

func (t otlpTarget) dialOptions() []grpc.DialOption {
	if !t.insecure {
		return nil
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
}

// newSpanExporter 按追踪配置创建 span 导出器
func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	t := otlpTarget{endpoint: cfg.Endpoint, insecure: cfg.Insecure, timeout: cfg.Timeout}
	if err := t.check(cfg.Exporter); err != nil {
		return nil, err
	}

	switch cfg.Exporter {
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(t.endpoint)}
		if t.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if t.timeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(t.timeout))
		}
		return otlptracehttp.New(ctx, opts...)
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(t.endpoint)}
		if t.insecure {
			opts = append(opts, otlptracegrpc.WithInsecure(), otlptracegrpc.WithDialOption(t.dialOptions()...))
		}
		if t.timeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(t.timeout))
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	}
	return nil, nil
}

// newMetricExporter 按指标配置创建指标导出器
func newMetricExporter(ctx context.Context, cfg MetricsConfig) (sdkmetric.Exporter, error) {
	t := otlpTarget{endpoint: cfg.Endpoint, insecure: cfg.Insecure}
	if err := t.check(cfg.Exporter); err != nil {
		return nil, err
	}

	switch cfg.Exporter {
	case ExporterStdout:
		return stdoutmetric.New(stdoutmetric.WithPrettyPrint())
	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(t.endpoint)}
		if t.insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(t.endpoint)}
		if t.insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure(), otlpmetricgrpc.WithDialOption(t.dialOptions()...))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}
	return nil, nil
}
