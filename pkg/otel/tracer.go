// Package otel 为上下文管理器、会话和工具调用提供追踪、指标与日志
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer 创建 span
//
// 组装、文件写入、LLM 调用和工具执行各自开一个 span，
// 禁用追踪时使用 NoopTracer，调用方无需判空。
type Tracer interface {
	Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
	SpanFromContext(ctx context.Context) Span
}

// Span 单个操作的追踪区间
type Span interface {
	End()
	SetAttributes(attrs ...attribute.KeyValue)
	AddEvent(name string, attrs ...attribute.KeyValue)
	RecordError(err error)
	SetStatus(code StatusCode, description string)
	SpanContext() SpanContext
}

// SpanContext 用于日志关联的追踪标识，未采样时为空
type SpanContext struct {
	TraceID string
	SpanID  string
}

// StatusCode span 状态
type StatusCode int

const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

// SpanKind span 角色
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	// SpanKindServer HTTP 接口的入站请求
	SpanKindServer
	// SpanKindClient 对 LLM 服务的出站调用
	SpanKindClient
)

type spanConfig struct {
	kind  trace.SpanKind
	attrs []attribute.KeyValue
}

// SpanOption span 启动选项
type SpanOption func(*spanConfig)

func WithSpanKind(kind SpanKind) SpanOption {
	return func(c *spanConfig) {
		switch kind {
		case SpanKindServer:
			c.kind = trace.SpanKindServer
		case SpanKindClient:
			c.kind = trace.SpanKindClient
		default:
			c.kind = trace.SpanKindInternal
		}
	}
}

func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(c *spanConfig) {
		c.attrs = append(c.attrs, attrs...)
	}
}

// Fail 把 err 记入 span 并标记为失败，err 为 nil 时标记成功
func Fail(span Span, err error) {
	if err == nil {
		span.SetStatus(StatusOK, "")
		return
	}
	span.RecordError(err)
	span.SetAttributes(ErrorKind(err))
	span.SetStatus(StatusError, err.Error())
}

// OTelTracer 基于 OpenTelemetry SDK 的实现
type OTelTracer struct {
	tracer trace.Tracer
}

func NewTracer(tracer trace.Tracer) *OTelTracer {
	return &OTelTracer{tracer: tracer}
}

func (t *OTelTracer) Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	cfg := spanConfig{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(cfg.kind), trace.WithAttributes(cfg.attrs...))
	return ctx, otelSpan{span}
}

func (t *OTelTracer) SpanFromContext(ctx context.Context) Span {
	return otelSpan{trace.SpanFromContext(ctx)}
}

type otelSpan struct {
	trace.Span
}

func (s otelSpan) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.Span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (s otelSpan) End() { s.Span.End() }

func (s otelSpan) SetStatus(code StatusCode, description string) {
	switch code {
	case StatusOK:
		s.Span.SetStatus(codes.Ok, description)
	case StatusError:
		s.Span.SetStatus(codes.Error, description)
	default:
		s.Span.SetStatus(codes.Unset, description)
	}
}

func (s otelSpan) RecordError(err error) { s.Span.RecordError(err) }

func (s otelSpan) SpanContext() SpanContext {
	sc := s.Span.SpanContext()
	if !sc.IsValid() {
		return SpanContext{}
	}
	return SpanContext{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String()}
}

// NoopTracer 追踪关闭时使用
type NoopTracer struct{}

func NewNoopTracer() *NoopTracer { return &NoopTracer{} }

func (*NoopTracer) Start(ctx context.Context, _ string, _ ...SpanOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (*NoopTracer) SpanFromContext(context.Context) Span { return noopSpan{} }

type noopSpan struct{}

func (noopSpan) End()                                   {}
func (noopSpan) SetAttributes(...attribute.KeyValue)    {}
func (noopSpan) AddEvent(string, ...attribute.KeyValue) {}
func (noopSpan) RecordError(error)                      {}
func (noopSpan) SetStatus(StatusCode, string)           {}
func (noopSpan) SpanContext() SpanContext               { return SpanContext{} }

var (
	_ Tracer = (*OTelTracer)(nil)
	_ Tracer = (*NoopTracer)(nil)
	_ Span   = otelSpan{}
	_ Span   = noopSpan{}
)
