package otel

import (
	"context"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/llm"
	"go.opentelemetry.io/otel/attribute"
)

// TracedProvider 每次 Generate 产生一个 llm.generate span，并按 provider、model 维度计数
type TracedProvider struct {
	provider llm.Provider
	tracer   Tracer
	metrics  Metrics
}

type TracedProviderOption func(*TracedProvider)

// WithTracedProviderTracer 设置创建 llm.generate span 的追踪器
func WithTracedProviderTracer(tracer Tracer) TracedProviderOption {
	return func(p *TracedProvider) { p.tracer = tracer }
}

func WithTracedProviderMetrics(metrics Metrics) TracedProviderOption {
	return func(p *TracedProvider) { p.metrics = metrics }
}

// NewTracedProvider 包装模型调用，为每次 Generate 记录 span 和指标
//
// 未设置的追踪器和指标使用空实现。
func NewTracedProvider(provider llm.Provider, opts ...TracedProviderOption) *TracedProvider {
	tp := &TracedProvider{provider: provider, tracer: NewNoopTracer(), metrics: NewNoopMetrics()}
	for _, opt := range opts {
		opt(tp)
	}
	return tp
}

func (p *TracedProvider) Name() string  { return p.provider.Name() }
func (p *TracedProvider) Model() string { return p.provider.Model() }
func (p *TracedProvider) Close() error  { return p.provider.Close() }

func (p *TracedProvider) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	ctx, span := p.tracer.Start(ctx, "llm.generate",
		WithSpanKind(SpanKindClient),
		WithAttributes(
			LLMProvider(p.provider.Name()),
			LLMModel(p.provider.Model()),
			attribute.Int(AttrMessageCount, len(req.Messages)),
		),
	)
	defer span.End()

	started := time.Now()
	resp, err := p.provider.Generate(ctx, req)
	elapsed := float64(time.Since(started).Microseconds()) / 1000

	dims := []Attr{NewAttr("provider", p.provider.Name()), NewAttr("model", p.provider.Model())}
	p.metrics.Histogram(MetricLLMRequestDuration).Record(ctx, elapsed, dims...)
	p.metrics.Counter(MetricLLMRequests).Add(ctx, 1, append(dims, NewAttr("status", status(err == nil)))...)
	if err != nil {
		p.metrics.Counter(MetricLLMErrors).Add(ctx, 1, dims...)
		Fail(span, err)
		return resp, err
	}

	usage := resp.TokenUsage
	p.metrics.Counter(MetricLLMTokensPrompt).Add(ctx, int64(usage.PromptTokens), dims...)
	p.metrics.Counter(MetricLLMTokensCompletion).Add(ctx, int64(usage.CompletionTokens), dims...)
	p.metrics.Counter(MetricLLMTokensTotal).Add(ctx, int64(usage.TotalTokens), dims...)
	if resp.Truncated() {
		p.metrics.Counter(MetricLLMTruncated).Add(ctx, 1, dims...)
	}

	span.SetAttributes(LLMTokens(usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)...)
	span.AddEvent("llm.response", attribute.String("finish_reason", resp.FinishReason))
	Fail(span, nil)
	return resp, nil
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// ToolExecutor 被 TracedExecutor 包装的执行器
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) ToolResult
}

// ToolResult 执行结果的只读视图
type ToolResult interface {
	Name() string
	IsSuccess() bool
	Output() string
	Error() error
}

// TracedExecutor 每次调用产生一个 tool.execute span，按工具名计数和计时
type TracedExecutor struct {
	executor ToolExecutor
	tracer   Tracer
	metrics  Metrics
}

// NewTracedExecutor tracer 或 metrics 为 nil 时使用 noop 实现
func NewTracedExecutor(executor ToolExecutor, tracer Tracer, metrics Metrics) *TracedExecutor {
	if tracer == nil {
		tracer = NewNoopTracer()
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	return &TracedExecutor{executor: executor, tracer: tracer, metrics: metrics}
}

func (e *TracedExecutor) Execute(ctx context.Context, name string, args map[string]any) ToolResult {
	ctx, span := e.tracer.Start(ctx, "tool.execute", WithAttributes(ToolName(name)))
	defer span.End()

	started := time.Now()
	result := e.executor.Execute(ctx, name, args)
	elapsed := time.Since(started)

	tool := NewAttr("tool", name)
	ok := result.IsSuccess()
	if ok {
		Fail(span, nil)
	} else {
		e.metrics.Counter(MetricToolErrors).Add(ctx, 1, tool)
		if err := result.Error(); err != nil {
			Fail(span, err)
		}
	}
	e.metrics.Counter(MetricToolCalls).Add(ctx, 1, tool, NewAttr("status", status(ok)))
	e.metrics.Histogram(MetricToolCallDuration).Record(ctx, float64(elapsed.Microseconds())/1000, tool)
	span.SetAttributes(ToolDuration(elapsed.Milliseconds()))
	return result
}

// SessionTracer 一轮对话的 span 与会话级指标
type SessionTracer struct {
	tracer  Tracer
	metrics Metrics
}

func NewSessionTracer(tracer Tracer, metrics Metrics) *SessionTracer {
	if tracer == nil {
		tracer = NewNoopTracer()
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	return &SessionTracer{tracer: tracer, metrics: metrics}
}

// StartTurn 开始一轮对话的 span
func (st *SessionTracer) StartTurn(ctx context.Context, sessionID string, turn int) (context.Context, Span) {
	return st.tracer.Start(ctx, "session.turn",
		WithSpanKind(SpanKindInternal),
		WithAttributes(
			SessionID(sessionID),
			attribute.Int(AttrSessionTurn, turn),
		),
	)
}

// RecordAssembly 在当前 span 上记录一次上下文组装
func (st *SessionTracer) RecordAssembly(ctx context.Context, tokens, budget, loadedRefs int) {
	span := st.tracer.SpanFromContext(ctx)
	span.AddEvent("session.context_assembled",
		attribute.Int(AttrContextTokens, tokens),
		attribute.Int(AttrContextBudget, budget),
		attribute.Int(AttrContextLoadedRefs, loadedRefs),
	)
}

// RecordSnapshot 记录一次快照保存
func (st *SessionTracer) RecordSnapshot(ctx context.Context, sessionID string, size int) {
	st.metrics.Counter(MetricSnapshotSaves).Add(ctx, 1, NewAttr("session", sessionID))
	st.metrics.Histogram(MetricSnapshotBytes).Record(ctx, float64(size), NewAttr("session", sessionID))
	st.tracer.SpanFromContext(ctx).AddEvent("session.snapshot_saved",
		attribute.Int("snapshot.size", size),
	)
}

// FinishTurn 结束一轮对话的 span
func (st *SessionTracer) FinishTurn(ctx context.Context, span Span, err error, duration time.Duration) {
	Fail(span, err)
	if err != nil {
		st.metrics.Counter(MetricSessionErrors).Add(ctx, 1)
	}
	st.metrics.Counter(MetricSessionTurns).Add(ctx, 1)
	st.metrics.Histogram(MetricSessionTurnTime).Record(ctx, float64(duration.Milliseconds()))
	span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
	span.End()
}

var _ llm.Provider = (*TracedProvider)(nil)
