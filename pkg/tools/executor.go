package tools

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/errors"
	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/easyops/ctxwindow-go/pkg/otel"
)

// Executor 在超时与重试约束下执行注册表里的工具
type Executor struct {
	registry   *Registry
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
}

type ExecutorOption func(*Executor)

// NewExecutor 默认 30 秒超时，不重试
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{registry: registry, timeout: 30 * time.Second, retryDelay: time.Second}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithExecutorTimeout 单次调用（含重试）的总时限，0 表示不限
func WithExecutorTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithExecutorRetries 失败后最多再试 maxRetries 次，间隔固定
func WithExecutorRetries(maxRetries int, delay time.Duration) ExecutorOption {
	return func(e *Executor) { e.maxRetries, e.retryDelay = maxRetries, delay }
}

func (e *Executor) Registry() *Registry { return e.registry }

// Execute 校验参数后执行工具
//
// 参数不合法或命令被拦截时不重试。失败结果仍保留最后一次的部分输出。
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) ToolResult {
	tool, err := e.registry.Get(name)
	if err != nil {
		return NewToolError(name, err)
	}
	if err := validateArgs(tool, args); err != nil {
		return NewToolError(name, fmt.Errorf("%w: %v", errors.ErrInvalidToolArgs, err))
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	out, err := e.run(ctx, tool, args)
	switch {
	case err == nil:
		return NewToolResult(name, out)
	case stderrors.Is(err, errors.ErrContextCanceled):
		return NewToolError(name, err)
	}
	res := NewToolError(name, fmt.Errorf("%w: %v", errors.ErrToolExecutionFailed, err))
	res.Result = out
	return res
}

// run 按重试策略执行，返回最后一次的输出和错误
func (e *Executor) run(ctx context.Context, tool Tool, args map[string]any) (string, error) {
	var (
		out string
		err error
	)
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return out, errors.ErrContextCanceled
		}
		if out, err = tool.Execute(ctx, args); err == nil {
			return out, nil
		}
		if attempt >= e.maxRetries || stderrors.Is(err, errors.ErrCommandBlocked) {
			return out, err
		}
		select {
		case <-ctx.Done():
			return out, errors.ErrContextCanceled
		case <-time.After(e.retryDelay):
		}
	}
}

// ExecuteBatch 按顺序执行，ctx 取消后剩余调用直接标记为取消
func (e *Executor) ExecuteBatch(ctx context.Context, calls []ToolCall) []ToolResult {
	return executeBatch(ctx, calls, e.Execute)
}

func validateArgs(tool Tool, args map[string]any) error {
	if v, ok := tool.(Validator); ok {
		return v.Validate(args)
	}
	return Validate(tool.Parameters(), args)
}

func executeBatch(ctx context.Context, calls []ToolCall, exec func(context.Context, string, map[string]any) ToolResult) []ToolResult {
	results := make([]ToolResult, len(calls))
	for i, call := range calls {
		if ctx.Err() != nil {
			results[i] = NewToolError(call.Name, errors.ErrContextCanceled)
			continue
		}
		results[i] = exec(ctx, call.Name, call.Args)
	}
	return results
}

// ToolCall 一次待执行的工具调用
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// CallsFromMessage 把模型返回的工具调用转换为 ToolCall
func CallsFromMessage(calls []message.ToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		args := c.Arguments
		if args == nil {
			args = map[string]any{}
		}
		out = append(out, ToolCall{ID: c.ID, Name: c.Name, Args: args})
	}
	return out
}

// Instrumented 每次调用产生一个 tool.execute span，并记录耗时和失败数
type Instrumented struct {
	executor *Executor
	traced   *otel.TracedExecutor
}

func Instrument(e *Executor, tracer otel.Tracer, metrics otel.Metrics) *Instrumented {
	return &Instrumented{executor: e, traced: otel.NewTracedExecutor(resultAdapter{e}, tracer, metrics)}
}

func (i *Instrumented) Registry() *Registry { return i.executor.registry }

func (i *Instrumented) Execute(ctx context.Context, name string, args map[string]any) ToolResult {
	return i.traced.Execute(ctx, name, args).(resultView).r
}

func (i *Instrumented) ExecuteBatch(ctx context.Context, calls []ToolCall) []ToolResult {
	return executeBatch(ctx, calls, i.Execute)
}

// resultAdapter 把 Executor 适配为 otel.ToolExecutor
type resultAdapter struct {
	e *Executor
}

func (a resultAdapter) Execute(ctx context.Context, name string, args map[string]any) otel.ToolResult {
	return resultView{r: a.e.Execute(ctx, name, args)}
}

type resultView struct {
	r ToolResult
}

func (v resultView) Name() string    { return v.r.Name }
func (v resultView) IsSuccess() bool { return v.r.Success }
func (v resultView) Output() string  { return v.r.Result }

func (v resultView) Error() error {
	if v.r.Error == "" {
		return nil
	}
	return stderrors.New(v.r.Error)
}
