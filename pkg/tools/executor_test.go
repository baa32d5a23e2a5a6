package tools_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/easyops/ctxwindow-go/pkg/core/errors"
	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/easyops/ctxwindow-go/pkg/otel"
	"github.com/easyops/ctxwindow-go/pkg/tools"
)

func echoTool() *tools.FuncTool {
	return tools.NewFuncTool(
		"echo",
		"Echo the input",
		tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.PropertySchema{
				"text": {Type: "string"},
			},
			Required: []string{"text"},
		},
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			return args["text"].(string), nil
		},
	)
}

func newExecutor(t *testing.T, opts ...tools.ExecutorOption) *tools.Executor {
	t.Helper()
	registry := tools.NewRegistry()
	if err := registry.Register(echoTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return tools.NewExecutor(registry, opts...)
}

func TestExecutor_Execute(t *testing.T) {
	e := newExecutor(t)

	res := e.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	if !res.Success || res.Result != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecutor_UnknownTool(t *testing.T) {
	e := newExecutor(t)

	res := e.Execute(context.Background(), "missing", nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != errors.ErrToolNotFound.Error() {
		t.Fatalf("expected not found error, got %s", res.Error)
	}
}

func TestExecutor_SchemaValidation(t *testing.T) {
	registry := tools.NewRegistry()
	registry.MustRegister(&mockTool{
		name: "typed",
		params: tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.PropertySchema{
				"count": {Type: "integer"},
			},
			Required: []string{"count"},
		},
	})
	e := tools.NewExecutor(registry)

	res := e.Execute(context.Background(), "typed", map[string]interface{}{"count": "three"})
	if res.Success {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(res.Error, errors.ErrInvalidToolArgs.Error()) {
		t.Fatalf("expected invalid args error, got %s", res.Error)
	}

	res = e.Execute(context.Background(), "typed", map[string]interface{}{"count": 3})
	if !res.Success {
		t.Fatalf("expected success, got %s", res.Error)
	}
}

func TestExecutor_Retries(t *testing.T) {
	var calls int32
	registry := tools.NewRegistry()
	registry.MustRegister(tools.NewFuncTool("flaky", "fails once", tools.ParameterSchema{Type: "object"},
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return "", fmt.Errorf("transient")
			}
			return "ok", nil
		}))

	e := tools.NewExecutor(registry, tools.WithExecutorRetries(2, time.Millisecond))
	res := e.Execute(context.Background(), "flaky", map[string]interface{}{})
	if !res.Success || res.Result != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestExecutor_BlockedCommandNotRetried(t *testing.T) {
	var calls int32
	registry := tools.NewRegistry()
	registry.MustRegister(tools.NewFuncTool("guarded", "always blocked", tools.ParameterSchema{Type: "object"},
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "", errors.ErrCommandBlocked
		}))

	e := tools.NewExecutor(registry, tools.WithExecutorRetries(3, time.Millisecond))
	res := e.Execute(context.Background(), "guarded", map[string]interface{}{})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, errors.ErrToolExecutionFailed.Error()) {
		t.Fatalf("expected execution failed error, got %s", res.Error)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestExecutor_CanceledContext(t *testing.T) {
	e := newExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := e.ExecuteBatch(ctx, []tools.ToolCall{
		{Name: "echo", Args: map[string]interface{}{"text": "a"}},
		{Name: "echo", Args: map[string]interface{}{"text": "b"}},
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Success || r.Error != errors.ErrContextCanceled.Error() {
			t.Fatalf("expected canceled result, got %+v", r)
		}
	}
}

func TestCallsFromMessage(t *testing.T) {
	calls := tools.CallsFromMessage([]message.ToolCall{
		{ID: "call-1", Name: "echo", Arguments: map[string]interface{}{"text": "x"}},
		{ID: "call-2", Name: "echo"},
	})
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "call-1" || calls[0].Args["text"] != "x" {
		t.Fatalf("unexpected first call: %+v", calls[0])
	}
	if calls[1].Args == nil {
		t.Fatal("expected non-nil args map")
	}
}

func TestInstrument_RecordsSpansAndMetrics(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := otel.NewTracer(tp.Tracer("test"))
	metrics := otel.NewInMemoryMetrics()

	e := tools.Instrument(newExecutor(t), tracer, metrics)
	res := e.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	if !res.Success || res.Result != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
	res = e.Execute(context.Background(), "missing", nil)
	if res.Success {
		t.Fatal("expected failure")
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "tool.execute" {
		t.Fatalf("unexpected span name %s", spans[0].Name())
	}
	if got := metrics.GetCounterValue(otel.MetricToolErrors); got != 1 {
		t.Fatalf("expected 1 tool error, got %d", got)
	}
}
