package otel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Logger 结构化日志，参数为 slog 风格的键值对
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	// With 返回固定附带 args 的子日志器
	With(args ...any) Logger
	// WithContext 附带 ctx 中当前 span 的 trace_id 和 span_id
	WithContext(ctx context.Context) Logger
}

// ParseLevel 解析日志级别，空串视为 info
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "", "info":
		l = slog.LevelInfo
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return l, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, level)
	}
	return l, nil
}

// NewLogger 按日志配置创建写入 w 的日志器
func NewLogger(cfg LoggingConfig, w io.Writer) (*SlogLogger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, cfg.Format)
	}
	return &SlogLogger{l: slog.New(h), traceIDs: cfg.IncludeTraceID}, nil
}

// SlogLogger 基于 log/slog 的实现
type SlogLogger struct {
	l        *slog.Logger
	traceIDs bool
}

// NewSlogLogger 包装已有的 slog.Logger，nil 时使用 slog.Default()
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l, traceIDs: true}
}

func (s *SlogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *SlogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *SlogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *SlogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func (s *SlogLogger) With(args ...any) Logger {
	if len(args) == 0 {
		return s
	}
	return &SlogLogger{l: s.l.With(args...), traceIDs: s.traceIDs}
}

func (s *SlogLogger) WithContext(ctx context.Context) Logger {
	if !s.traceIDs || ctx == nil {
		return s
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return s
	}
	return s.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}

// NoopLogger 丢弃所有日志
type NoopLogger struct{}

func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (n *NoopLogger) Debug(string, ...any)               {}
func (n *NoopLogger) Info(string, ...any)                {}
func (n *NoopLogger) Warn(string, ...any)                {}
func (n *NoopLogger) Error(string, ...any)               {}
func (n *NoopLogger) With(...any) Logger                 { return n }
func (n *NoopLogger) WithContext(context.Context) Logger { return n }

var (
	_ Logger = (*SlogLogger)(nil)
	_ Logger = (*NoopLogger)(nil)
)
