package agents

import (
	"github.com/easyops/ctxwindow-go/pkg/core/config"
	"github.com/easyops/ctxwindow-go/pkg/otel"
	"github.com/easyops/ctxwindow-go/pkg/snapshot"
)

// Option 会话配置选项函数
type Option func(*Session)

// WithSessionID 指定会话 ID，默认生成 UUID
func WithSessionID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithConfig 设置会话配置，未设置的字段使用默认值
func WithConfig(cfg config.AgentConfig) Option {
	return func(s *Session) {
		s.config = cfg.WithDefaults()
	}
}

// WithSystemPrompt 设置系统提示词
func WithSystemPrompt(prompt string) Option {
	return func(s *Session) {
		s.config.SystemPrompt = prompt
	}
}

// WithTools 设置工具执行器，注册表中的工具会提供给模型
func WithTools(executor ToolExecutor) Option {
	return func(s *Session) {
		s.executor = executor
	}
}

// WithSnapshots 设置快照存储
func WithSnapshots(store snapshot.Store) Option {
	return func(s *Session) {
		s.snapshots = store
	}
}

// WithAutoSnapshot 每轮结束后保存快照
func WithAutoSnapshot(on bool) Option {
	return func(s *Session) {
		s.config.AutoSnapshot = on
	}
}

// WithLogger 设置日志器
func WithLogger(logger otel.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObservability 设置追踪器和指标
func WithObservability(tracer otel.Tracer, metrics otel.Metrics) Option {
	return func(s *Session) {
		s.tracer = otel.NewSessionTracer(tracer, metrics)
	}
}
