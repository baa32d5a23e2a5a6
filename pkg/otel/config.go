package otel

import (
	"fmt"
	"strings"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/config"
)

// Config 可观测性配置
//
// 通常由 FromObservabilityConfig 从全局配置的 observability 段生成，
// 这里保留追踪与指标分别配置的能力。
type Config struct {
	Enabled        bool   `koanf:"enabled"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	Environment    string `koanf:"environment"`

	Tracing TracingConfig `koanf:"tracing"`
	Metrics MetricsConfig `koanf:"metrics"`
	Logging LoggingConfig `koanf:"logging"`
}

type TracingConfig struct {
	Enabled  bool         `koanf:"enabled"`
	Exporter ExporterType `koanf:"exporter"`
	// Endpoint host:port，不带协议
	Endpoint string `koanf:"endpoint"`
	Insecure bool   `koanf:"insecure"`
	// SampleRate 根 span 采样率，子 span 跟随父 span
	SampleRate float64       `koanf:"sample_rate"`
	Timeout    time.Duration `koanf:"timeout"`
}

type MetricsConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Exporter ExporterType  `koanf:"exporter"`
	Endpoint string        `koanf:"endpoint"`
	Insecure bool          `koanf:"insecure"`
	Interval time.Duration `koanf:"interval"`
}

type LoggingConfig struct {
	// Level debug、info、warn 或 error
	Level string `koanf:"level"`
	// Format text 或 json
	Format string `koanf:"format"`
	// IncludeTraceID WithContext 是否附带 trace_id 和 span_id
	IncludeTraceID bool `koanf:"include_trace_id"`
}

const defaultCollector = "localhost:4317"

// DefaultConfig 关闭追踪和指标，只输出 info 级文本日志
func DefaultConfig() Config {
	return Config{
		ServiceName:    "ctxwindow",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		Tracing: TracingConfig{
			Exporter:   ExporterOTLPGRPC,
			Endpoint:   defaultCollector,
			Insecure:   true,
			SampleRate: 1.0,
			Timeout:    30 * time.Second,
		},
		Metrics: MetricsConfig{
			Exporter: ExporterOTLPGRPC,
			Endpoint: defaultCollector,
			Insecure: true,
			Interval: time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", IncludeTraceID: true},
	}
}

// splitEndpoint 去掉端点的协议前缀，https 关闭 insecure
func splitEndpoint(endpoint string) (string, bool) {
	if rest, ok := strings.CutPrefix(endpoint, "https://"); ok {
		return rest, false
	}
	return strings.TrimPrefix(endpoint, "http://"), true
}

// FromObservabilityConfig 从全局配置的 observability 段构造配置
//
// 追踪和指标共用同一个导出器与端点；导出器为 none 时只保留日志。
func FromObservabilityConfig(c config.ObservabilityConfig) Config {
	cfg := DefaultConfig()
	cfg.Enabled = c.Enabled
	if c.ServiceName != "" {
		cfg.ServiceName = c.ServiceName
	}

	if exporter := ExporterType(c.Exporter); exporter != "" && exporter != ExporterNone {
		cfg.Tracing.Enabled, cfg.Metrics.Enabled = true, true
		cfg.Tracing.Exporter, cfg.Metrics.Exporter = exporter, exporter
	}
	if c.Endpoint != "" {
		endpoint, insecure := splitEndpoint(c.Endpoint)
		cfg.Tracing.Endpoint, cfg.Tracing.Insecure = endpoint, insecure
		cfg.Metrics.Endpoint, cfg.Metrics.Insecure = endpoint, insecure
	}
	if c.SampleRate != 0 {
		cfg.Tracing.SampleRate = c.SampleRate
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Logging.Format = c.LogFormat
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return ErrInvalidSampleRate
	}
	for kind, exporter := range map[string]ExporterType{"tracing": c.Tracing.Exporter, "metrics": c.Metrics.Exporter} {
		if exporter != "" && !exporter.Valid() {
			return fmt.Errorf("%w: %s %q", ErrUnknownExporter, kind, exporter)
		}
	}
	_, err := ParseLevel(c.Logging.Level)
	return err
}

// WithDefaults 只填充零值字段
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&c.ServiceName, d.ServiceName)
	fill(&c.ServiceVersion, d.ServiceVersion)
	fill(&c.Environment, d.Environment)
	fill((*string)(&c.Tracing.Exporter), string(d.Tracing.Exporter))
	fill(&c.Tracing.Endpoint, d.Tracing.Endpoint)
	fill((*string)(&c.Metrics.Exporter), string(d.Metrics.Exporter))
	fill(&c.Metrics.Endpoint, d.Metrics.Endpoint)
	fill(&c.Logging.Level, d.Logging.Level)
	fill(&c.Logging.Format, d.Logging.Format)

	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = d.Tracing.SampleRate
	}
	if c.Tracing.Timeout == 0 {
		c.Tracing.Timeout = d.Tracing.Timeout
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = d.Metrics.Interval
	}
	return c
}
