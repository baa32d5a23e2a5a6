// Package config 加载 ctxwin 的配置
//
// 优先级从低到高：默认值、配置文件（yaml/json）、CTXWIN_ 环境变量、命令行 --set。
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "CTXWIN_"

type Config struct {
	Window        WindowConfig        `koanf:"window" yaml:"window"`
	Agent         AgentConfig         `koanf:"agent" yaml:"agent"`
	LLM           LLMConfig           `koanf:"llm" yaml:"llm"`
	Snapshot      SnapshotConfig      `koanf:"snapshot" yaml:"snapshot"`
	Workspace     WorkspaceConfig     `koanf:"workspace" yaml:"workspace"`
	Server        ServerConfig        `koanf:"server" yaml:"server"`
	Observability ObservabilityConfig `koanf:"observability" yaml:"observability"`
}

// ObservabilityConfig 追踪、指标与日志的开关
type ObservabilityConfig struct {
	Enabled     bool   `koanf:"enabled" yaml:"enabled"`
	ServiceName string `koanf:"service_name" yaml:"service_name"`
	// Exporter otlp-grpc、otlp-http、stdout 或 none
	Exporter string `koanf:"exporter" yaml:"exporter"`
	// Endpoint 带 https:// 前缀时使用 TLS
	Endpoint   string  `koanf:"endpoint" yaml:"endpoint"`
	SampleRate float64 `koanf:"sample_rate" yaml:"sample_rate"`
	LogLevel   string  `koanf:"log_level" yaml:"log_level"`
	LogFormat  string  `koanf:"log_format" yaml:"log_format"`
}

func (c ObservabilityConfig) WithDefaults() ObservabilityConfig {
	if c.ServiceName == "" {
		c.ServiceName = "ctxwindow"
	}
	if c.Exporter == "" {
		c.Exporter = "none"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	return c
}

type ServerConfig struct {
	Addr         string        `koanf:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
}

func (c ServerConfig) WithDefaults() ServerConfig {
	if c.Addr == "" {
		c.Addr = ":8088"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	return c
}

// envKey CTXWIN_WINDOW_MAX_TOKENS -> window.max_tokens，只有第一个下划线分隔层级
func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
}

// Load 依次叠加配置文件、环境变量和 key=value 形式的覆盖项
//
// path 为空或文件不存在时只用默认值。覆盖项的值和环境变量一样按字符串弱类型解析。
func Load(path string, overrides ...string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	for _, kv := range overrides {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: override %q is not key=value", ErrInvalidConfig, kv)
		}
		if err := k.Set(strings.TrimSpace(key), value); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	parser, err := parserFor(path)
	if err != nil {
		return err
	}
	return k.Load(fileProvider(path), parser)
}

func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Validate 校验窗口、会话和快照配置，返回全部错误
//
// LLM 段在创建客户端时才校验，不需要模型的子命令不受影响。
func (c *Config) Validate() error {
	return stderrors.Join(
		c.Window.Validate(),
		c.Agent.Validate(),
		c.Snapshot.Validate(),
	)
}

func (c *Config) applyDefaults() {
	c.Window = c.Window.WithDefaults()
	c.Agent = c.Agent.WithDefaults()
	c.LLM = c.LLM.WithDefaults()
	c.Snapshot = c.Snapshot.WithDefaults()
	c.Workspace = c.Workspace.WithDefaults()
	c.Server = c.Server.WithDefaults()
	c.Observability = c.Observability.WithDefaults()
}
