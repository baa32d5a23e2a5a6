package context

import (
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/config"
	"github.com/easyops/ctxwindow-go/pkg/tokens"
	"github.com/easyops/ctxwindow-go/pkg/usage"
)

// Config 保存上下文窗口的配置。
type Config struct {
	// MaxTokens 是上下文窗口的硬上限。
	MaxTokens int `json:"max_tokens"`

	// SafetyThreshold 是实际可用预算占 MaxTokens 的比例（0-1]。
	// 默认值为 0.7。
	SafetyThreshold float64 `json:"safety_threshold"`

	// HeadersOnlyByDefault 为 true 时，未最近使用的文件只展示声明签名。
	HeadersOnlyByDefault bool `json:"headers_only_by_default"`

	// DecayHalfLife 是使用优先级的衰减半衰期。
	DecayHalfLife time.Duration `json:"decay_half_life"`

	// RecentWindow 是文件被视为最近使用的时间窗口。
	RecentWindow time.Duration `json:"recent_window"`

	// TerminalCompressionAfter 是保留完整输出的最近终端条数。
	TerminalCompressionAfter int `json:"terminal_compression_after"`

	// Model 是完整请求估算使用的模型名。
	Model string `json:"model"`

	// EstimateMode 是预算判断使用的估算模式。
	EstimateMode tokens.Mode `json:"estimate_mode"`
}

// ConfigOption 配置 Config。
type ConfigOption func(*Config)

// WithMaxTokens 设置上下文硬上限。
func WithMaxTokens(n int) ConfigOption {
	return func(c *Config) {
		c.MaxTokens = n
	}
}

// WithSafetyThreshold 设置预算比例。
func WithSafetyThreshold(ratio float64) ConfigOption {
	return func(c *Config) {
		c.SafetyThreshold = ratio
	}
}

// WithHeadersOnlyByDefault 设置文件默认是否只展示签名。
func WithHeadersOnlyByDefault(on bool) ConfigOption {
	return func(c *Config) {
		c.HeadersOnlyByDefault = on
	}
}

// WithDecayHalfLife 设置衰减半衰期。
func WithDecayHalfLife(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.DecayHalfLife = d
	}
}

// WithTerminalCompressionAfter 设置终端压缩阈值。
func WithTerminalCompressionAfter(n int) ConfigOption {
	return func(c *Config) {
		c.TerminalCompressionAfter = n
	}
}

// WithModel 设置估算模型。
func WithModel(model string) ConfigOption {
	return func(c *Config) {
		c.Model = model
	}
}

// WithEstimateMode 设置预算估算模式。
func WithEstimateMode(mode tokens.Mode) ConfigOption {
	return func(c *Config) {
		c.EstimateMode = mode
	}
}

// DefaultConfig 返回具有合理默认值的 Config。
func DefaultConfig() Config {
	return Config{
		MaxTokens:                180000,
		SafetyThreshold:          0.7,
		HeadersOnlyByDefault:     true,
		DecayHalfLife:            usage.DefaultHalfLife,
		RecentWindow:             30 * time.Minute,
		TerminalCompressionAfter: 5,
		Model:                    tokens.DefaultModel,
		EstimateMode:             tokens.ModeFullRequest,
	}
}

// NewConfig 使用给定的选项创建新的 Config。
func NewConfig(opts ...ConfigOption) Config {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// FromWindowConfig 从全局配置的 window 段构造 Config。
func FromWindowConfig(w config.WindowConfig) Config {
	w = w.WithDefaults()
	c := DefaultConfig()
	c.MaxTokens = w.MaxTokens
	c.SafetyThreshold = w.SafetyThreshold
	if w.HeadersOnlyByDefault != nil {
		c.HeadersOnlyByDefault = *w.HeadersOnlyByDefault
	}
	c.DecayHalfLife = w.DecayHalfLife
	c.TerminalCompressionAfter = w.TerminalCompressionAfter
	c.Model = w.Model
	return c
}

// Validate 检查配置取值。
func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return config.ErrInvalidMaxTokens
	}
	if c.SafetyThreshold <= 0 || c.SafetyThreshold > 1 {
		return config.ErrInvalidSafetyThreshold
	}
	if c.DecayHalfLife <= 0 {
		return config.ErrInvalidHalfLife
	}
	return nil
}

// Budget 返回有效 Token 预算。
func (c Config) Budget() int {
	return int(float64(c.MaxTokens) * c.SafetyThreshold)
}
