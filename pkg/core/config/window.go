package config

import "time"

// WindowConfig 上下文窗口配置
type WindowConfig struct {
	// MaxTokens 模型上下文上限
	// 默认: 180000
	MaxTokens int `koanf:"max_tokens" yaml:"max_tokens"`
	// SafetyThreshold 预算占上限的比例
	// 默认: 0.7, 范围: (0, 1]
	SafetyThreshold float64 `koanf:"safety_threshold" yaml:"safety_threshold"`
	// HeadersOnlyByDefault 未近期使用的文件只展示声明
	HeadersOnlyByDefault *bool `koanf:"headers_only_by_default" yaml:"headers_only_by_default"`
	// DecayHalfLife 优先级衰减半衰期
	// 默认: 45m
	DecayHalfLife time.Duration `koanf:"decay_half_life" yaml:"decay_half_life"`
	// TerminalCompressionAfter 保留完整输出的最近终端条数
	// 默认: 5
	TerminalCompressionAfter int `koanf:"terminal_compression_after" yaml:"terminal_compression_after"`
	// Model 估算完整请求时使用的模型名
	Model string `koanf:"model" yaml:"model"`
}

// Validate 验证窗口配置
func (c *WindowConfig) Validate() error {
	if c.MaxTokens < 1 {
		return ErrInvalidMaxTokens
	}
	if c.SafetyThreshold <= 0 || c.SafetyThreshold > 1 {
		return ErrInvalidSafetyThreshold
	}
	if c.DecayHalfLife <= 0 {
		return ErrInvalidHalfLife
	}
	return nil
}

// WithDefaults 返回带默认值的配置
func (c WindowConfig) WithDefaults() WindowConfig {
	if c.MaxTokens == 0 {
		c.MaxTokens = 180000
	}
	if c.SafetyThreshold == 0 {
		c.SafetyThreshold = 0.7
	}
	if c.HeadersOnlyByDefault == nil {
		on := true
		c.HeadersOnlyByDefault = &on
	}
	if c.DecayHalfLife == 0 {
		c.DecayHalfLife = 45 * time.Minute
	}
	if c.TerminalCompressionAfter == 0 {
		c.TerminalCompressionAfter = 5
	}
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	return c
}

// SnapshotConfig 快照存储配置
type SnapshotConfig struct {
	// Backend 后端类型: memory, file, sqlite, badger
	Backend string `koanf:"backend" yaml:"backend"`
	// Path 存储路径（文件目录、数据库文件或 badger 目录）
	Path string `koanf:"path" yaml:"path"`
	// Compress 是否使用 zstd 压缩
	Compress *bool `koanf:"compress" yaml:"compress"`
}

// Validate 验证快照配置
func (c *SnapshotConfig) Validate() error {
	switch c.Backend {
	case "memory", "file", "sqlite", "badger":
		return nil
	default:
		return ErrUnknownBackend
	}
}

// WithDefaults 返回带默认值的配置
func (c SnapshotConfig) WithDefaults() SnapshotConfig {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Path == "" && c.Backend != "memory" {
		c.Path = ".ctxwin"
	}
	if c.Compress == nil {
		on := true
		c.Compress = &on
	}
	return c
}

// WorkspaceConfig 工作区配置
type WorkspaceConfig struct {
	// Root 工作区根目录
	Root string `koanf:"root" yaml:"root"`
	// Include 纳入的文件 glob（相对 Root）
	Include []string `koanf:"include" yaml:"include"`
	// Debounce 同一文件变更事件的合并窗口
	Debounce time.Duration `koanf:"debounce" yaml:"debounce"`
	// MaxFileBytes 超过该大小的文件不加载
	MaxFileBytes int64 `koanf:"max_file_bytes" yaml:"max_file_bytes"`
	// Concurrency 初始加载并发数
	Concurrency int `koanf:"concurrency" yaml:"concurrency"`
}

// WithDefaults 返回带默认值的配置
func (c WorkspaceConfig) WithDefaults() WorkspaceConfig {
	if c.Root == "" {
		c.Root = "."
	}
	if len(c.Include) == 0 {
		c.Include = []string{"*.go", "*.ts", "*.js", "*.py", "*.md"}
	}
	if c.Debounce == 0 {
		c.Debounce = 200 * time.Millisecond
	}
	if c.MaxFileBytes == 0 {
		c.MaxFileBytes = 1 << 20
	}
	if c.Concurrency == 0 {
		c.Concurrency = 8
	}
	return c
}
