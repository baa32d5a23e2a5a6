package config

import (
	"fmt"
	"time"
)

// DefaultSystemPrompt 告诉模型上下文条目和引用的用法
const DefaultSystemPrompt = "You are a coding assistant. Referenced files, terminal output and tasks are provided as context entries. " +
	"Mention file:<path>, terminal:<id> or task:<id> to bring an entry back into full view."

// AgentConfig 会话参数
type AgentConfig struct {
	SystemPrompt string `koanf:"system_prompt" yaml:"system_prompt"`
	// Temperature 范围 [0, 2]，默认 0.7
	Temperature float64 `koanf:"temperature" yaml:"temperature"`
	// MaxTokens 单次回复上限，默认 4096
	MaxTokens int `koanf:"max_tokens" yaml:"max_tokens"`
	// Timeout 一轮对话（含工具循环）的总时限，默认 5m
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
	// MaxToolRounds 一轮内最多几次工具调用往返，默认 4
	MaxToolRounds int  `koanf:"max_tool_rounds" yaml:"max_tool_rounds"`
	AutoSnapshot  bool `koanf:"auto_snapshot" yaml:"auto_snapshot"`
	// DisableAutoCompact 关闭用量超过 auto_compact 阈值时的对话压缩
	DisableAutoCompact bool `koanf:"disable_auto_compact" yaml:"disable_auto_compact"`
	// CompactInstructions 追加到摘要提示词后的说明
	CompactInstructions string `koanf:"compact_instructions" yaml:"compact_instructions"`
}

func (c *AgentConfig) Validate() error {
	switch {
	case c.Temperature < 0 || c.Temperature > 2:
		return fmt.Errorf("%w: %v", ErrInvalidTemperature, c.Temperature)
	case c.MaxTokens < 1:
		return fmt.Errorf("%w: agent.max_tokens=%d", ErrInvalidMaxTokens, c.MaxTokens)
	case c.MaxToolRounds < 0:
		return fmt.Errorf("%w: %d", ErrInvalidMaxToolRounds, c.MaxToolRounds)
	}
	return nil
}

func (c AgentConfig) WithDefaults() AgentConfig {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxToolRounds == 0 {
		c.MaxToolRounds = 4
	}
	return c
}
