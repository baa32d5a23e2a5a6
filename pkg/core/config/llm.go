package config

import "time"

// Provider 模型服务，均通过 OpenAI 兼容接口访问
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderDeepSeek Provider = "deepseek"
	ProviderOllama   Provider = "ollama"
	ProviderVLLM     Provider = "vllm"
)

var providerEndpoints = map[Provider]string{
	ProviderOpenAI:   "",
	ProviderDeepSeek: "https://api.deepseek.com/v1",
	ProviderOllama:   "http://localhost:11434/v1",
	ProviderVLLM:     "http://localhost:8000/v1",
}

func (p Provider) IsValid() bool {
	_, ok := providerEndpoints[p]
	return ok
}

// DefaultBaseURL 未配置 base_url 时使用的端点，OpenAI 走 SDK 默认值
func (p Provider) DefaultBaseURL() string {
	return providerEndpoints[p]
}

// Local 本地部署的服务不需要 API key
func (p Provider) Local() bool {
	return p == ProviderOllama || p == ProviderVLLM
}

const (
	maxLLMTimeout = 5 * time.Minute
	maxLLMRetries = 10
)

// LLMConfig 对应配置文件的 llm 段
//
// 环境变量 CTXWIN_LLM_API_KEY 可覆盖 api_key，避免把密钥写进文件。
type LLMConfig struct {
	Provider   Provider      `koanf:"provider" yaml:"provider"`
	Model      string        `koanf:"model" yaml:"model"`
	APIKey     string        `koanf:"api_key" yaml:"api_key"`
	BaseURL    string        `koanf:"base_url" yaml:"base_url"`
	Timeout    time.Duration `koanf:"timeout" yaml:"timeout"`
	MaxRetries int           `koanf:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `koanf:"retry_delay" yaml:"retry_delay"`
}

// Validate 校验模型配置，超时和重试次数超出上限时截断
func (c *LLMConfig) Validate() error {
	switch {
	case c.Model == "":
		return ErrModelRequired
	case c.Provider != "" && !c.Provider.IsValid():
		return ErrUnknownProvider
	case c.Timeout < 0:
		return ErrInvalidTimeout
	case c.MaxRetries < 0:
		return ErrInvalidMaxRetries
	}
	c.Timeout = min(c.Timeout, maxLLMTimeout)
	c.MaxRetries = min(c.MaxRetries, maxLLMRetries)
	return nil
}

// WithDefaults 填充缺省值，base_url 为空时取服务商的默认端点
func (c LLMConfig) WithDefaults() LLMConfig {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.BaseURL == "" {
		c.BaseURL = c.Provider.DefaultBaseURL()
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	return c
}
