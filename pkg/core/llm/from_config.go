package llm

import (
	"fmt"

	"github.com/easyops/ctxwindow-go/pkg/core/config"
	"github.com/easyops/ctxwindow-go/pkg/core/errors"
)

// FromConfig 按配置文件的 llm 段创建 Provider
//
// 远程服务在未改写 base_url 时必须提供 API key；本地部署的 ollama、vllm 不需要。
func FromConfig(cfg config.LLMConfig) (Provider, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	if cfg.APIKey == "" && !cfg.Provider.Local() && cfg.BaseURL == cfg.Provider.DefaultBaseURL() {
		return nil, errors.ErrInvalidAPIKey
	}

	opts := []Option{
		WithProviderName(string(cfg.Provider)),
		WithModel(cfg.Model),
		WithTimeout(cfg.Timeout),
		WithMaxRetries(cfg.MaxRetries),
		WithRetryDelay(cfg.RetryDelay),
	}
	if cfg.APIKey != "" {
		opts = append(opts, WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	return NewOpenAI(opts...)
}
