package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 配置校验失败，各字段的错误都包装它
var ErrInvalidConfig = errors.New("invalid config")

// ErrUnsupportedFormat 配置文件扩展名不是 yaml、yml 或 json
var ErrUnsupportedFormat = errors.New("unsupported config format")

var (
	ErrInvalidMaxTokens       = fmt.Errorf("%w: max_tokens must be positive", ErrInvalidConfig)
	ErrInvalidSafetyThreshold = fmt.Errorf("%w: window.safety_threshold must be in (0, 1]", ErrInvalidConfig)
	ErrInvalidHalfLife        = fmt.Errorf("%w: window.decay_half_life must be positive", ErrInvalidConfig)

	ErrModelRequired     = fmt.Errorf("%w: llm.model is required", ErrInvalidConfig)
	ErrUnknownProvider   = fmt.Errorf("%w: unknown llm.provider", ErrInvalidConfig)
	ErrInvalidTimeout    = fmt.Errorf("%w: llm.timeout must not be negative", ErrInvalidConfig)
	ErrInvalidMaxRetries = fmt.Errorf("%w: llm.max_retries must not be negative", ErrInvalidConfig)

	ErrInvalidTemperature   = fmt.Errorf("%w: agent.temperature must be within [0, 2]", ErrInvalidConfig)
	ErrInvalidMaxToolRounds = fmt.Errorf("%w: agent.max_tool_rounds must not be negative", ErrInvalidConfig)

	ErrUnknownBackend = fmt.Errorf("%w: unknown snapshot.backend", ErrInvalidConfig)
)
