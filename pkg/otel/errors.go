package otel

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig 可观测性配置无效，其余配置错误均包装它
	ErrInvalidConfig = errors.New("otel: invalid config")

	ErrInvalidSampleRate = fmt.Errorf("%w: sample rate must be within [0, 1]", ErrInvalidConfig)
	ErrUnknownExporter   = fmt.Errorf("%w: unknown exporter", ErrInvalidConfig)
	ErrMissingEndpoint   = fmt.Errorf("%w: exporter endpoint is empty", ErrInvalidConfig)
)
