package llm

import (
	"context"
	"math"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/errors"
)

// maxBackoff 单次退避的上限
const maxBackoff = 30 * time.Second

// retry 执行带指数退避的重试，仅对可重试错误生效
func retry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return errors.ErrContextCanceled
		}

		lastErr = fn()
		if lastErr == nil || !errors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return errors.ErrContextCanceled
		case <-time.After(backoff(attempt, baseDelay)):
		}
	}

	return lastErr
}

// backoff 计算 baseDelay * 2^attempt，附加 10% 抖动并限制上限
func backoff(attempt int, baseDelay time.Duration) time.Duration {
	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)))
	delay += delay / 10
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}
