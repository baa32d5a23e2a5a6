// Package errors 集中定义可用 errors.Is 判断的哨兵错误
//
// 调用方用 fmt.Errorf("%w: ...") 附加细节；Classify 把错误归到少数几类，
// HTTP 层和重试逻辑只关心类别。
package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrContextCanceled = errors.New("context canceled")
	ErrEmptyInput      = errors.New("empty input")
)

// 模型调用
var (
	ErrRateLimited         = errors.New("rate limited")
	ErrTimeout             = errors.New("request timeout")
	ErrInvalidAPIKey       = errors.New("invalid API key")
	ErrModelNotFound       = errors.New("model not found")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrInvalidResponse     = errors.New("invalid LLM response")
	// ErrMaxIterationsExceeded 单轮工具调用超出最大轮数
	ErrMaxIterationsExceeded = errors.New("max iterations exceeded")
)

// 上下文窗口与内容存储
var (
	ErrInvalidReference  = errors.New("invalid reference")
	ErrReferenceNotFound = errors.New("reference not found")
	ErrFileNotFound      = errors.New("file not found")
	// ErrConversationChanged 摘要生成期间对话被改写，本次压缩放弃
	ErrConversationChanged = errors.New("conversation changed during compaction")
)

// 快照
var (
	// ErrInvalidSnapshot 缺少必要集合或字段非法
	ErrInvalidSnapshot  = errors.New("invalid snapshot")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
	ErrStoreClosed      = errors.New("store closed")
)

// 工具
var (
	ErrToolNotFound          = errors.New("tool not found")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	ErrInvalidTool           = errors.New("invalid tool")
	ErrInvalidToolArgs       = errors.New("invalid tool arguments")
	ErrToolExecutionFailed   = errors.New("tool execution failed")
	// ErrCommandBlocked 命令被安全策略拒绝，重试无意义
	ErrCommandBlocked = errors.New("command blocked")
)

// Kind 错误类别
type Kind int

const (
	KindInternal Kind = iota
	// KindInvalid 输入有误，调用方需要修正后再试
	KindInvalid
	KindNotFound
	// KindUnavailable 暂时失败，稍后重试可能成功
	KindUnavailable
	KindCanceled
)

var kinds = []struct {
	kind    Kind
	targets []error
}{
	{KindCanceled, []error{ErrContextCanceled, context.Canceled, context.DeadlineExceeded}},
	{KindUnavailable, []error{ErrRateLimited, ErrTimeout, ErrProviderUnavailable, ErrStoreClosed, ErrConversationChanged}},
	{KindNotFound, []error{ErrFileNotFound, ErrReferenceNotFound, ErrSnapshotNotFound, ErrToolNotFound, ErrModelNotFound}},
	{KindInvalid, []error{
		ErrInvalidConfig, ErrEmptyInput, ErrInvalidReference, ErrInvalidSnapshot,
		ErrChecksumMismatch, ErrInvalidTool, ErrInvalidToolArgs, ErrCommandBlocked,
	}},
}

// Classify 返回错误所属类别，按取消、暂不可用、不存在、非法的顺序匹配
func Classify(err error) Kind {
	for _, k := range kinds {
		for _, target := range k.targets {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindInternal
}

// WrapError 在错误前加上说明，nil 原样返回
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// IsRetryable 模型调用是否值得重试
func IsRetryable(err error) bool {
	return err != nil && Classify(err) == KindUnavailable
}
