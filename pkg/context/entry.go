package context

import (
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/easyops/ctxwindow-go/pkg/editstrategy"
	"github.com/easyops/ctxwindow-go/pkg/refs"
)

// Entry 是活动上下文中的一条记录。
//
// 带 SourceRef 的条目由引用渲染而来，可以被降级、替换或驱逐；
// 不带 SourceRef 的是原始对话轮次，从不被自动移除。
type Entry struct {
	// Role 是发送给模型时的消息角色。
	Role message.Role `json:"role"`

	// Content 是渲染后的文本。
	Content string `json:"content"`

	// Parts 是原始轮次携带的多模态片段。
	Parts []message.Part `json:"parts,omitempty"`

	// SourceRef 是条目对应的引用，原始轮次为空。
	SourceRef refs.Ref `json:"source_ref,omitempty"`

	// Level 是当前表示级别。
	Level refs.Level `json:"level"`

	// Timestamp 是条目写入或最近一次重新渲染的时间。
	Timestamp time.Time `json:"timestamp"`

	// IsDiffMarker 标记由编辑流水线产生的差异条目。
	IsDiffMarker bool `json:"is_diff_marker,omitempty"`

	// EditStrategy 是差异条目采用的策略。
	EditStrategy editstrategy.Strategy `json:"edit_strategy,omitempty"`

	// ReplacesOriginal 表示差异条目替代了原文件表示。
	ReplacesOriginal bool `json:"replaces_original,omitempty"`

	// Tokens 是条目作为单条消息的估算 Token 数。
	Tokens int `json:"tokens"`
}

// IsReference 判断条目是否由引用渲染而来。
func (e Entry) IsReference() bool {
	return e.SourceRef != ""
}

// Message 把条目转换为发送给模型的消息。
func (e Entry) Message() message.Message {
	return message.Message{
		Role:      e.Role,
		Content:   e.Content,
		Parts:     e.Parts,
		Timestamp: e.Timestamp,
	}
}

// DiffRecord 记录一次编辑产生的差异条目，用于惰性过期与内存分析。
type DiffRecord struct {
	Ref              refs.Ref              `json:"ref"`
	Path             string                `json:"path"`
	Seq              int64                 `json:"seq"`
	Strategy         editstrategy.Strategy `json:"strategy"`
	CreatedAt        time.Time             `json:"created_at"`
	ExpiresAt        time.Time             `json:"expires_at"`
	TTL              time.Duration         `json:"ttl"`
	ReplacesOriginal bool                  `json:"replaces_original"`
	OriginalTokens   int                   `json:"original_tokens"`
	DiffTokens       int                   `json:"diff_tokens"`

	// Content 是 full 级别的渲染结果。
	Content string `json:"content"`
	// Summary 是降级后的一行摘要。
	Summary string `json:"summary"`
}
