// Package llm 提供模型调用的统一接口
//
// 上下文管理器组装好的消息列表通过 Provider 交给模型；
// BuildChatRequest 同时被 tokens 包用来估算完整请求的 token 成本，
// 保证估算与实际发送的请求结构一致。
package llm

import (
	"context"
	"fmt"

	"github.com/easyops/ctxwindow-go/pkg/core/message"
)

// Provider 模型调用接口
type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
	Model() string
	Close() error
}

// ToolDefinition 以 JSON Schema 描述的函数工具
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request 一次模型调用
//
// System 非空时作为首条 system 消息发送；可选字段为 nil 时取客户端默认值。
type Request struct {
	System   string
	Messages []message.Message
	Tools    []ToolDefinition
	// ToolChoice "auto"、"none" 或工具名
	ToolChoice  any
	Temperature *float64
	MaxTokens   *int
	Stop        []string
}

// Validate 检查消息历史，错误带出首个无效消息的下标
func (r Request) Validate() error {
	for i := range r.Messages {
		if err := r.Messages[i].Validate(); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}
	return nil
}

// Response 模型响应
type Response struct {
	ID         string             `json:"id"`
	Content    string             `json:"content"`
	ToolCalls  []message.ToolCall `json:"tool_calls,omitempty"`
	TokenUsage message.TokenUsage `json:"token_usage"`
	// FinishReason stop、tool_calls、length 或 content_filter
	FinishReason string `json:"finish_reason"`
}

// WantsTools 模型是否请求了工具调用
func (r Response) WantsTools() bool { return len(r.ToolCalls) > 0 }

// Truncated 输出是否因长度上限被截断
func (r Response) Truncated() bool { return r.FinishReason == "length" }
