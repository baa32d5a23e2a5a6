// Package message 定义发给模型的对话消息
package message

import (
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image_url"
)

// Part 多模态片段，ImageURL 可以是 data URI
type Part struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

// ToolCall 模型请求的一次工具调用
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message 对话中的一条消息
//
// 助手消息可携带 ToolCalls；工具消息用 ToolCallID 对应到某次调用，Name 为工具名。
// Parts 非空时与 Content 一起发送。
type Message struct {
	ID         string         `json:"id,omitempty"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Parts      []Part         `json:"parts,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
}

func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

func NewToolMessage(toolCallID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, Name: name, ToolCallID: toolCallID, Timestamp: time.Now()}
}

// WithImage 追加一张图片片段
func (m Message) WithImage(url string) Message {
	parts := make([]Part, len(m.Parts), len(m.Parts)+1)
	copy(parts, m.Parts)
	m.Parts = append(parts, Part{Type: PartImage, ImageURL: url})
	return m
}

// Validate 检查消息能否发送给模型
//
// 工具结果允许为空，命令没有输出时也要回传给模型；助手消息有工具调用时可以没有文本。
func (m *Message) Validate() error {
	if !m.Role.IsValid() {
		return ErrInvalidRole
	}
	for _, p := range m.Parts {
		if p.Type != PartText && p.Type != PartImage {
			return ErrInvalidPart
		}
	}
	empty := m.Content == "" && len(m.Parts) == 0
	switch m.Role {
	case RoleTool:
		if m.ToolCallID == "" {
			return ErrMissingToolCallID
		}
	case RoleAssistant:
		if empty && len(m.ToolCalls) == 0 {
			return ErrEmptyContent
		}
	default:
		if empty {
			return ErrEmptyContent
		}
	}
	return nil
}

// ImageCount 返回图片片段数量
func (m *Message) ImageCount() int {
	n := 0
	for _, p := range m.Parts {
		if p.Type == PartImage {
			n++
		}
	}
	return n
}

// Text Content 与各文本片段按行拼接，跳过空文本
func (m *Message) Text() string {
	lines := make([]string, 0, len(m.Parts)+1)
	if m.Content != "" {
		lines = append(lines, m.Content)
	}
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			lines = append(lines, p.Text)
		}
	}
	return strings.Join(lines, "\n")
}
