package tools

import (
	"github.com/easyops/ctxwindow-go/pkg/core/llm"
)

// ToolResult 一次工具调用的结果
//
// 失败时 Result 仍可能带有部分输出，比如重试耗尽前最后一次的返回。
type ToolResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Result  string `json:"result"`
	Error   string `json:"error,omitempty"`
}

func NewToolResult(name, result string) ToolResult {
	return ToolResult{Name: name, Success: true, Result: result}
}

func NewToolError(name string, err error) ToolResult {
	return ToolResult{Name: name, Error: err.Error()}
}

// Text 返回交给模型的文本，失败时带 Error: 前缀
func (r ToolResult) Text() string {
	if r.Success {
		return r.Result
	}
	return "Error: " + r.Error
}

// ToLLMDefinition 转换为模型请求中的工具定义
func ToLLMDefinition(t Tool) llm.ToolDefinition {
	schema := t.Parameters()
	params := map[string]any{
		"type":       schema.Type,
		"properties": schema.Properties,
	}
	if len(schema.Required) > 0 {
		params["required"] = schema.Required
	}
	return llm.ToolDefinition{Name: t.Name(), Description: t.Description(), Parameters: params}
}
