// Package agents 提供基于上下文窗口的对话会话
//
// Session 把一轮对话串起来：处理到期差异、组装上下文、调用模型、
// 按需执行工具，最后把回复写回窗口并保存快照。
package agents

import (
	"context"

	"github.com/easyops/ctxwindow-go/pkg/core/config"
	"github.com/easyops/ctxwindow-go/pkg/tools"
)

// Agent 对话代理接口
type Agent interface {
	// Run 执行一轮对话
	//
	// 参数:
	//   - ctx: 上下文，用于取消、超时控制和追踪传播
	//   - input: 本轮输入
	//
	// 返回:
	//   - Output: 回复、工具步骤、token 使用量和组装摘要
	//   - error: 执行错误
	Run(ctx context.Context, input Input) (Output, error)

	// ID 返回会话标识
	ID() string

	// Config 返回会话配置（只读）
	Config() config.AgentConfig
}

// ToolExecutor 会话使用的工具执行器
//
// tools.Executor 和 tools.Instrumented 都实现了该接口。
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) tools.ToolResult
	Registry() *tools.Registry
}

// compile-time interface check
var (
	_ ToolExecutor = (*tools.Executor)(nil)
	_ ToolExecutor = (*tools.Instrumented)(nil)
)
