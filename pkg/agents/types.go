package agents

import (
	"time"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/easyops/ctxwindow-go/pkg/refs"
)

// Input 定义一轮对话的输入
type Input struct {
	// Query 用户消息（必填），可以包含 @src/app.ts 之类的引用
	Query string `json:"query"`
	// Pins 本轮强制以完整内容加载的引用
	Pins []refs.Ref `json:"pins,omitempty"`
	// Intent 传给相关性评分器的意图描述
	Intent string `json:"intent,omitempty"`
}

// Output 定义一轮对话的输出
type Output struct {
	// Response 最终回复文本
	Response string `json:"response"`
	// Steps 工具调用轨迹
	Steps []ReasoningStep `json:"steps,omitempty"`
	// Assembly 本轮上下文组装摘要
	Assembly AssemblySummary `json:"assembly"`
	// Compaction 本轮开始前的对话压缩结果（未压缩时为 nil）
	Compaction *ctxwin.CompactResult `json:"compaction,omitempty"`
	// SnapshotID 本轮保存的快照 ID（未保存时为空）
	SnapshotID string `json:"snapshot_id,omitempty"`
	// TokenUsage Token 使用统计，累计本轮所有模型调用
	TokenUsage message.TokenUsage `json:"token_usage"`
	// Duration 总执行时间
	Duration time.Duration `json:"duration"`
	// Error 错误信息（如有）
	Error string `json:"error,omitempty"`
}

// AssemblySummary 上下文组装摘要
type AssemblySummary struct {
	TotalTokens    int        `json:"total_tokens"`
	Budget         int        `json:"budget"`
	Loaded         []refs.Ref `json:"loaded,omitempty"`
	Admitted       []refs.Ref `json:"admitted,omitempty"`
	Degraded       []refs.Ref `json:"degraded,omitempty"`
	Evicted        []refs.Ref `json:"evicted,omitempty"`
	Expired        []refs.Ref `json:"expired,omitempty"`
	BudgetExceeded bool       `json:"budget_exceeded,omitempty"`
}

func (o *Output) HasError() bool { return o.Error != "" }
