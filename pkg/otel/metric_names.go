package otel

// 上下文窗口
const (
	MetricContextAssemblies   = "context.assemblies"
	MetricContextAssemblyTime = "context.assembly.duration"
	MetricContextTokens       = "context.tokens"
	MetricContextUtilization  = "context.utilization"
	MetricContextAdmitted     = "context.refs.admitted"
	MetricContextDegraded     = "context.refs.degraded"
	MetricContextEvicted      = "context.refs.evicted"
	MetricContextBudgetOver   = "context.budget.exceeded"
	MetricContextEdits        = "context.edits"
	MetricContextDiffsExpired = "context.diffs.expired"
	MetricContextCompactions  = "context.compactions"
)

// 会话、模型与工具
const (
	MetricSessionTurns    = "session.turns"
	MetricSessionTurnTime = "session.turn.duration"
	MetricSessionErrors   = "session.errors"

	MetricLLMRequests         = "llm.requests"
	MetricLLMRequestDuration  = "llm.request.duration"
	MetricLLMTokensPrompt     = "llm.tokens.prompt"
	MetricLLMTokensCompletion = "llm.tokens.completion"
	MetricLLMTokensTotal      = "llm.tokens.total"
	MetricLLMErrors           = "llm.errors"
	MetricLLMTruncated        = "llm.truncated"

	MetricToolCalls        = "tool.calls"
	MetricToolCallDuration = "tool.call.duration"
	MetricToolErrors       = "tool.errors"
)

// 快照与工作区
const (
	MetricSnapshotSaves  = "snapshot.saves"
	MetricSnapshotBytes  = "snapshot.bytes"
	MetricWorkspaceFiles = "workspace.files.loaded"
)

// instrumentInfo 导出时附带的描述与 UCUM 单位
type instrumentInfo struct {
	desc string
	unit string
}

const (
	unitCount = "1"
	unitMs    = "ms"
	unitBytes = "By"
)

var catalog = map[string]instrumentInfo{
	MetricContextAssemblies:   {"Context assembly passes", unitCount},
	MetricContextAssemblyTime: {"Context assembly latency", unitMs},
	MetricContextTokens:       {"Estimated tokens in the active context", unitCount},
	MetricContextUtilization:  {"Share of the token budget in use", ""},
	MetricContextAdmitted:     {"References admitted into the window", unitCount},
	MetricContextDegraded:     {"Representation downgrades", unitCount},
	MetricContextEvicted:      {"References evicted from the window", unitCount},
	MetricContextBudgetOver:   {"Turns still over budget after eviction", unitCount},
	MetricContextEdits:        {"File edits by strategy", unitCount},
	MetricContextDiffsExpired: {"Diff entries dropped after expiry", unitCount},
	MetricContextCompactions:  {"Conversation compactions", unitCount},

	MetricSessionTurns:    {"Session turns", unitCount},
	MetricSessionTurnTime: {"Session turn latency", unitMs},
	MetricSessionErrors:   {"Failed session turns", unitCount},

	MetricLLMRequests:         {"Model requests", unitCount},
	MetricLLMRequestDuration:  {"Model request latency", unitMs},
	MetricLLMTokensPrompt:     {"Prompt tokens reported by the provider", unitCount},
	MetricLLMTokensCompletion: {"Completion tokens reported by the provider", unitCount},
	MetricLLMTokensTotal:      {"Total tokens reported by the provider", unitCount},
	MetricLLMErrors:           {"Failed model requests", unitCount},
	MetricLLMTruncated:        {"Replies cut off by max_tokens", unitCount},

	MetricToolCalls:        {"Tool calls", unitCount},
	MetricToolCallDuration: {"Tool call latency", unitMs},
	MetricToolErrors:       {"Failed tool calls", unitCount},

	MetricSnapshotSaves:  {"Snapshots saved", unitCount},
	MetricSnapshotBytes:  {"Compressed snapshot size", unitBytes},
	MetricWorkspaceFiles: {"Workspace files loaded", unitCount},
}
