package otel

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/easyops/ctxwindow-go/pkg/core/errors"
)

// span 与指标共用的属性键
const (
	AttrContextTokens     = "context.tokens"
	AttrContextBudget     = "context.budget"
	AttrContextLoadedRefs = "context.loaded_refs"
	AttrContextCandidates = "context.candidates"
	AttrContextAdmitted   = "context.admitted"
	AttrContextDegraded   = "context.degraded"
	AttrContextEvicted    = "context.evicted"
	AttrContextOverBudget = "context.budget_exceeded"
	AttrContextExpired    = "context.expired"

	AttrFilePath     = "file.path"
	AttrEditStrategy = "edit.strategy"

	AttrSessionID   = "session.id"
	AttrSessionTurn = "session.turn"

	AttrLLMProvider         = "llm.provider"
	AttrLLMModel            = "llm.model"
	AttrLLMPromptTokens     = "llm.prompt_tokens"
	AttrLLMCompletionTokens = "llm.completion_tokens"
	AttrLLMTotalTokens      = "llm.total_tokens"
	AttrMessageCount        = "llm.messages"

	AttrToolName     = "tool.name"
	AttrToolDuration = "tool.duration_ms"

	// AttrErrorKind invalid、not_found、unavailable、canceled 或 internal
	AttrErrorKind = "error.kind"
)

var errorKindNames = map[errors.Kind]string{
	errors.KindInternal:    "internal",
	errors.KindInvalid:     "invalid",
	errors.KindNotFound:    "not_found",
	errors.KindUnavailable: "unavailable",
	errors.KindCanceled:    "canceled",
}

// ErrorKind 错误类别属性，便于按类别聚合失败 span
func ErrorKind(err error) attribute.KeyValue {
	return attribute.String(AttrErrorKind, errorKindNames[errors.Classify(err)])
}

func FilePath(path string) attribute.KeyValue {
	return attribute.String(AttrFilePath, path)
}

func EditStrategy(strategy string) attribute.KeyValue {
	return attribute.String(AttrEditStrategy, strategy)
}

func ContextBudget(tokens, budget int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrContextTokens, tokens),
		attribute.Int(AttrContextBudget, budget),
	}
}

// ContextExpired 本次清理掉的过期差异数
func ContextExpired(n int) attribute.KeyValue {
	return attribute.Int(AttrContextExpired, n)
}

// ContextAssembly 一次组装中各阶段的条目数
func ContextAssembly(candidates, admitted, degraded, evicted int, overBudget bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrContextCandidates, candidates),
		attribute.Int(AttrContextAdmitted, admitted),
		attribute.Int(AttrContextDegraded, degraded),
		attribute.Int(AttrContextEvicted, evicted),
		attribute.Bool(AttrContextOverBudget, overBudget),
	}
}

func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

func LLMProvider(provider string) attribute.KeyValue {
	return attribute.String(AttrLLMProvider, provider)
}

func LLMModel(model string) attribute.KeyValue {
	return attribute.String(AttrLLMModel, model)
}

func LLMTokens(prompt, completion, total int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrLLMPromptTokens, prompt),
		attribute.Int(AttrLLMCompletionTokens, completion),
		attribute.Int(AttrLLMTotalTokens, total),
	}
}

func ToolName(name string) attribute.KeyValue {
	return attribute.String(AttrToolName, name)
}

func ToolDuration(ms int64) attribute.KeyValue {
	return attribute.Int64(AttrToolDuration, ms)
}
