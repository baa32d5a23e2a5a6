package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/easyops/ctxwindow-go/pkg/core/errors"
	"github.com/easyops/ctxwindow-go/pkg/core/llm"
	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/easyops/ctxwindow-go/pkg/otel"
	"github.com/easyops/ctxwindow-go/pkg/refs"
	"github.com/easyops/ctxwindow-go/pkg/store"
	"github.com/easyops/ctxwindow-go/pkg/tokens"
)

const (
	// MinTurnsForCompaction 是非强制压缩要求的最少原始轮次数。
	MinTurnsForCompaction = 5

	// KeepRecentTurns 是压缩后原样保留的最近轮次数。
	KeepRecentTurns = 2

	// restoreScanTurns 是提取待恢复文件时扫描的最近轮次数。
	restoreScanTurns = 3
)

// 压缩判断的原因。
const (
	ReasonInsufficientMessages = "insufficient_messages"
	ReasonForced               = "forced"
	ReasonThresholdExceeded    = "threshold_exceeded"
	ReasonWithinLimits         = "within_limits"
)

const summaryPrompt = `Summarize the conversation above so that it can continue without the original messages.
Keep file paths, function names, decisions made, open problems and the current task.
Write plain text, no preamble.`

const continuationPrefix = "This session continues from an earlier conversation that was compacted. Summary of the earlier conversation:\n\n"

// CompactOptions 控制一次对话压缩。
type CompactOptions struct {
	// Force 跳过阈值和最少轮次检查。
	Force bool `json:"force,omitempty"`

	// Auto 表示由会话自动触发，用量超过 auto_compact 阈值即压缩。
	Auto bool `json:"auto,omitempty"`

	// Instructions 追加到摘要提示词之后。
	Instructions string `json:"instructions,omitempty"`
}

// CompactStatus 是是否需要压缩的判断结果。
type CompactStatus struct {
	ShouldCompact bool              `json:"should_compact"`
	Reason        string            `json:"reason"`
	TurnCount     int               `json:"turn_count"`
	Thresholds    tokens.Thresholds `json:"thresholds"`
}

// CompactResult 是一次压缩的结果。
type CompactResult struct {
	Compacted      bool   `json:"compacted"`
	Reason         string `json:"reason"`
	Summary        string `json:"summary,omitempty"`
	OriginalTurns  int    `json:"original_turns"`
	CompactedTurns int    `json:"compacted_turns"`
	TokensBefore   int    `json:"tokens_before"`
	TokensAfter    int    `json:"tokens_after"`

	// Restored 是压缩后重新装入的文件引用。
	Restored []refs.Ref `json:"restored,omitempty"`

	// NeedsReread 是摘要提到但内容存储中没有的文件。
	NeedsReread []string `json:"needs_reread,omitempty"`
}

// Warning 是对话用量提示。
type Warning struct {
	// Level 为 info、warning 或 error。
	Level   string `json:"level"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// ConversationStatus 汇总对话用量、提示和建议。
type ConversationStatus struct {
	Thresholds      tokens.Thresholds `json:"thresholds"`
	TurnCount       int               `json:"turn_count"`
	StoreStats      store.Stats       `json:"store_stats"`
	Warnings        []Warning         `json:"warnings"`
	Recommendations []string          `json:"recommendations"`
}

// CompactStatus 判断当前对话是否需要压缩。
func (m *Manager) CompactStatus(opts CompactOptions) CompactStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compactStatus(opts)
}

func (m *Manager) compactStatus(opts CompactOptions) CompactStatus {
	st := CompactStatus{
		TurnCount:  m.turnCount(),
		Thresholds: tokens.CheckThresholds(m.totalTokens(), m.cfg.MaxTokens),
	}
	switch {
	case st.TurnCount <= KeepRecentTurns, !opts.Force && st.TurnCount < MinTurnsForCompaction:
		st.Reason = ReasonInsufficientMessages
	case opts.Force:
		st.ShouldCompact, st.Reason = true, ReasonForced
	case st.Thresholds.Compact, opts.Auto && st.Thresholds.AutoCompact:
		st.ShouldCompact, st.Reason = true, ReasonThresholdExceeded
	default:
		st.Reason = ReasonWithinLimits
	}
	return st
}

// Compact 用模型摘要替换较早的原始轮次，保留最近 KeepRecentTurns 轮。
//
// 摘要请求在锁外发送；期间有新轮次写入时返回 ErrConversationChanged 且不修改状态。
// 压缩后从摘要和最近轮次中提取文件引用，存储中存在的按评分重新装入，
// 不存在的记入 NeedsReread。不需要压缩时返回 Compacted 为 false 的结果。
func (m *Manager) Compact(ctx context.Context, p llm.Provider, opts CompactOptions) (CompactResult, error) {
	ctx, span := m.tracer.Start(ctx, "context.compact")
	defer span.End()

	m.mu.Lock()
	status := m.compactStatus(opts)
	res := CompactResult{
		Reason:        status.Reason,
		OriginalTurns: status.TurnCount,
		TokensBefore:  status.Thresholds.TokenCount,
	}
	if !status.ShouldCompact {
		m.mu.Unlock()
		return res, nil
	}
	older := m.olderTurns()
	gen := m.turnGen
	m.mu.Unlock()

	summary, err := m.summarize(ctx, p, older, opts.Instructions)
	if err != nil {
		otel.Fail(span, err)
		return res, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.turnGen != gen {
		err = fmt.Errorf("%w: %d new turns", errors.ErrConversationChanged, m.turnCount()-status.TurnCount)
		otel.Fail(span, err)
		return res, err
	}

	m.replaceOlderTurns(len(older), summary)
	res.Compacted = true
	res.Summary = summary
	res.CompactedTurns = m.turnCount()
	res.Restored, res.NeedsReread = m.restoreFiles(summary)
	res.TokensAfter = m.totalTokens()

	span.SetAttributes(otel.ContextBudget(res.TokensAfter, m.cfg.Budget())...)
	m.metrics.Counter(otel.MetricContextCompactions).Add(ctx, 1)
	m.logger.Info("conversation compacted",
		"reason", res.Reason,
		"original_turns", res.OriginalTurns,
		"compacted_turns", res.CompactedTurns,
		"tokens_before", res.TokensBefore,
		"tokens_after", res.TokensAfter,
		"restored", len(res.Restored),
		"needs_reread", len(res.NeedsReread),
	)
	return res, nil
}

// ConversationStatus 返回对话用量、提示和建议。
func (m *Manager) ConversationStatus() ConversationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	th := tokens.CheckThresholds(m.totalTokens(), m.cfg.MaxTokens)
	st := ConversationStatus{
		Thresholds:      th,
		TurnCount:       m.turnCount(),
		StoreStats:      m.store.Stats(),
		Warnings:        []Warning{},
		Recommendations: []string{},
	}
	switch {
	case th.Error:
		st.Warnings = append(st.Warnings, Warning{
			Level:   "error",
			Message: fmt.Sprintf("Context window is nearly full (%.0f%% used).", th.PercentUsed*100),
			Action:  "Compact immediately",
		})
	case th.AutoCompact:
		st.Warnings = append(st.Warnings, Warning{
			Level:   "warning",
			Message: fmt.Sprintf("Context window is getting full (%.0f%% used).", th.PercentUsed*100),
			Action:  "Auto-compaction recommended",
		})
	case th.Warning:
		st.Warnings = append(st.Warnings, Warning{
			Level:   "info",
			Message: fmt.Sprintf("Context usage is high (%.0f%% used).", th.PercentUsed*100),
		})
	}
	if th.AutoCompact && st.TurnCount >= MinTurnsForCompaction {
		st.Recommendations = append(st.Recommendations, "Enable auto-compaction to summarize older turns")
	}
	if th.PercentUsed > 0.5 {
		st.Recommendations = append(st.Recommendations, "Prefer concise responses to save context")
	}
	return st
}

func (m *Manager) turnCount() int {
	n := 0
	for _, e := range m.entries {
		if !e.IsReference() {
			n++
		}
	}
	return n
}

// olderTurns 返回除最近 KeepRecentTurns 轮外的原始轮次消息。
func (m *Manager) olderTurns() []message.Message {
	cut := m.turnCount() - KeepRecentTurns
	var out []message.Message
	for _, e := range m.entries {
		if len(out) == cut {
			break
		}
		if !e.IsReference() {
			out = append(out, e.Message())
		}
	}
	return out
}

func (m *Manager) summarize(ctx context.Context, p llm.Provider, turns []message.Message, instructions string) (string, error) {
	msgs := make([]message.Message, 0, len(turns)+1)
	for _, t := range turns {
		if t.Content == "" && len(t.Parts) == 0 {
			continue
		}
		if t.Role == message.RoleTool {
			t.Role = message.RoleUser
		}
		msgs = append(msgs, message.Message{Role: t.Role, Content: t.Content, Parts: t.Parts})
	}
	prompt := summaryPrompt
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		prompt += "\n\nAdditional instructions: " + instructions
	}
	msgs = append(msgs, message.Message{Role: message.RoleUser, Content: prompt})

	resp, err := p.Generate(ctx, llm.Request{Messages: msgs})
	if err != nil {
		return "", errors.WrapError(err, "summarize conversation")
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("%w: empty conversation summary", errors.ErrInvalidResponse)
	}
	return summary, nil
}

// replaceOlderTurns 把前 n 个原始轮次替换为一条 system 续接消息，位置取第一个被替换的轮次。
func (m *Manager) replaceOlderTurns(n int, summary string) {
	out := make([]Entry, 0, len(m.entries)-n+1)
	seen := 0
	for _, e := range m.entries {
		if e.IsReference() || seen >= n {
			out = append(out, e)
			continue
		}
		if seen == 0 {
			cont := Entry{
				Role:      message.RoleSystem,
				Content:   continuationPrefix + summary,
				Level:     refs.LevelFull,
				Timestamp: m.clock.Now(),
			}
			cont.Tokens = m.estimator.Estimate(cont.Message())
			out = append(out, cont)
		}
		seen++
	}
	m.entries = out
	m.turnGen++
}

// restoreFiles 重新装入摘要和最近轮次提到的文件。
func (m *Manager) restoreFiles(summary string) ([]refs.Ref, []string) {
	texts := []string{summary}
	var recent []string
	for i := len(m.entries) - 1; i >= 0 && len(recent) < restoreScanTurns; i-- {
		if e := m.entries[i]; !e.IsReference() {
			recent = append(recent, e.Content)
		}
	}
	texts = append(texts, recent...)

	now := m.clock.Now()
	mentioned := make(map[refs.Ref]bool)
	var candidates []refs.Ref
	var missing []string
	for _, text := range texts {
		for _, ref := range m.resolver.Extract(text) {
			if ref.Kind() != refs.KindFile || mentioned[ref] {
				continue
			}
			mentioned[ref] = true
			if _, ok := m.store.File(ref.Path()); !ok {
				missing = append(missing, ref.Path())
				continue
			}
			candidates = append(candidates, ref)
		}
	}
	scores := make(map[refs.Ref]float64, len(candidates))
	for _, ref := range candidates {
		scores[ref] = m.usage.Score(ref, "", now)
	}
	sortByScoreDesc(candidates, scores)
	return m.pack(candidates, mentioned, nil, m.cfg.Budget(), now), missing
}
