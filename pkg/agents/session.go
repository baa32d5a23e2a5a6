package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/core/config"
	"github.com/easyops/ctxwindow-go/pkg/core/errors"
	"github.com/easyops/ctxwindow-go/pkg/core/llm"
	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/easyops/ctxwindow-go/pkg/otel"
	"github.com/easyops/ctxwindow-go/pkg/refs"
	"github.com/easyops/ctxwindow-go/pkg/snapshot"
	"github.com/easyops/ctxwindow-go/pkg/tokens"
	"github.com/easyops/ctxwindow-go/pkg/tools"
)

// Session 基于上下文窗口的对话会话
//
// 每轮 Run 依次执行:
//  1. 处理到期的差异条目
//  2. 用量超过压缩阈值时用模型摘要替换较早的对话轮次
//  3. 为用户消息组装上下文
//  4. 调用模型，有工具调用时执行工具并继续，最多 MaxToolRounds 轮
//  5. 把最终回复写回窗口
//  6. 开启 AutoSnapshot 时保存快照
//
// 同一会话的多轮 Run 串行执行。
//
// 使用示例:
//
//	mgr := ctxwin.NewManager()
//	session, err := agents.NewSession(mgr, provider, agents.WithSnapshots(store))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	output, err := session.Run(ctx, agents.Input{Query: "why does @src/app.ts fail?"})
type Session struct {
	id        string
	manager   *ctxwin.Manager
	provider  llm.Provider
	executor  ToolExecutor
	snapshots snapshot.Store
	config    config.AgentConfig
	tracer    *otel.SessionTracer
	logger    otel.Logger

	mu   sync.Mutex
	turn int
}

// NewSession 创建会话
//
// 返回:
//   - *Session: 会话实例
//   - error: manager 或 provider 为 nil，或配置无效时返回错误
func NewSession(manager *ctxwin.Manager, provider llm.Provider, opts ...Option) (*Session, error) {
	if manager == nil {
		return nil, fmt.Errorf("%w: manager is required", errors.ErrInvalidConfig)
	}
	if provider == nil {
		return nil, errors.ErrProviderUnavailable
	}

	s := &Session{
		id:       uuid.New().String(),
		manager:  manager,
		provider: provider,
		config:   config.AgentConfig{}.WithDefaults(),
		tracer:   otel.NewSessionTracer(nil, nil),
		logger:   otel.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}

	// 完整请求估算需要与实际发送的系统提示词和工具定义一致
	manager.SetRequestOptions(tokens.RequestOptions{
		Model:  provider.Model(),
		System: s.config.SystemPrompt,
		Tools:  s.toolDefinitions(),
	})

	return s, nil
}

// ID 返回会话标识
func (s *Session) ID() string {
	return s.id
}

// Config 返回会话配置（只读）
func (s *Session) Config() config.AgentConfig {
	return s.config
}

// Manager 返回会话使用的上下文管理器
func (s *Session) Manager() *ctxwin.Manager {
	return s.manager
}

// Run 执行一轮对话
func (s *Session) Run(ctx context.Context, input Input) (out Output, err error) {
	if strings.TrimSpace(input.Query) == "" {
		return Output{Error: errors.ErrEmptyInput.Error()}, errors.ErrEmptyInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	startTime := time.Now()
	s.turn++

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	ctx, span := s.tracer.StartTurn(ctx, s.id, s.turn)
	defer func() {
		out.Duration = time.Since(startTime)
		if err != nil {
			out.Error = err.Error()
		}
		s.tracer.FinishTurn(ctx, span, err, out.Duration)
	}()
	log := s.logger.WithContext(ctx).With("session", s.id, "turn", s.turn)

	expired := s.manager.CheckExpirations(ctx, s.manager.Now())
	out.Compaction = s.compact(ctx, log)

	res, err := s.manager.AssembleContext(ctx, message.NewUserMessage(input.Query), ctxwin.AssembleOptions{
		Pins:   input.Pins,
		Intent: input.Intent,
	})
	if err != nil {
		return out, err
	}
	out.Assembly = summarize(res, s.manager, expired)
	s.tracer.RecordAssembly(ctx, res.TotalTokens, res.Budget, len(out.Assembly.Loaded))
	if res.BudgetExceeded {
		log.Warn("context over budget after eviction", "tokens", res.TotalTokens, "budget", res.Budget)
	}

	content, steps, usage, err := s.generate(ctx, res.Messages, res.TotalTokens)
	out.Steps = steps
	out.TokenUsage = usage
	if err != nil {
		return out, err
	}

	s.manager.AddAssistantMessage(content)
	out.Response = content

	if s.config.AutoSnapshot && s.snapshots != nil {
		meta, err := s.snapshots.Save(ctx, s.id, s.manager.ExportState())
		if err != nil {
			return out, errors.WrapError(err, "save snapshot")
		}
		out.SnapshotID = meta.ID
		s.tracer.RecordSnapshot(ctx, s.id, meta.Size)
	}

	log.Debug("turn finished", "tokens", res.TotalTokens, "steps", len(out.Steps))
	return out, nil
}

// compact 在需要时压缩对话，失败只记日志，不影响本轮
func (s *Session) compact(ctx context.Context, log otel.Logger) *ctxwin.CompactResult {
	if s.config.DisableAutoCompact {
		return nil
	}
	res, err := s.manager.Compact(ctx, s.provider, ctxwin.CompactOptions{
		Auto:         true,
		Instructions: s.config.CompactInstructions,
	})
	if err != nil {
		log.Warn("conversation compaction failed", "error", err)
		return nil
	}
	if !res.Compacted {
		return nil
	}
	log.Info("conversation compacted before turn",
		"tokens_before", res.TokensBefore, "tokens_after", res.TokensAfter, "needs_reread", res.NeedsReread)
	return &res
}

// estimateDriftTolerance 首轮实际 prompt 用量与估算相差超过该比例时记录日志
const estimateDriftTolerance = 0.25

// generate 调用模型并执行工具循环，返回最终回复
func (s *Session) generate(ctx context.Context, messages []message.Message, estimate int) (string, []ReasoningStep, message.TokenUsage, error) {
	var steps []ReasoningStep
	var usage message.TokenUsage

	toolDefs := s.toolDefinitions()
	messages = append([]message.Message(nil), messages...)

	for round := 0; ; round++ {
		if ctx.Err() != nil {
			return "", steps, usage, errors.ErrContextCanceled
		}

		temp := s.config.Temperature
		maxTokens := s.config.MaxTokens
		req := llm.Request{
			System:      s.config.SystemPrompt,
			Messages:    messages,
			Temperature: &temp,
			MaxTokens:   &maxTokens,
		}
		if len(toolDefs) > 0 {
			req.Tools = toolDefs
			req.ToolChoice = "auto"
		}

		resp, err := s.provider.Generate(ctx, req)
		if err != nil {
			return "", steps, usage, err
		}
		usage.Add(resp.TokenUsage)
		if round == 0 && resp.TokenUsage.DriftExceeds(estimate, estimateDriftTolerance) {
			s.logger.Debug("prompt token estimate drift",
				"session", s.id, "estimated", estimate, "actual", resp.TokenUsage.PromptTokens,
				"drift", resp.TokenUsage.Drift(estimate))
		}

		if resp.Truncated() {
			s.logger.Warn("reply truncated by max_tokens", "session", s.id, "max_tokens", maxTokens)
		}
		if !resp.WantsTools() || s.executor == nil {
			return resp.Content, steps, usage, nil
		}
		if round >= s.config.MaxToolRounds {
			return "", steps, usage, errors.ErrMaxIterationsExceeded
		}

		now := s.manager.Now()
		if resp.Content != "" {
			steps = append(steps, NewThoughtStep(resp.Content, now))
		}
		messages = append(messages, message.Message{
			Role:      message.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range tools.CallsFromMessage(resp.ToolCalls) {
			steps = append(steps, NewActionStep(call.Name, call.Args, now))

			result := s.executor.Execute(ctx, call.Name, call.Args)
			text := result.Text()
			if !result.Success {
				s.logger.Warn("tool call failed", "session", s.id, "tool", call.Name, "error", result.Error)
			}
			steps = append(steps, NewObservationStep(call.Name, text, !result.Success, s.manager.Now()))
			messages = append(messages, message.NewToolMessage(call.ID, call.Name, text))
		}
	}
}

// Resume 从快照存储恢复本会话最新的状态
//
// 没有快照时返回 ErrSnapshotNotFound，窗口保持不变。
func (s *Session) Resume(ctx context.Context) (snapshot.Meta, error) {
	if s.snapshots == nil {
		return snapshot.Meta{}, errors.ErrSnapshotNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, meta, err := s.snapshots.Latest(ctx, s.id)
	if err != nil {
		return snapshot.Meta{}, err
	}
	if err := s.manager.ImportState(state); err != nil {
		return snapshot.Meta{}, err
	}
	s.logger.Info("session resumed", "session", s.id, "snapshot", meta.ID)
	return meta, nil
}

// Save 立即保存一份快照
func (s *Session) Save(ctx context.Context) (snapshot.Meta, error) {
	if s.snapshots == nil {
		return snapshot.Meta{}, fmt.Errorf("%w: no snapshot store", errors.ErrInvalidConfig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.snapshots.Save(ctx, s.id, s.manager.ExportState())
	if err != nil {
		return snapshot.Meta{}, err
	}
	s.tracer.RecordSnapshot(ctx, s.id, meta.Size)
	return meta, nil
}

func (s *Session) toolDefinitions() []llm.ToolDefinition {
	if s.executor == nil || s.executor.Registry() == nil {
		return nil
	}
	return s.executor.Registry().LLMDefinitions()
}

func summarize(res ctxwin.Result, mgr *ctxwin.Manager, expired []refs.Ref) AssemblySummary {
	return AssemblySummary{
		TotalTokens:    res.TotalTokens,
		Budget:         res.Budget,
		Loaded:         mgr.LoadedRefs(),
		Admitted:       res.Admitted,
		Degraded:       res.Degraded,
		Evicted:        res.Evicted,
		Expired:        append(expired, res.Expired...),
		BudgetExceeded: res.BudgetExceeded,
	}
}

// compile-time interface check
var _ Agent = (*Session)(nil)
