package agents_test

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/agents"
	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/core/clock"
	"github.com/easyops/ctxwindow-go/pkg/core/config"
	"github.com/easyops/ctxwindow-go/pkg/core/errors"
	"github.com/easyops/ctxwindow-go/pkg/core/llm"
	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/easyops/ctxwindow-go/pkg/otel"
	"github.com/easyops/ctxwindow-go/pkg/snapshot"
	"github.com/easyops/ctxwindow-go/pkg/tokens"
	"github.com/easyops/ctxwindow-go/pkg/tools"
	"github.com/easyops/ctxwindow-go/pkg/tools/builtin"
)

// mockProvider implements llm.Provider for testing
type mockProvider struct {
	mu         sync.Mutex
	requests   []llm.Request
	generateFn func(ctx context.Context, req llm.Request, call int) (llm.Response, error)
}

func (m *mockProvider) Name() string  { return "mock" }
func (m *mockProvider) Model() string { return "gpt-4o" }
func (m *mockProvider) Close() error  { return nil }

func (m *mockProvider) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	call := len(m.requests)
	m.mu.Unlock()

	if m.generateFn != nil {
		return m.generateFn(ctx, req, call)
	}
	return llm.Response{
		Content:      "Looks fine.",
		FinishReason: "stop",
		TokenUsage: message.TokenUsage{
			PromptTokens:     10,
			CompletionTokens: 8,
			TotalTokens:      18,
		},
	}, nil
}

func newManager(t *testing.T) *ctxwin.Manager {
	t.Helper()
	mgr, err := ctxwin.NewManager(ctxwin.WithClock(clock.NewManual(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	mgr.SetFile(context.Background(), "src/app.ts", "export function main() {\n  return 1\n}\n", nil)
	return mgr
}

func TestNewSession_RequiresDependencies(t *testing.T) {
	if _, err := agents.NewSession(nil, &mockProvider{}); !stderrors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := agents.NewSession(newManager(t), nil); err != errors.ErrProviderUnavailable {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	_, err := agents.NewSession(newManager(t), &mockProvider{}, agents.WithConfig(config.AgentConfig{Temperature: 3}))
	if !stderrors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for bad temperature, got %v", err)
	}
}

func TestSession_RunAssemblesReferencedFiles(t *testing.T) {
	mgr := newManager(t)
	provider := &mockProvider{}
	session, err := agents.NewSession(mgr, provider, agents.WithSystemPrompt("be brief"))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	out, err := session.Run(context.Background(), agents.Input{Query: "what does @src/app.ts return?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Response != "Looks fine." {
		t.Fatalf("unexpected response %q", out.Response)
	}
	if out.TokenUsage.TotalTokens != 18 {
		t.Fatalf("expected 18 tokens, got %d", out.TokenUsage.TotalTokens)
	}
	if out.Assembly.TotalTokens == 0 || out.Assembly.Budget == 0 {
		t.Fatalf("expected assembly summary, got %+v", out.Assembly)
	}

	if len(provider.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(provider.requests))
	}
	req := provider.requests[0]
	if req.System != "be brief" {
		t.Fatalf("expected system prompt, got %q", req.System)
	}
	if req.Tools != nil {
		t.Fatalf("expected no tools without executor, got %v", req.Tools)
	}
	var sawFile bool
	for _, msg := range req.Messages {
		if strings.Contains(msg.Content, "export function main") {
			sawFile = true
		}
	}
	if !sawFile {
		t.Fatal("expected referenced file content in request")
	}

	msgs := mgr.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != message.RoleAssistant || last.Content != "Looks fine." {
		t.Fatalf("expected assistant reply at the end, got %+v", last)
	}
}

func TestSession_RunEmptyInput(t *testing.T) {
	session, err := agents.NewSession(newManager(t), &mockProvider{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	out, err := session.Run(context.Background(), agents.Input{Query: "   "})
	if err != errors.ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if !out.HasError() {
		t.Fatal("expected output error")
	}
}

func TestSession_ProviderError(t *testing.T) {
	provider := &mockProvider{generateFn: func(ctx context.Context, req llm.Request, call int) (llm.Response, error) {
		return llm.Response{}, errors.ErrRateLimited
	}}
	metrics := otel.NewInMemoryMetrics()
	session, err := agents.NewSession(newManager(t), provider, agents.WithObservability(nil, metrics))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	out, err := session.Run(context.Background(), agents.Input{Query: "hello"})
	if err != errors.ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if out.Error != errors.ErrRateLimited.Error() {
		t.Fatalf("expected output error, got %q", out.Error)
	}
	if got := metrics.GetCounterValue(otel.MetricSessionErrors); got != 1 {
		t.Fatalf("expected 1 session error, got %d", got)
	}
}

func TestSession_ToolLoop(t *testing.T) {
	mgr := newManager(t)
	registry := tools.NewRegistry()
	if err := builtin.Register(registry, mgr); err != nil {
		t.Fatalf("Register: %v", err)
	}

	provider := &mockProvider{generateFn: func(ctx context.Context, req llm.Request, call int) (llm.Response, error) {
		if call == 1 {
			return llm.Response{
				Content: "Let me check the task.",
				ToolCalls: []message.ToolCall{{
					ID:        "call-1",
					Name:      "update_task",
					Arguments: map[string]interface{}{"id": "t1", "status": "done"},
				}},
			}, nil
		}
		last := req.Messages[len(req.Messages)-1]
		if last.Role != message.RoleTool || last.ToolCallID != "call-1" {
			t.Errorf("expected tool result as last message, got %+v", last)
		}
		return llm.Response{Content: "Task closed."}, nil
	}}

	session, err := agents.NewSession(mgr, provider, agents.WithTools(tools.NewExecutor(registry)))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	out, err := session.Run(context.Background(), agents.Input{Query: "close task t1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Response != "Task closed." {
		t.Fatalf("unexpected response %q", out.Response)
	}
	if len(provider.requests[0].Tools) != 3 {
		t.Fatalf("expected 3 tool definitions, got %d", len(provider.requests[0].Tools))
	}

	wantTypes := []agents.StepType{agents.StepTypeThought, agents.StepTypeAction, agents.StepTypeObservation}
	if len(out.Steps) != len(wantTypes) {
		t.Fatalf("expected %d steps, got %d", len(wantTypes), len(out.Steps))
	}
	for i, want := range wantTypes {
		if out.Steps[i].Type != want {
			t.Errorf("step %d = %s, want %s", i, out.Steps[i].Type, want)
		}
	}

	task, ok := mgr.Task("t1")
	if !ok || task.Status != "done" {
		t.Fatalf("expected task updated by tool, got %+v", task)
	}
}

func TestSession_ToolRoundsExhausted(t *testing.T) {
	registry := tools.NewRegistry()
	registry.MustRegister(tools.NewFuncTool("noop", "does nothing", tools.ParameterSchema{Type: "object"},
		func(ctx context.Context, args map[string]interface{}) (string, error) { return "ok", nil }))

	provider := &mockProvider{generateFn: func(ctx context.Context, req llm.Request, call int) (llm.Response, error) {
		return llm.Response{ToolCalls: []message.ToolCall{{ID: "c", Name: "noop"}}}, nil
	}}
	session, err := agents.NewSession(newManager(t), provider,
		agents.WithConfig(config.AgentConfig{MaxToolRounds: 2}),
		agents.WithTools(tools.NewExecutor(registry)))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	_, err = session.Run(context.Background(), agents.Input{Query: "loop"})
	if err != errors.ErrMaxIterationsExceeded {
		t.Fatalf("expected ErrMaxIterationsExceeded, got %v", err)
	}
	if len(provider.requests) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(provider.requests))
	}
}

func TestSession_AutoSnapshotAndResume(t *testing.T) {
	store := snapshot.NewMemoryStore(true)
	defer store.Close()

	mgr := newManager(t)
	session, err := agents.NewSession(mgr, &mockProvider{},
		agents.WithSessionID("s-1"),
		agents.WithSnapshots(store),
		agents.WithAutoSnapshot(true))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	out, err := session.Run(context.Background(), agents.Input{Query: "check @src/app.ts"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.SnapshotID == "" {
		t.Fatal("expected snapshot id")
	}

	metas, err := store.List(context.Background(), "s-1")
	if err != nil || len(metas) != 1 {
		t.Fatalf("expected 1 snapshot, got %d, %v", len(metas), err)
	}

	fresh, err := ctxwin.NewManager()
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	resumed, err := agents.NewSession(fresh, &mockProvider{},
		agents.WithSessionID("s-1"),
		agents.WithSnapshots(store))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	meta, err := resumed.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if meta.ID != out.SnapshotID {
		t.Fatalf("expected snapshot %s, got %s", out.SnapshotID, meta.ID)
	}
	if _, ok := fresh.File("src/app.ts"); !ok {
		t.Fatal("expected file restored from snapshot")
	}
	if len(fresh.LoadedRefs()) != 0 {
		t.Fatalf("expected no loaded refs after resume, got %v", fresh.LoadedRefs())
	}
}

func TestSession_ResumeWithoutSnapshot(t *testing.T) {
	session, err := agents.NewSession(newManager(t), &mockProvider{},
		agents.WithSnapshots(snapshot.NewMemoryStore(false)))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := session.Resume(context.Background()); !stderrors.Is(err, errors.ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

// crowdedManager 返回已有 6 条长轮次、用量超过 auto_compact 阈值的管理器
func crowdedManager(t *testing.T) *ctxwin.Manager {
	t.Helper()
	cfg := ctxwin.NewConfig(ctxwin.WithMaxTokens(1000), ctxwin.WithEstimateMode(tokens.ModeContentOnly))
	mgr, err := ctxwin.NewManager(ctxwin.WithConfig(cfg),
		ctxwin.WithClock(clock.NewManual(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	mgr.SetFile(context.Background(), "src/app.ts", "export function main() {\n  return 1\n}\n", nil)
	for i := 0; i < 6; i++ {
		mgr.AddMessage(message.NewUserMessage(strings.Repeat("x", 600)))
	}
	return mgr
}

func TestSession_RunCompactsCrowdedConversation(t *testing.T) {
	mgr := crowdedManager(t)
	provider := &mockProvider{generateFn: func(ctx context.Context, req llm.Request, call int) (llm.Response, error) {
		if call == 1 {
			return llm.Response{Content: "Earlier we looked at @src/app.ts.", FinishReason: "stop"}, nil
		}
		return llm.Response{Content: "Looks fine.", FinishReason: "stop"}, nil
	}}
	session, err := agents.NewSession(mgr, provider, agents.WithConfig(config.AgentConfig{CompactInstructions: "keep paths"}))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	out, err := session.Run(context.Background(), agents.Input{Query: "what next?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Compaction == nil || !out.Compaction.Compacted {
		t.Fatalf("expected compaction before the turn, got %+v", out.Compaction)
	}
	if out.Compaction.OriginalTurns != 6 || out.Compaction.CompactedTurns != 3 {
		t.Fatalf("expected 6 -> 3 turns, got %d -> %d", out.Compaction.OriginalTurns, out.Compaction.CompactedTurns)
	}
	if len(provider.requests) != 2 {
		t.Fatalf("expected summary + reply requests, got %d", len(provider.requests))
	}
	summaryReq := provider.requests[0]
	if prompt := summaryReq.Messages[len(summaryReq.Messages)-1].Content; !strings.Contains(prompt, "keep paths") {
		t.Fatalf("expected compact instructions in summary prompt, got %q", prompt)
	}

	msgs := mgr.Messages()
	if msgs[0].Role != message.RoleSystem || !strings.Contains(msgs[0].Content, "Earlier we looked at") {
		t.Fatalf("expected continuation summary first, got %+v", msgs[0])
	}
	if out.Response != "Looks fine." {
		t.Fatalf("unexpected response %q", out.Response)
	}
}

func TestSession_AutoCompactDisabled(t *testing.T) {
	mgr := crowdedManager(t)
	provider := &mockProvider{}
	session, err := agents.NewSession(mgr, provider, agents.WithConfig(config.AgentConfig{DisableAutoCompact: true}))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	out, err := session.Run(context.Background(), agents.Input{Query: "what next?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Compaction != nil {
		t.Fatalf("expected no compaction, got %+v", out.Compaction)
	}
	if len(provider.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(provider.requests))
	}
}
