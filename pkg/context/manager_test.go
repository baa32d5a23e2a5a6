package context

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/clock"
	coreerrors "github.com/easyops/ctxwindow-go/pkg/core/errors"
	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/easyops/ctxwindow-go/pkg/editstrategy"
	"github.com/easyops/ctxwindow-go/pkg/otel"
	"github.com/easyops/ctxwindow-go/pkg/refs"
	"github.com/easyops/ctxwindow-go/pkg/store"
	"github.com/easyops/ctxwindow-go/pkg/tokens"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, opts ...ConfigOption) (*Manager, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	cfg := NewConfig(append([]ConfigOption{WithEstimateMode(tokens.ModeContentOnly)}, opts...)...)
	m, err := NewManager(WithConfig(cfg), WithClock(clk))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m, clk
}

// fiftyLines 生成 50 行的 a.ts，edit 可以替换指定行
func fiftyLines(edit map[int]string) string {
	lines := make([]string, 50)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d of content", i)
	}
	lines[10] = "function foo(a) {"
	lines[11] = "  return a"
	lines[12] = "}"
	lines[30] = "// helper notes"
	for i, l := range edit {
		lines[i] = l
	}
	return strings.Join(lines, "\n")
}

func functions(prefix string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "function %s%d(x) {\n  const y = x * %d\n  return y + 1\n}\n", prefix, i, i)
	}
	return b.String()
}

// assertBijection 检查已加载集合与引用条目一一对应
func assertBijection(t *testing.T, m *Manager) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[refs.Ref]bool)
	for _, e := range m.entries {
		if !e.IsReference() {
			continue
		}
		if seen[e.SourceRef] {
			t.Errorf("ref %s has more than one entry", e.SourceRef)
		}
		seen[e.SourceRef] = true
		if _, ok := m.loaded[e.SourceRef]; !ok {
			t.Errorf("entry %s is not in loaded refs", e.SourceRef)
		}
	}
	if len(seen) != len(m.loaded) {
		t.Errorf("loaded refs = %d, reference entries = %d", len(m.loaded), len(seen))
	}
}

func entryFor(t *testing.T, m *Manager, ref refs.Ref) Entry {
	t.Helper()
	for _, e := range m.Entries() {
		if e.SourceRef == ref {
			return e
		}
	}
	t.Fatalf("no entry for %s", ref)
	return Entry{}
}

func assemble(t *testing.T, m *Manager, text string, opts AssembleOptions) Result {
	t.Helper()
	msg := message.Message{Role: message.RoleUser, Content: text}
	res, err := m.AssembleContext(context.Background(), msg, opts)
	if err != nil {
		t.Fatalf("AssembleContext(%q) error = %v", text, err)
	}
	assertBijection(t, m)
	return res
}

// loadFile 写入文件并以 full 级别加载
func loadFile(t *testing.T, m *Manager, path, content string) {
	t.Helper()
	m.SetFile(context.Background(), path, content, nil)
	assemble(t, m, "working on it", AssembleOptions{Pins: []refs.Ref{refs.File(path)}})
	if e := entryFor(t, m, refs.File(path)); e.Level != refs.LevelFull {
		t.Fatalf("%s level = %v, want full", path, e.Level)
	}
}

func TestNewManager_InvalidConfig(t *testing.T) {
	_, err := NewManager(WithConfig(NewConfig(WithSafetyThreshold(1.5))))
	if err == nil {
		t.Fatal("NewManager() with threshold 1.5 should fail")
	}
}

func TestAssembleContext_MentionedFile(t *testing.T) {
	tests := []struct {
		name        string
		headersOnly bool
		want        refs.Level
	}{
		{name: "headers only by default", headersOnly: true, want: refs.LevelHeaders},
		{name: "full by default", headersOnly: false, want: refs.LevelFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, WithHeadersOnlyByDefault(tt.headersOnly))
			m.SetFile(context.Background(), "a.ts", functions("f", 3), nil)

			res := assemble(t, m, "please look at @a.ts", AssembleOptions{})
			if diff := cmp.Diff([]refs.Ref{"file:a.ts"}, res.Admitted); diff != "" {
				t.Errorf("Admitted mismatch (-want +got):\n%s", diff)
			}
			if e := entryFor(t, m, "file:a.ts"); e.Level != tt.want {
				t.Errorf("level = %v, want %v", e.Level, tt.want)
			}
			if got := m.Entries()[0]; got.Role != message.RoleUser || got.IsReference() {
				t.Errorf("first entry = %+v, want the raw user turn", got)
			}
		})
	}
}

func TestAssembleContext_PinForcesFull(t *testing.T) {
	m, _ := newTestManager(t)
	m.SetFile(context.Background(), "a.ts", functions("f", 3), nil)

	res := assemble(t, m, "hello", AssembleOptions{Pins: []refs.Ref{"file:a.ts", "bogus"}})
	if len(res.Admitted) != 1 || res.Admitted[0] != "file:a.ts" {
		t.Fatalf("Admitted = %v, want [file:a.ts]", res.Admitted)
	}
	e := entryFor(t, m, "file:a.ts")
	if e.Level != refs.LevelFull || !strings.HasPrefix(e.Content, "File: a.ts\n") {
		t.Errorf("entry = %v %q, want full content", e.Level, e.Content)
	}
}

func TestAssembleContext_UnresolvableRefDropped(t *testing.T) {
	m, _ := newTestManager(t)
	res := assemble(t, m, "open @missing.ts and task:nope", AssembleOptions{})
	if len(res.Admitted) != 0 {
		t.Errorf("Admitted = %v, want none", res.Admitted)
	}
	if len(m.LoadedRefs()) != 0 {
		t.Errorf("LoadedRefs = %v, want none", m.LoadedRefs())
	}
}

func TestAssembleContext_TerminalPointerUnlessMentioned(t *testing.T) {
	m, _ := newTestManager(t)
	m.AddTerminalEntry("npm test", "ok", store.TerminalMeta{ID: "t1"})

	res := assemble(t, m, "hello", AssembleOptions{Pins: nil})
	if len(res.Admitted) != 0 {
		t.Fatalf("Admitted = %v, want none", res.Admitted)
	}

	res = assemble(t, m, "what did the last command print?", AssembleOptions{})
	if len(res.Admitted) != 1 || res.Admitted[0] != refs.TerminalRecent {
		t.Fatalf("Admitted = %v, want [terminal:recent]", res.Admitted)
	}
	if e := entryFor(t, m, refs.TerminalRecent); e.Level != refs.LevelFull || !strings.Contains(e.Content, "$ npm test") {
		t.Errorf("terminal entry = %v %q", e.Level, e.Content)
	}

	m.AddTerminalEntry("go vet", "Error: bad", store.TerminalMeta{ID: "t2", ExitCode: 1})
	if e := entryFor(t, m, refs.TerminalRecent); !strings.HasPrefix(e.Content, "$ go vet") {
		t.Errorf("terminal entry not refreshed: %q", e.Content)
	}
}

func TestAssembleContext_DegradesUnderBudget(t *testing.T) {
	m, _ := newTestManager(t, WithMaxTokens(1000), WithSafetyThreshold(0.7))
	ctx := context.Background()
	m.SetFile(ctx, "a.ts", functions("alpha", 20), nil)
	m.SetFile(ctx, "b.ts", functions("beta", 20), nil)

	res := assemble(t, m, "load both files", AssembleOptions{Pins: []refs.Ref{"file:a.ts", "file:b.ts"}})
	if res.Budget != 700 {
		t.Fatalf("Budget = %d, want 700", res.Budget)
	}
	if len(res.Admitted) != 2 || res.TotalTokens > res.Budget {
		t.Fatalf("first turn admitted %v with %d tokens", res.Admitted, res.TotalTokens)
	}

	res = assemble(t, m, strings.Repeat("x", 600), AssembleOptions{})
	if res.BudgetExceeded || res.TotalTokens > res.Budget {
		t.Errorf("TotalTokens = %d, Budget = %d, exceeded = %v", res.TotalTokens, res.Budget, res.BudgetExceeded)
	}
	if diff := cmp.Diff([]refs.Ref{"file:a.ts"}, res.Degraded); diff != "" {
		t.Errorf("Degraded mismatch (-want +got):\n%s", diff)
	}
	if len(res.Evicted) != 0 {
		t.Errorf("Evicted = %v, want none", res.Evicted)
	}
	if e := entryFor(t, m, "file:a.ts"); e.Level != refs.LevelSymbols {
		t.Errorf("a.ts level = %v, want symbols", e.Level)
	}
	if e := entryFor(t, m, "file:b.ts"); e.Level != refs.LevelFull {
		t.Errorf("b.ts level = %v, want full", e.Level)
	}
}

func TestAssembleContext_RawTurnsOnlySoftExceed(t *testing.T) {
	m, _ := newTestManager(t, WithMaxTokens(100))
	m.SetFile(context.Background(), "a.ts", functions("f", 2), nil)

	res := assemble(t, m, strings.Repeat("y", 400), AssembleOptions{Pins: []refs.Ref{"file:a.ts"}})
	if !res.BudgetExceeded {
		t.Errorf("BudgetExceeded = false with %d tokens over a budget of %d", res.TotalTokens, res.Budget)
	}
	if len(m.LoadedRefs()) != 0 {
		t.Errorf("LoadedRefs = %v, want none", m.LoadedRefs())
	}
	if got := len(m.Entries()); got != 1 {
		t.Errorf("entries = %d, want only the raw turn", got)
	}
}

func TestAssembleContext_DegradesLowestScoreFirst(t *testing.T) {
	m, clk := newTestManager(t, WithMaxTokens(1000), WithSafetyThreshold(0.7))
	ctx := context.Background()
	m.SetFile(ctx, "old.ts", functions("old", 8), nil)
	m.SetFile(ctx, "new.ts", functions("fresh", 8), nil)
	m.UpdateTask("t1", store.TaskUpdate{Description: "ship it", Status: "open"})

	assemble(t, m, "start", AssembleOptions{Pins: []refs.Ref{"file:old.ts"}})
	clk.Advance(10 * time.Minute)
	assemble(t, m, "next", AssembleOptions{Pins: []refs.Ref{"file:new.ts", "task:t1"}})

	res := assemble(t, m, strings.Repeat("z", 1800), AssembleOptions{})
	if res.TotalTokens > res.Budget {
		t.Fatalf("TotalTokens = %d over Budget = %d", res.TotalTokens, res.Budget)
	}
	if len(res.Degraded) == 0 || res.Degraded[0] != "file:old.ts" {
		t.Fatalf("Degraded = %v, want file:old.ts first", res.Degraded)
	}
	if e := entryFor(t, m, "file:old.ts"); e.Level == refs.LevelFull {
		t.Errorf("file:old.ts still at full")
	}
	if e := entryFor(t, m, "file:new.ts"); e.Level != refs.LevelFull {
		t.Errorf("file:new.ts level = %v, want full", e.Level)
	}
}

func TestAssembleContext_PointerEntriesEvictedByScore(t *testing.T) {
	m, clk := newTestManager(t, WithMaxTokens(1000), WithSafetyThreshold(0.7))
	loadFile(t, m, "low.ts", functions("low", 20))

	clk.Advance(30 * time.Minute)
	m.SetFile(context.Background(), "high.ts", functions("high", 20), nil)
	for i := 0; i < 3; i++ {
		assemble(t, m, "check @high.ts again", AssembleOptions{})
		clk.Advance(time.Second)
	}
	if e := entryFor(t, m, "file:high.ts"); e.Level != refs.LevelHeaders {
		t.Fatalf("high.ts level = %v, want headers", e.Level)
	}
	now := m.Now()
	if low, high := m.usage.Score("file:low.ts", "", now), m.usage.Score("file:high.ts", "", now); low >= high {
		t.Fatalf("score(low.ts) = %.3f, score(high.ts) = %.3f, want low < high", low, high)
	}

	res := assemble(t, m, strings.Repeat("q", 1600), AssembleOptions{})
	if res.TotalTokens > res.Budget {
		t.Fatalf("TotalTokens = %d over Budget = %d", res.TotalTokens, res.Budget)
	}
	if len(res.Degraded) == 0 || res.Degraded[0] != "file:low.ts" {
		t.Errorf("Degraded = %v, want file:low.ts first", res.Degraded)
	}
	if len(res.Evicted) != 0 {
		t.Errorf("Evicted = %v, want none while pointers fit", res.Evicted)
	}
	entryFor(t, m, "file:low.ts")
	if e := entryFor(t, m, "file:high.ts"); e.Level == refs.LevelPointer && e.Content != "@file:high.ts" {
		t.Errorf("high.ts pointer content = %q", e.Content)
	}

	res = assemble(t, m, strings.Repeat("r", 3000), AssembleOptions{})
	if diff := cmp.Diff([]refs.Ref{"file:low.ts", "file:high.ts"}, res.Evicted); diff != "" {
		t.Errorf("Evicted mismatch (-want +got):\n%s", diff)
	}
	if !res.BudgetExceeded {
		t.Errorf("BudgetExceeded = false with %d tokens over a budget of %d", res.TotalTokens, res.Budget)
	}
}

func TestStepDown_SkipsUnresolvableLevels(t *testing.T) {
	m, _ := newTestManager(t)
	loadFile(t, m, "a.ts", functions("f", 4))

	var got []refs.Level
	m.mu.Lock()
	for m.stepDown("file:a.ts") {
		got = append(got, m.entries[m.indexOf("file:a.ts")].Level)
	}
	m.mu.Unlock()

	want := []refs.Level{refs.LevelSymbols, refs.LevelHeaders, refs.LevelPointer}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("levels mismatch (-want +got):\n%s", diff)
	}
	if e := entryFor(t, m, "file:a.ts"); e.Content != "@file:a.ts" {
		t.Errorf("pointer content = %q, want @file:a.ts", e.Content)
	}

	res := assemble(t, m, "back to @a.ts", AssembleOptions{})
	if diff := cmp.Diff([]refs.Ref{"file:a.ts"}, res.Admitted); diff != "" {
		t.Errorf("Admitted mismatch (-want +got):\n%s", diff)
	}
	if e := entryFor(t, m, "file:a.ts"); e.Level == refs.LevelPointer {
		t.Errorf("a.ts still at pointer after being mentioned")
	}
}

func TestAssembleContext_CancelledContext(t *testing.T) {
	m, _ := newTestManager(t)
	m.SetFile(context.Background(), "a.ts", "x", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.AssembleContext(ctx, message.NewUserMessage("@a.ts"), AssembleOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("AssembleContext() error = %v, want context.Canceled", err)
	}
	if n := len(m.Entries()); n != 0 {
		t.Errorf("entries = %d after cancelled assembly, want 0", n)
	}
}

func TestAssembleContext_Deterministic(t *testing.T) {
	run := func() Result {
		m, _ := newTestManager(t, WithMaxTokens(1000))
		ctx := context.Background()
		m.SetFile(ctx, "a.ts", functions("a", 10), nil)
		m.SetFile(ctx, "b.ts", functions("b", 10), nil)
		m.AddTerminalEntry("ls", "a.ts\nb.ts", store.TerminalMeta{ID: "t1"})
		return assemble(t, m, "compare @a.ts and @b.ts then run the tests", AssembleOptions{})
	}
	first, second := run(), run()
	if diff := cmp.Diff(first.Messages, second.Messages); diff != "" {
		t.Errorf("messages differ between identical runs (-first +second):\n%s", diff)
	}
}

func TestSetFile_EditStrategies(t *testing.T) {
	base := fiftyLines(nil)

	tests := []struct {
		name       string
		edit       map[int]string
		want       editstrategy.Strategy
		diffPrefix string
	}{
		{
			name:       "two plain lines",
			edit:       map[int]string{20: "line 20 edited", 40: "line 40 edited"},
			want:       editstrategy.ReplaceWithDiff,
			diffPrefix: "File Edit: a.ts\n```diff\n",
		},
		{
			name:       "function signature",
			edit:       map[int]string{10: "function foo(a, b) {", 40: "line 40 edited"},
			want:       editstrategy.KeepBoth,
			diffPrefix: "Small Edit: a.ts\n```diff\n",
		},
		{
			name:       "new import",
			edit:       map[int]string{2: "import { x } from './x'"},
			want:       editstrategy.DiffMarkerOnly,
			diffPrefix: "Major Edit: a.ts\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t)
			loadFile(t, m, "a.ts", base)

			res := m.SetFile(context.Background(), "a.ts", fiftyLines(tt.edit), nil)
			assertBijection(t, m)
			if res.Decision == nil {
				t.Fatal("SetFile() on a loaded file returned no decision")
			}
			if res.Decision.Strategy != tt.want {
				t.Fatalf("strategy = %s (%s), want %s", res.Decision.Strategy, res.Decision.Reason, tt.want)
			}
			if res.DiffRef != refs.Diff("a.ts", 1) {
				t.Errorf("DiffRef = %s, want diff:a.ts:1", res.DiffRef)
			}

			d := entryFor(t, m, res.DiffRef)
			if !d.IsDiffMarker || d.EditStrategy != tt.want || d.ReplacesOriginal != tt.want.ReplacesOriginal() {
				t.Errorf("diff entry = %+v", d)
			}
			if !strings.HasPrefix(d.Content, tt.diffPrefix) {
				t.Errorf("diff content = %q, want prefix %q", d.Content, tt.diffPrefix)
			}

			entries := m.Entries()
			f := entryFor(t, m, "file:a.ts")
			if f.Level != refs.LevelFull {
				t.Errorf("file level = %v, want full", f.Level)
			}
			if tt.want.ReplacesOriginal() {
				if last := entries[len(entries)-1]; last.SourceRef != "file:a.ts" {
					t.Errorf("last entry = %s, want the reloaded file", last.SourceRef)
				}
				if !strings.HasPrefix(f.Content, "File: a.ts (current version)") {
					t.Errorf("file content = %q, want current version", f.Content[:40])
				}
			} else if strings.Contains(f.Content, "(current version)") {
				t.Errorf("KEEP_BOTH file entry should not be marked current version")
			}
			if !strings.Contains(f.Content, "line 40 edited") && tt.want != editstrategy.DiffMarkerOnly {
				t.Errorf("file entry does not carry the new content")
			}
		})
	}
}

func TestSetFile_NotLoadedKeepsHistoryOnly(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	m.SetFile(ctx, "a.ts", fiftyLines(nil), nil)
	res := m.SetFile(ctx, "a.ts", fiftyLines(map[int]string{20: "changed"}), nil)

	if res.Decision != nil || res.DiffRef != "" {
		t.Errorf("SetFile() on an unloaded file ran the edit pipeline: %+v", res)
	}
	if !res.Record.HasHistory() {
		t.Error("record should keep the previous version")
	}
	if len(m.Entries()) != 0 {
		t.Errorf("entries = %d, want 0", len(m.Entries()))
	}
}

func TestCheckExpirations(t *testing.T) {
	edit1 := map[int]string{20: "line 20 edited", 40: "line 40 edited"}
	edit2 := map[int]string{20: "line 20 edited", 40: "line 40 edited", 21: "line 21 edited", 41: "line 41 edited"}

	t.Run("replace expires after ttl", func(t *testing.T) {
		m, clk := newTestManager(t)
		ctx := context.Background()
		loadFile(t, m, "a.ts", fiftyLines(nil))
		res := m.SetFile(ctx, "a.ts", fiftyLines(edit1), nil)

		if got := m.CheckExpirations(ctx, clk.Advance(4*time.Minute)); len(got) != 0 {
			t.Fatalf("expired early: %v", got)
		}
		got := m.CheckExpirations(ctx, clk.Advance(time.Minute))
		if diff := cmp.Diff([]refs.Ref{res.DiffRef}, got); diff != "" {
			t.Fatalf("expired mismatch (-want +got):\n%s", diff)
		}
		assertBijection(t, m)

		f, _ := m.File("a.ts")
		if f.HasHistory() {
			t.Error("history should be cleared once the only diff expires")
		}
		if e := entryFor(t, m, "file:a.ts"); strings.Contains(e.Content, "(current version)") {
			t.Errorf("file entry still marked current version: %q", e.Content[:40])
		}
		if len(m.DiffRecords()) != 0 {
			t.Errorf("DiffRecords = %v, want none", m.DiffRecords())
		}
	})

	t.Run("newer diff keeps history", func(t *testing.T) {
		m, clk := newTestManager(t)
		ctx := context.Background()
		loadFile(t, m, "a.ts", fiftyLines(nil))
		first := m.SetFile(ctx, "a.ts", fiftyLines(edit1), nil)
		clk.Advance(time.Minute)
		second := m.SetFile(ctx, "a.ts", fiftyLines(edit2), nil)
		if second.DiffRef != refs.Diff("a.ts", 2) {
			t.Fatalf("second DiffRef = %s", second.DiffRef)
		}

		got := m.CheckExpirations(ctx, clk.Advance(4*time.Minute))
		if diff := cmp.Diff([]refs.Ref{first.DiffRef}, got); diff != "" {
			t.Fatalf("expired mismatch (-want +got):\n%s", diff)
		}
		f, _ := m.File("a.ts")
		if !f.HasHistory() {
			t.Error("superseded expiry must not clear the newer diff's history")
		}
		loaded := m.LoadedRefs()
		for _, ref := range loaded {
			if ref == first.DiffRef {
				t.Errorf("expired diff still loaded: %v", loaded)
			}
		}
	})

	t.Run("recent use extends expiry", func(t *testing.T) {
		m, clk := newTestManager(t)
		ctx := context.Background()
		loadFile(t, m, "a.ts", fiftyLines(nil))
		res := m.SetFile(ctx, "a.ts", fiftyLines(edit1), nil)

		clk.Advance(4 * time.Minute)
		assemble(t, m, "show me the diff", AssembleOptions{})

		if got := m.CheckExpirations(ctx, clk.Advance(time.Minute)); len(got) != 0 {
			t.Fatalf("diff used a minute ago expired: %v", got)
		}
		recs := m.DiffRecords()
		if len(recs) != 1 || !recs[0].ExpiresAt.Equal(t0.Add(9*time.Minute)) {
			t.Fatalf("DiffRecords = %+v, want expiry extended to t0+9m", recs)
		}
		got := m.CheckExpirations(ctx, clk.Advance(4*time.Minute))
		if diff := cmp.Diff([]refs.Ref{res.DiffRef}, got); diff != "" {
			t.Errorf("expired mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestCurrentContext_Analytics(t *testing.T) {
	m, _ := newTestManager(t)
	empty := m.CurrentContext().Metadata
	if empty.ContextQuality != 1 || empty.EditStrategyBreakdown.AverageContextPreservation != 1 {
		t.Errorf("empty context quality = %v, breakdown = %+v", empty.ContextQuality, empty.EditStrategyBreakdown)
	}

	loadFile(t, m, "a.ts", fiftyLines(nil))
	res := m.SetFile(context.Background(), "a.ts", fiftyLines(map[int]string{20: "x", 40: "y"}), nil)
	if res.Decision.Strategy != editstrategy.ReplaceWithDiff {
		t.Fatalf("strategy = %s, want replace", res.Decision.Strategy)
	}

	meta := m.CurrentContext().Metadata
	b := meta.EditStrategyBreakdown
	if b.ReplaceWithDiff != 1 || b.TotalEdits != 1 {
		t.Errorf("breakdown = %+v", b)
	}
	if b.AverageContextPreservation != 0.875 || b.MemoryEfficiencyScore != 0.9 {
		t.Errorf("breakdown weights = %v / %v, want 0.875 / 0.9", b.AverageContextPreservation, b.MemoryEfficiencyScore)
	}

	recs := m.DiffRecords()
	wantSavings := float64(recs[0].OriginalTokens - recs[0].DiffTokens)
	if meta.MemoryAnalysis.TotalSavings != wantSavings {
		t.Errorf("TotalSavings = %v, want %v", meta.MemoryAnalysis.TotalSavings, wantSavings)
	}
	if meta.MemoryAnalysis.ProjectedWithoutOptimization != float64(meta.TotalTokens)+wantSavings {
		t.Errorf("Projected = %v", meta.MemoryAnalysis.ProjectedWithoutOptimization)
	}
	if meta.ContextQuality >= 1 || meta.ContextQuality <= 0.875 {
		t.Errorf("ContextQuality = %v, want between 0.875 and 1", meta.ContextQuality)
	}
	g := meta.EfficiencyGains
	if g.ContextPreservationPercentage != 87.5 {
		t.Errorf("ContextPreservationPercentage = %v, want 87.5", g.ContextPreservationPercentage)
	}
	if diff := g.EfficiencyScore - (g.MemorySavingsPercentage/100*0.6 + 0.875*0.4); diff > 1e-9 || diff < -1e-9 {
		t.Errorf("EfficiencyScore = %v inconsistent with savings %v", g.EfficiencyScore, g.MemorySavingsPercentage)
	}
	if diff := cmp.Diff(m.LoadedRefs(), meta.LoadedRefs); diff != "" {
		t.Errorf("LoadedRefs mismatch (-want +got):\n%s", diff)
	}
}

func TestExportImportState_RoundTrip(t *testing.T) {
	m, clk := newTestManager(t)
	ctx := context.Background()
	loadFile(t, m, "a.ts", fiftyLines(nil))
	m.SetFile(ctx, "a.ts", fiftyLines(map[int]string{20: "edited"}), map[string]interface{}{"lang": "ts"})
	m.SetFile(ctx, "b.go", "package b\n\nfunc B() {}\n", nil)
	m.AddTerminalEntry("go test ./...", "ok", store.TerminalMeta{ID: "t1"})
	m.UpdateTask("t1", store.TaskUpdate{Description: "fix", Status: "open"})
	assemble(t, m, "check task:t1", AssembleOptions{})

	data, err := json.Marshal(m.ExportState())
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	other, err := NewManager(WithClock(clk))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	other.AddMessage(message.NewUserMessage("kept"))
	if err := other.ImportState(state); err != nil {
		t.Fatalf("ImportState() error = %v", err)
	}

	data2, err := json.Marshal(other.ExportState())
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var state2 State
	if err := json.Unmarshal(data2, &state2); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if diff := cmp.Diff(state, state2, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("state mismatch after round trip (-want +got):\n%s", diff)
	}
	if got := other.Config(); got.EstimateMode != tokens.ModeContentOnly {
		t.Errorf("imported config EstimateMode = %v, want content only", got.EstimateMode)
	}
	if n := len(other.Entries()); n != 1 {
		t.Errorf("entries after import = %d, want the single raw turn", n)
	}
	assertBijection(t, other)
}

func TestImportState_InvalidLeavesStateUntouched(t *testing.T) {
	m, _ := newTestManager(t)
	loadFile(t, m, "a.ts", "const a = 1\n")
	before := m.ExportState()
	entries := m.Entries()

	tests := []struct {
		name   string
		mutate func(*State)
	}{
		{name: "missing files", mutate: func(s *State) { s.ContentStore.Files = nil }},
		{name: "missing usage", mutate: func(s *State) { s.UsageStats = nil }},
		{name: "bad config", mutate: func(s *State) { s.Config.MaxTokens = 0 }},
		{name: "bad ref", mutate: func(s *State) { s.UsageStats[0].Ref = "nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := m.ExportState()
			tt.mutate(&s)
			err := m.ImportState(s)
			if !errors.Is(err, coreerrors.ErrInvalidSnapshot) {
				t.Fatalf("ImportState() error = %v, want ErrInvalidSnapshot", err)
			}
			if diff := cmp.Diff(before, m.ExportState()); diff != "" {
				t.Errorf("state changed by rejected import (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(entries, m.Entries()); diff != "" {
				t.Errorf("entries changed by rejected import (-want +got):\n%s", diff)
			}
		})
	}
}

func TestManager_Observability(t *testing.T) {
	metrics := otel.NewInMemoryMetrics()
	clk := clock.NewManual(t0)
	m, err := NewManager(
		WithConfig(NewConfig(WithEstimateMode(tokens.ModeContentOnly))),
		WithClock(clk),
		WithMetrics(metrics),
	)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	loadFile(t, m, "a.ts", fiftyLines(nil))
	m.SetFile(context.Background(), "a.ts", fiftyLines(map[int]string{20: "x"}), nil)
	m.CheckExpirations(context.Background(), clk.Advance(time.Hour))

	if got := metrics.GetCounterValue(otel.MetricContextAssemblies); got != 1 {
		t.Errorf("%s = %d, want 1", otel.MetricContextAssemblies, got)
	}
	if got := metrics.GetCounterValue(otel.MetricContextEdits); got != 1 {
		t.Errorf("%s = %d, want 1", otel.MetricContextEdits, got)
	}
	if got := metrics.GetCounterValue(otel.MetricContextDiffsExpired); got != 1 {
		t.Errorf("%s = %d, want 1", otel.MetricContextDiffsExpired, got)
	}
	if got := metrics.GetGaugeValue(otel.MetricContextTokens); got <= 0 {
		t.Errorf("%s = %v, want > 0", otel.MetricContextTokens, got)
	}
}

func TestWithContentRelevance(t *testing.T) {
	m, err := NewManager(WithContentRelevance(), WithClock(clock.NewManual(t0)))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	ctx := context.Background()
	m.SetFile(ctx, "auth/session.go", "func refreshToken(s *Session) error { return nil }", nil)
	m.SetFile(ctx, "math/vector.go", "func dot(a, b []float64) float64 { return 0 }", nil)

	auth := m.relevance.Relevance(refs.File("auth/session.go"), "refresh the session token")
	vec := m.relevance.Relevance(refs.File("math/vector.go"), "refresh the session token")
	if auth <= vec {
		t.Fatalf("auth relevance %v should exceed %v", auth, vec)
	}

	m.SetFile(ctx, "math/vector.go", "func refreshToken() {} // session token", nil)
	if got := m.relevance.Relevance(refs.File("math/vector.go"), "refresh the session token"); got <= vec {
		t.Errorf("relevance after edit = %v, want > %v", got, vec)
	}
}

func TestImportState_UsesImportedConfigAndTracksHistory(t *testing.T) {
	src, clk := newTestManager(t, WithTerminalCompressionAfter(1))
	ctx := context.Background()
	src.SetFile(ctx, "a.ts", fiftyLines(nil), nil)
	src.SetFile(ctx, "a.ts", fiftyLines(map[int]string{20: "changed"}), nil)
	state := src.ExportState()

	dst, err := NewManager(WithClock(clk))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if err := dst.ImportState(state); err != nil {
		t.Fatalf("ImportState() error = %v", err)
	}

	dst.AddTerminalEntry("echo one", "fine", store.TerminalMeta{ID: "c1"})
	clk.Advance(time.Second)
	dst.AddTerminalEntry("echo two", "fine", store.TerminalMeta{ID: "c2"})
	if rec, _ := dst.Terminal("c1"); !rec.Compressed {
		t.Errorf("c1 Compressed = false, want true with imported compression after 1")
	}

	recs := dst.DiffRecords()
	if len(recs) != 1 || recs[0].Path != "a.ts" {
		t.Fatalf("DiffRecords() = %+v, want one record for a.ts", recs)
	}
	if !recs[0].CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want file modification time %v", recs[0].CreatedAt, t0)
	}

	dst.CheckExpirations(ctx, t0.Add(time.Hour))
	if rec, _ := dst.File("a.ts"); rec.HasHistory() {
		t.Error("history should be cleared once the imported diff expires")
	}
	if n := len(dst.DiffRecords()); n != 0 {
		t.Errorf("DiffRecords() after expiry = %d, want 0", n)
	}
}
