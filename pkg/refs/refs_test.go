package refs_test

import (
	"strings"
	"testing"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/clock"
	"github.com/easyops/ctxwindow-go/pkg/refs"
	"github.com/easyops/ctxwindow-go/pkg/store"
	"github.com/google/go-cmp/cmp"
)

type fakeView struct {
	loaded   []refs.Ref
	diffs    map[refs.Ref]refs.DiffEntry
	lastUsed map[refs.Ref]time.Time
}

func (v *fakeView) LoadedRefs() []refs.Ref { return v.loaded }

func (v *fakeView) DiffEntry(r refs.Ref) (refs.DiffEntry, bool) {
	e, ok := v.diffs[r]
	return e, ok
}

func (v *fakeView) LastUsed(r refs.Ref) (time.Time, bool) {
	t, ok := v.lastUsed[r]
	return t, ok
}

func TestRefParts(t *testing.T) {
	tests := []struct {
		ref   refs.Ref
		kind  refs.Kind
		path  string
		valid bool
	}{
		{"file:src/a.ts", refs.KindFile, "src/a.ts", true},
		{refs.Diff("src/a.ts", 12), refs.KindDiff, "src/a.ts", true},
		{"diff:src/a.ts", refs.KindDiff, "", false},
		{"terminal:recent", refs.KindTerminal, "", true},
		{"bogus:x", "", "", false},
		{"file:", "", "", false},
	}
	for _, tt := range tests {
		if got := tt.ref.Kind(); got != tt.kind {
			t.Errorf("%q.Kind() = %q, want %q", tt.ref, got, tt.kind)
		}
		if got := tt.ref.Path(); got != tt.path {
			t.Errorf("%q.Path() = %q, want %q", tt.ref, got, tt.path)
		}
		if got := tt.ref.Valid(); got != tt.valid {
			t.Errorf("%q.Valid() = %v, want %v", tt.ref, got, tt.valid)
		}
	}
}

func TestLevelDown(t *testing.T) {
	var got []string
	l := refs.LevelFull
	for {
		got = append(got, l.String())
		next, ok := l.Down()
		if !ok {
			break
		}
		l = next
	}
	want := []string{"full", "symbols", "headers", "diff", "pointer"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ladder mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract(t *testing.T) {
	loaded := []refs.Ref{
		refs.Diff("a.ts", 1), refs.Diff("b.ts", 2), refs.File("a.ts"),
		refs.Diff("c.ts", 3), refs.Diff("a.ts", 10),
	}
	hasDiff := func(path string) bool { return path == "a.ts" }

	tests := []struct {
		name string
		text string
		want []refs.Ref
	}{
		{
			name: "file and at paths",
			text: "look at file:src/a.ts and @lib/util.go, please.",
			want: []refs.Ref{"file:src/a.ts", "file:lib/util.go"},
		},
		{
			name: "function calls skip keywords",
			text: "why does parseConfig() fail if (x)",
			want: []refs.Ref{"function:parseConfig"},
		},
		{
			name: "function declaration",
			text: "see function handleClick",
			want: []refs.Ref{"function:handleClick"},
		},
		{
			name: "terminal and task",
			text: "Run the build for task:t42",
			want: []refs.Ref{refs.TerminalRecent, "task:t42"},
		},
		{
			name: "diff keyword takes last three loaded diffs",
			text: "show me the diff",
			want: []refs.Ref{refs.Diff("b.ts", 2), refs.Diff("c.ts", 3), refs.Diff("a.ts", 10)},
		},
		{
			name: "edit intent pulls latest diff of the file",
			text: "modify @a.ts again",
			want: []refs.Ref{"file:a.ts", refs.Diff("a.ts", 10)},
		},
		{
			name: "duplicates removed",
			text: "@x.md @x.md",
			want: []refs.Ref{"file:x.md"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := refs.Extract(tt.text, loaded, hasDiff)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Extract(%q) mismatch (-want +got):\n%s", tt.text, diff)
			}
		})
	}
}

func newResolver(t *testing.T, view *fakeView, opts ...refs.ResolverOption) (*refs.Resolver, *store.Store, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	s := store.New(store.WithClock(clk))
	opts = append([]refs.ResolverOption{refs.WithClock(clk), refs.WithView(view)}, opts...)
	return refs.NewResolver(s, opts...), s, clk
}

func TestResolveFile(t *testing.T) {
	view := &fakeView{lastUsed: map[refs.Ref]time.Time{}}
	r, s, clk := newResolver(t, view)
	s.SetFile("a.ts", "export function foo() {\n  return 1\n}", nil)

	full, ok := r.Resolve("file:a.ts", refs.LevelFull)
	if !ok || full != "File: a.ts\n```\nexport function foo() {\n  return 1\n}\n```" {
		t.Errorf("Resolve(full) = %q, %v", full, ok)
	}

	headers, _ := r.Resolve("file:a.ts", refs.LevelHeaders)
	if headers != "File: a.ts (headers only)\n```\nexport function foo()\n```" {
		t.Errorf("Resolve(headers) = %q", headers)
	}

	if _, ok := r.Resolve("file:a.ts", refs.LevelDiff); ok {
		t.Error("Resolve(diff) without a stored diff should fail")
	}
	if p, _ := r.Resolve("file:a.ts", refs.LevelPointer); p != "@file:a.ts" {
		t.Errorf("Resolve(pointer) = %q", p)
	}
	if _, ok := r.Resolve("file:missing.ts", refs.LevelFull); ok {
		t.Error("missing file should not resolve")
	}

	if got := r.InitialLevel("file:a.ts", true); got != refs.LevelHeaders {
		t.Errorf("InitialLevel(unused file) = %v, want headers", got)
	}
	view.lastUsed["file:a.ts"] = clk.Now()
	clk.Advance(10 * time.Minute)
	if got := r.InitialLevel("file:a.ts", false); got != refs.LevelFull {
		t.Errorf("InitialLevel(recent file) = %v, want full", got)
	}
	clk.Advance(30 * time.Minute)
	if got := r.InitialLevel("file:a.ts", false); got != refs.LevelHeaders {
		t.Errorf("InitialLevel(stale file) = %v, want headers", got)
	}
}

func TestResolveFile_ReplacingDiff(t *testing.T) {
	diffRef := refs.Diff("a.ts", 1)
	view := &fakeView{
		loaded: []refs.Ref{diffRef},
		diffs:  map[refs.Ref]refs.DiffEntry{diffRef: {Content: "File Edit: a.ts", Summary: "a.ts: 1 additions, 0 deletions", ReplacesOriginal: true}},
	}
	r, s, _ := newResolver(t, view)
	s.SetFile("a.ts", "v2", nil)

	if got := r.InitialLevel("file:a.ts", false); got != refs.LevelFull {
		t.Errorf("InitialLevel = %v, want full", got)
	}
	got, _ := r.Resolve("file:a.ts", refs.LevelFull)
	if !strings.HasPrefix(got, "File: a.ts (current version)") {
		t.Errorf("Resolve = %q, want current version", got)
	}
	if d, ok := r.Resolve(diffRef, refs.LevelFull); !ok || d != "File Edit: a.ts" {
		t.Errorf("Resolve(diff ref) = %q, %v", d, ok)
	}
	if d, ok := r.Resolve(diffRef, refs.LevelHeaders); !ok || d != "a.ts: 1 additions, 0 deletions" {
		t.Errorf("Resolve(diff ref, headers) = %q, %v", d, ok)
	}
}

func TestResolveFile_HeadersOnlyDisabled(t *testing.T) {
	r, s, _ := newResolver(t, &fakeView{}, refs.WithHeadersOnlyByDefault(false))
	s.SetFile("a.ts", "x", nil)
	if got := r.InitialLevel("file:a.ts", false); got != refs.LevelFull {
		t.Errorf("InitialLevel = %v, want full", got)
	}
}

func TestResolveTerminal(t *testing.T) {
	r, s, clk := newResolver(t, &fakeView{})
	for i := 0; i < 7; i++ {
		clk.Advance(time.Second)
		s.AddTerminalEntry("echo", "ok", store.TerminalMeta{})
	}
	clk.Advance(time.Second)
	s.AddTerminalEntry("go test", "FAIL\nError: x", store.TerminalMeta{ID: "last", ExitCode: 1})

	got, ok := r.Resolve(refs.TerminalRecent, refs.LevelFull)
	if !ok {
		t.Fatal("terminal:recent did not resolve")
	}
	blocks := strings.Split(got, "\n\n")
	if len(blocks) != 5 {
		t.Fatalf("recent blocks = %d, want 5", len(blocks))
	}
	if blocks[0] != "$ go test\nFAIL\nError: x" {
		t.Errorf("newest block = %q", blocks[0])
	}
	if one, _ := r.Resolve(refs.Terminal("last"), refs.LevelFull); one != "$ go test\nFAIL\nError: x" {
		t.Errorf("single entry = %q", one)
	}
	if h, _ := r.Resolve(refs.Terminal("last"), refs.LevelHeaders); h != "$ go test (exit 1)" {
		t.Errorf("headers = %q", h)
	}
	if got := r.InitialLevel(refs.TerminalRecent, false); got != refs.LevelPointer {
		t.Errorf("InitialLevel(terminal, not mentioned) = %v, want pointer", got)
	}
	if got := r.InitialLevel(refs.TerminalRecent, true); got != refs.LevelFull {
		t.Errorf("InitialLevel(terminal, mentioned) = %v, want full", got)
	}
}

func TestResolveTaskAndFunction(t *testing.T) {
	r, s, _ := newResolver(t, &fakeView{})
	s.UpdateTask("t1", store.TaskUpdate{Description: "ship it", Status: "open"})
	s.SetFile("b.ts", "const x = 1\nfunction foo(a) {\n  if (a) {\n    return 1\n  }\n}\nfunction bar() {}", nil)
	s.SetFile("a.go", "package a\n\nfunc foo() int {\n\treturn 2\n}\n", nil)

	task, ok := r.Resolve("task:t1", refs.LevelFull)
	if !ok || !strings.HasPrefix(task, "Task: t1\n{") || !strings.Contains(task, `"status": "open"`) {
		t.Errorf("Resolve(task) = %q", task)
	}

	fn, ok := r.Resolve("function:foo", refs.LevelFull)
	want := "Function: foo from a.go\n```\nfunc foo() int {\n\treturn 2\n}\n```"
	if !ok || fn != want {
		t.Errorf("Resolve(function) = %q, want %q", fn, want)
	}

	if _, ok := r.Resolve("function:nothere", refs.LevelFull); ok {
		t.Error("unknown function should not resolve")
	}
}
