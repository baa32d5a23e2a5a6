package store_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/clock"
	"github.com/easyops/ctxwindow-go/pkg/store"
	"github.com/google/go-cmp/cmp"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newStore() (*store.Store, *clock.Manual) {
	clk := clock.NewManual(epoch)
	return store.New(store.WithClock(clk)), clk
}

func TestSetFile_NewFile(t *testing.T) {
	s, _ := newStore()

	up := s.SetFile("a.ts", "export function foo() {\n  return 1\n}\n", nil)
	if !up.Created || !up.Changed {
		t.Errorf("SetFile new file: Created=%v Changed=%v, want true true", up.Created, up.Changed)
	}
	if up.Previous != nil {
		t.Errorf("SetFile new file: Previous = %+v, want nil", up.Previous)
	}
	rec, ok := s.File("a.ts")
	if !ok {
		t.Fatal("File(a.ts) not found")
	}
	if rec.HasHistory() {
		t.Error("new file should not have history")
	}
	if len(rec.Headers) == 0 {
		t.Error("headers should be extracted eagerly")
	}
	if rec.EstimatedTokens <= 0 {
		t.Errorf("EstimatedTokens = %d, want > 0", rec.EstimatedTokens)
	}
	if rec.Fingerprint != store.Fingerprint(rec.Content) {
		t.Error("fingerprint mismatch")
	}
}

func TestSetFile_KeepsPreviousVersion(t *testing.T) {
	s, _ := newStore()
	s.SetFile("a.ts", "line1\nline2\nline3", nil)

	up := s.SetFile("a.ts", "line1\nchanged\nline3", map[string]interface{}{"source": "test"})
	if up.Created || !up.Changed {
		t.Errorf("Created=%v Changed=%v, want false true", up.Created, up.Changed)
	}
	rec, _ := s.File("a.ts")
	if rec.PreviousContent == nil || *rec.PreviousContent != "line1\nline2\nline3" {
		t.Fatalf("PreviousContent = %v, want original", rec.PreviousContent)
	}
	if rec.Diff == nil || !rec.Diff.HasChanges {
		t.Fatal("Diff should be set with changes")
	}
	if rec.Metadata["isEdited"] != true {
		t.Errorf("metadata isEdited = %v, want true", rec.Metadata["isEdited"])
	}
	if rec.Metadata["source"] != "test" {
		t.Errorf("metadata source = %v, want test", rec.Metadata["source"])
	}
}

func TestSetFile_SameContentIsNoop(t *testing.T) {
	s, clk := newStore()
	s.SetFile("a.go", "package a\n", nil)
	clk.Advance(time.Minute)

	up := s.SetFile("a.go", "package a\n", nil)
	if up.Changed {
		t.Error("identical content should not report a change")
	}
	rec, _ := s.File("a.go")
	if rec.HasHistory() {
		t.Error("identical content should not create history")
	}
	if !rec.LastModified.Equal(epoch) {
		t.Errorf("LastModified = %v, want %v", rec.LastModified, epoch)
	}
}

func TestFileRecords_DoNotAliasStore(t *testing.T) {
	s, _ := newStore()
	s.SetFile("a.ts", "one", map[string]interface{}{"source": "workspace"})
	s.SetFile("a.ts", "function two() {}\n", map[string]interface{}{"source": "workspace"})

	snap := s.Snapshot()
	rec, _ := s.File("a.ts")
	before := rec.Clone()

	s.SetFile("a.ts", "function two() {}\n", map[string]interface{}{"watcher_seen": true})
	rec.Headers[0] = "mutated"
	rec.Metadata["caller"] = "mutated"

	if diff := cmp.Diff(before.Metadata, snap.Files[0].Value.Metadata); diff != "" {
		t.Errorf("snapshot metadata changed after SetFile (-want +got):\n%s", diff)
	}
	got, _ := s.File("a.ts")
	want := map[string]interface{}{"source": "workspace", "isEdited": true, "watcher_seen": true}
	if diff := cmp.Diff(want, got.Metadata); diff != "" {
		t.Errorf("stored metadata mismatch (-want +got):\n%s", diff)
	}
	if got.Headers[0] == "mutated" {
		t.Error("mutating a returned record changed the stored headers")
	}
	if *got.PreviousContent != "one" {
		t.Errorf("PreviousContent = %q, want one", *got.PreviousContent)
	}
}

func TestClearFileHistory(t *testing.T) {
	s, _ := newStore()
	s.SetFile("a.ts", "a", nil)
	s.SetFile("a.ts", "b", nil)

	if !s.ClearFileHistory("a.ts") {
		t.Fatal("ClearFileHistory returned false")
	}
	rec, _ := s.File("a.ts")
	if rec.PreviousContent != nil || rec.Diff != nil {
		t.Error("history should be cleared")
	}
	if s.ClearFileHistory("a.ts") {
		t.Error("second ClearFileHistory should return false")
	}
	if s.ClearFileHistory("missing.ts") {
		t.Error("ClearFileHistory on missing file should return false")
	}
}

func TestRestoreFile(t *testing.T) {
	s, _ := newStore()
	s.SetFile("a.ts", "one", nil)
	old, _ := s.File("a.ts")
	s.SetFile("a.ts", "two", nil)

	s.RestoreFile("a.ts", old)
	rec, _ := s.File("a.ts")
	if rec.Content != "one" || rec.HasHistory() {
		t.Errorf("RestoreFile: content=%q history=%v, want one false", rec.Content, rec.HasHistory())
	}
}

func TestProcessOutput(t *testing.T) {
	lines := func(n int) string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("line %d", i)
		}
		return strings.Join(out, "\n")
	}

	tests := []struct {
		name    string
		output  string
		isError bool
		want    string
	}{
		{"short success", "ok", false, "ok"},
		{"short error", "Error: boom", true, "Error: boom"},
		{"long error under limit", lines(100), true, lines(100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := store.ProcessOutput(tt.output, tt.isError); got != tt.want {
				t.Errorf("ProcessOutput(%q, %v) = %q, want %q", tt.output, tt.isError, got, tt.want)
			}
		})
	}

	t.Run("long error", func(t *testing.T) {
		got := store.ProcessOutput(lines(150), true)
		if !strings.Contains(got, "... (70 lines omitted) ...") {
			t.Errorf("missing omission marker: %q", got)
		}
		if !strings.HasPrefix(got, "line 0\n") || !strings.HasSuffix(got, "line 149") {
			t.Errorf("head/tail not preserved: %q", got)
		}
		if strings.Contains(got, "line 30\n") {
			t.Error("line 30 should be omitted")
		}
	})

	t.Run("long success", func(t *testing.T) {
		got := store.ProcessOutput(lines(40), false)
		if !strings.Contains(got, "... (30 lines omitted; success) ...") {
			t.Errorf("missing success marker: %q", got)
		}
		if strings.Count(got, "\n") != 10 {
			t.Errorf("want 5 head + marker + 5 tail lines, got %q", got)
		}
	})
}

func TestAddTerminalEntry(t *testing.T) {
	s, _ := newStore()

	rec := s.AddTerminalEntry("go build", "Error: undefined: foo", store.TerminalMeta{})
	if !rec.IsError {
		t.Error("output containing Error should be flagged")
	}
	if !strings.HasPrefix(rec.ID, "cmd_") {
		t.Errorf("ID = %q, want cmd_ prefix", rec.ID)
	}

	rec = s.AddTerminalEntry("make", "done", store.TerminalMeta{ExitCode: 2, ID: "fixed"})
	if !rec.IsError || rec.ID != "fixed" {
		t.Errorf("exit code 2: IsError=%v ID=%q, want true fixed", rec.IsError, rec.ID)
	}

	rec = s.AddTerminalEntry("ls", "a\nb", store.TerminalMeta{})
	if rec.IsError || rec.Compressed {
		t.Errorf("ls: IsError=%v Compressed=%v, want false false", rec.IsError, rec.Compressed)
	}
}

func TestCompressOldTerminalEntries_NeverSummarizesErrors(t *testing.T) {
	s, clk := newStore()

	s.AddTerminalEntry("failing", "Failed to compile", store.TerminalMeta{ID: "err"})
	for i := 0; i < 8; i++ {
		clk.Advance(time.Second)
		s.AddTerminalEntry(fmt.Sprintf("echo %d", i), "fine", store.TerminalMeta{ID: fmt.Sprintf("ok%d", i)})
	}

	errRec, _ := s.Terminal("err")
	if errRec.Output != "Failed to compile" || errRec.Compressed {
		t.Errorf("error entry changed: %+v", errRec)
	}

	for i := 0; i < 3; i++ {
		rec, _ := s.Terminal(fmt.Sprintf("ok%d", i))
		want := fmt.Sprintf("echo %d completed successfully", i)
		if rec.Output != want || !rec.Compressed {
			t.Errorf("ok%d output = %q compressed=%v, want %q true", i, rec.Output, rec.Compressed, want)
		}
	}
	for i := 3; i < 8; i++ {
		rec, _ := s.Terminal(fmt.Sprintf("ok%d", i))
		if rec.Output != "fine" {
			t.Errorf("ok%d output = %q, want fine", i, rec.Output)
		}
	}
}

func TestRecentTerminal_NewestFirst(t *testing.T) {
	s, _ := newStore()
	// 相同时间戳按写入顺序区分
	s.AddTerminalEntry("first", "1", store.TerminalMeta{ID: "a"})
	s.AddTerminalEntry("second", "2", store.TerminalMeta{ID: "b"})
	s.AddTerminalEntry("third", "3", store.TerminalMeta{ID: "c"})

	recent := s.RecentTerminal(2)
	var ids []string
	for _, r := range recent {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"c", "b"}, ids); diff != "" {
		t.Errorf("RecentTerminal(2) mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateTask(t *testing.T) {
	s, clk := newStore()
	s.UpdateTask("t1", store.TaskUpdate{Description: "fix bug", Status: "open"})
	clk.Advance(time.Minute)
	rec := s.UpdateTask("t1", store.TaskUpdate{Status: "done"})

	if rec.Description != "fix bug" || rec.Status != "done" {
		t.Errorf("UpdateTask = %+v, want description kept and status done", rec)
	}
	if !rec.LastUpdated.Equal(epoch.Add(time.Minute)) {
		t.Errorf("LastUpdated = %v, want %v", rec.LastUpdated, epoch.Add(time.Minute))
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	s, _ := newStore()
	s.SetFile("b.ts", "x", nil)
	s.SetFile("a.ts", "one", nil)
	s.SetFile("a.ts", "two", nil)
	s.AddTerminalEntry("ls", "out", store.TerminalMeta{ID: "cmd"})
	s.UpdateTask("t", store.TaskUpdate{Description: "d"})

	snap := s.Snapshot()
	if snap.Files[0].Key != "a.ts" {
		t.Errorf("snapshot files not sorted: %q first", snap.Files[0].Key)
	}

	other, _ := newStore()
	if err := other.Restore(snap); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if diff := cmp.Diff(snap, other.Snapshot()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if got, want := other.Stats(), s.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestRestore_InvalidLeavesStoreUntouched(t *testing.T) {
	s, _ := newStore()
	s.SetFile("keep.ts", "x", nil)

	bad := store.Snapshot{
		Files:    []store.FileEntry{{Key: "a"}, {Key: "a"}},
		Terminal: []store.TerminalEntry{},
		Tasks:    []store.TaskEntry{},
	}
	if err := s.Restore(bad); err == nil {
		t.Fatal("Restore() with duplicate keys should fail")
	}
	if _, ok := s.File("keep.ts"); !ok {
		t.Error("failed restore must not modify the store")
	}

	if err := s.Restore(store.Snapshot{}); err == nil {
		t.Error("Restore() with missing collections should fail")
	}
}
