package refs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/clock"
	"github.com/easyops/ctxwindow-go/pkg/signals"
	"github.com/easyops/ctxwindow-go/pkg/store"
)

const (
	// DefaultRecentWindow 文件被视为最近使用的时间窗口
	DefaultRecentWindow = 30 * time.Minute
	// recentTerminalCount terminal:recent 展示的条数
	recentTerminalCount = 5
	// maxHeaderLines headers 级别最多展示的签名数
	maxHeaderLines = 50
)

// Source 解析器读取的内容来源
type Source interface {
	File(path string) (store.FileRecord, bool)
	Paths() []string
	Terminal(id string) (store.TerminalRecord, bool)
	RecentTerminal(n int) []store.TerminalRecord
	Task(id string) (store.TaskRecord, bool)
}

// DiffEntry 活动上下文中的差异条目
//
// Content 用于 full 级别，Summary 用于更低的级别。
type DiffEntry struct {
	Content          string
	Summary          string
	ReplacesOriginal bool
}

// View 活动上下文的只读视图
type View interface {
	// LoadedRefs 按加载顺序返回已加载引用
	LoadedRefs() []Ref
	// DiffEntry 返回已加载的差异条目
	DiffEntry(ref Ref) (DiffEntry, bool)
	// LastUsed 返回引用最近一次使用时间
	LastUsed(ref Ref) (time.Time, bool)
}

// Resolver 引用解析器
type Resolver struct {
	source       Source
	view         View
	clock        clock.Clock
	headersOnly  bool
	recentWindow time.Duration
	extractorFor func(path string) signals.Extractor
}

// ResolverOption 配置 Resolver
type ResolverOption func(*Resolver)

// WithView 设置活动上下文视图
func WithView(v View) ResolverOption {
	return func(r *Resolver) {
		r.view = v
	}
}

// WithClock 设置时间源
func WithClock(c clock.Clock) ResolverOption {
	return func(r *Resolver) {
		r.clock = c
	}
}

// WithHeadersOnlyByDefault 未最近使用的文件默认只展示签名
func WithHeadersOnlyByDefault(on bool) ResolverOption {
	return func(r *Resolver) {
		r.headersOnly = on
	}
}

// WithRecentWindow 设置最近使用窗口
func WithRecentWindow(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.recentWindow = d
		}
	}
}

// WithExtractor 设置函数提取使用的结构信号提取器
func WithExtractor(fn func(path string) signals.Extractor) ResolverOption {
	return func(r *Resolver) {
		r.extractorFor = fn
	}
}

// NewResolver 创建解析器
func NewResolver(source Source, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		source:       source,
		view:         emptyView{},
		clock:        clock.Real{},
		headersOnly:  true,
		recentWindow: DefaultRecentWindow,
		extractorFor: signals.ForPath,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Extract 从消息中提取引用，使用当前视图中的已加载引用
func (r *Resolver) Extract(text string) []Ref {
	return Extract(text, r.view.LoadedRefs(), func(path string) bool {
		f, ok := r.source.File(path)
		return ok && f.Diff != nil
	})
}

// InitialLevel 返回候选引用的起始级别
//
// mentioned 表示引用出现在本轮消息中。
func (r *Resolver) InitialLevel(ref Ref, mentioned bool) Level {
	switch ref.Kind() {
	case KindFile:
		path := ref.Path()
		if r.replacingDiffLoaded(path) || r.recentlyUsed(ref) || !r.headersOnly {
			return LevelFull
		}
		return LevelHeaders
	case KindTerminal:
		if mentioned {
			return LevelFull
		}
		return LevelPointer
	default:
		return LevelFull
	}
}

// Resolve 按级别渲染引用，无法解析时返回 false
func (r *Resolver) Resolve(ref Ref, level Level) (string, bool) {
	kind, id, ok := ref.Parse()
	if !ok {
		return "", false
	}
	if level == LevelPointer {
		return "@" + string(ref), true
	}

	switch kind {
	case KindFile:
		return r.resolveFile(id, level)
	case KindTerminal:
		return r.resolveTerminal(id, level)
	case KindTask:
		return r.resolveTask(id, level)
	case KindFunction:
		return r.resolveFunction(id, level)
	case KindDiff:
		e, ok := r.view.DiffEntry(ref)
		if !ok {
			return "", false
		}
		if level == LevelFull || e.Summary == "" {
			return e.Content, true
		}
		return e.Summary, true
	default:
		return "", false
	}
}

func (r *Resolver) resolveFile(path string, level Level) (string, bool) {
	f, ok := r.source.File(path)
	if !ok {
		return "", false
	}

	switch level {
	case LevelFull:
		if r.replacingDiffLoaded(path) {
			return fmt.Sprintf("File: %s (current version)\n```\n%s\n```", path, f.Content), true
		}
		return fmt.Sprintf("File: %s\n```\n%s\n```", path, f.Content), true
	case LevelSymbols:
		return fmt.Sprintf("File: %s (symbols)\n```\n%s\n```", path, strings.Join(f.Headers, "\n")), true
	case LevelHeaders:
		headers := f.Headers
		if len(headers) > maxHeaderLines {
			headers = headers[:maxHeaderLines]
		}
		return fmt.Sprintf("File: %s (headers only)\n```\n%s\n```", path, strings.Join(headers, "\n")), true
	case LevelDiff:
		if f.Diff == nil {
			return "", false
		}
		return fmt.Sprintf("File: %s (diff)\n```diff\n%s\n```", path, f.Diff.Text), true
	default:
		return "", false
	}
}

func (r *Resolver) resolveTerminal(id string, level Level) (string, bool) {
	var entries []store.TerminalRecord
	if id == "recent" {
		entries = r.source.RecentTerminal(recentTerminalCount)
	} else if e, ok := r.source.Terminal(id); ok {
		entries = []store.TerminalRecord{e}
	}
	if len(entries) == 0 {
		return "", false
	}

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		switch level {
		case LevelFull:
			s := fmt.Sprintf("$ %s\n%s", e.Command, e.Output)
			if e.Compressed && id == "recent" {
				s += " ..."
			}
			parts = append(parts, s)
		case LevelSymbols:
			first, _, _ := strings.Cut(e.Output, "\n")
			parts = append(parts, fmt.Sprintf("$ %s (exit %d)\n%s", e.Command, e.ExitCode, first))
		case LevelHeaders:
			parts = append(parts, fmt.Sprintf("$ %s (exit %d)", e.Command, e.ExitCode))
		default:
			return "", false
		}
	}
	if level == LevelHeaders {
		return strings.Join(parts, "\n"), true
	}
	return strings.Join(parts, "\n\n"), true
}

func (r *Resolver) resolveTask(id string, level Level) (string, bool) {
	t, ok := r.source.Task(id)
	if !ok {
		return "", false
	}
	switch level {
	case LevelFull:
		b, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return "", false
		}
		return fmt.Sprintf("Task: %s\n%s", id, b), true
	case LevelSymbols, LevelHeaders:
		return fmt.Sprintf("Task: %s [%s] %s", id, t.Status, t.Description), true
	default:
		return "", false
	}
}

func (r *Resolver) resolveFunction(name string, level Level) (string, bool) {
	for _, path := range r.source.Paths() {
		f, ok := r.source.File(path)
		if !ok {
			continue
		}
		ext := r.extractorFor(path)
		if !ext.DeclaresFunction(f.Content, name) {
			continue
		}
		code, ok := ext.ExtractFunction(f.Content, name)
		if !ok {
			continue
		}
		switch level {
		case LevelFull:
			return fmt.Sprintf("Function: %s from %s\n```\n%s\n```", name, path, code), true
		case LevelSymbols, LevelHeaders:
			sig, _, _ := strings.Cut(code, "\n")
			return fmt.Sprintf("Function: %s from %s\n```\n%s\n```", name, path, strings.TrimSpace(sig)), true
		default:
			return "", false
		}
	}
	return "", false
}

func (r *Resolver) replacingDiffLoaded(path string) bool {
	for _, ref := range r.view.LoadedRefs() {
		if ref.Kind() != KindDiff || ref.Path() != path {
			continue
		}
		if e, ok := r.view.DiffEntry(ref); ok && e.ReplacesOriginal {
			return true
		}
	}
	return false
}

func (r *Resolver) recentlyUsed(ref Ref) bool {
	last, ok := r.view.LastUsed(ref)
	if !ok {
		return false
	}
	return r.clock.Now().Sub(last) < r.recentWindow
}

type emptyView struct{}

func (emptyView) LoadedRefs() []Ref { return nil }

func (emptyView) DiffEntry(Ref) (DiffEntry, bool) { return DiffEntry{}, false }

func (emptyView) LastUsed(Ref) (time.Time, bool) { return time.Time{}, false }

// 编译时接口检查
var _ Source = (*store.Store)(nil)
