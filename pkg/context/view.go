package context

import (
	"strings"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/refs"
	"github.com/easyops/ctxwindow-go/pkg/store"
	"github.com/easyops/ctxwindow-go/pkg/usage"
)

// managerView 把 Manager 的活动上下文暴露给解析器。
//
// 只在持有 Manager 锁的调用路径中使用，自身不加锁。
type managerView struct {
	m *Manager
}

func (v managerView) LoadedRefs() []refs.Ref {
	return v.m.loadedRefs()
}

func (v managerView) DiffEntry(ref refs.Ref) (refs.DiffEntry, bool) {
	rec, ok := v.m.diffs[ref]
	if !ok {
		return refs.DiffEntry{}, false
	}
	return refs.DiffEntry{
		Content:          rec.Content,
		Summary:          rec.Summary,
		ReplacesOriginal: rec.ReplacesOriginal,
	}, true
}

func (v managerView) LastUsed(ref refs.Ref) (time.Time, bool) {
	return v.m.usage.LastUsed(ref)
}

// storeContent 把内容存储暴露给相关性评分器。
//
// 评分发生在持有 Manager 锁的组装过程中，自身不加锁。
type storeContent struct {
	s *store.Store
}

func (c storeContent) Content(ref refs.Ref) (string, bool) {
	switch ref.Kind() {
	case refs.KindFile:
		rec, ok := c.s.File(ref.ID())
		return rec.Content, ok
	case refs.KindTask:
		rec, ok := c.s.Task(ref.ID())
		return rec.Description + "\n" + rec.Context, ok
	case refs.KindTerminal:
		if ref == refs.TerminalRecent {
			var b strings.Builder
			for _, rec := range c.s.RecentTerminal(5) {
				b.WriteString(rec.Command + "\n" + rec.Output + "\n")
			}
			return b.String(), true
		}
		rec, ok := c.s.Terminal(ref.ID())
		return rec.Command + "\n" + rec.Output, ok
	case refs.KindDiff:
		path, _, _ := ref.DiffParts()
		rec, ok := c.s.File(path)
		return rec.Content, ok
	default:
		return "", false
	}
}

func (c storeContent) Documents() []string {
	paths := c.s.Paths()
	docs := make([]string, 0, len(paths))
	for _, p := range paths {
		rec, _ := c.s.File(p)
		docs = append(docs, p+"\n"+rec.Content)
	}
	return docs
}

var (
	_ refs.View           = managerView{}
	_ usage.ContentSource = storeContent{}
)
