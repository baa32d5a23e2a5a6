package context

import (
	"context"
	"fmt"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/easyops/ctxwindow-go/pkg/diff"
	"github.com/easyops/ctxwindow-go/pkg/editstrategy"
	"github.com/easyops/ctxwindow-go/pkg/otel"
	"github.com/easyops/ctxwindow-go/pkg/refs"
	"github.com/easyops/ctxwindow-go/pkg/store"
)

// applyEdit 对已加载文件的编辑选择策略并更新活动上下文。
//
// KEEP_BOTH 保留文件条目并追加差异条目；
// 另外两种策略先卸载文件条目，追加差异条目后再以 full 级别重新加载文件。
func (m *Manager) applyEdit(ctx context.Context, path string, prev, current store.FileRecord) (editstrategy.Decision, refs.Ref) {
	now := m.clock.Now()
	dec := m.selector.Select(*current.Diff, prev, current)
	rec := m.trackDiff(path, *current.Diff, dec, prev.EstimatedTokens, now)
	diffRef, content := rec.Ref, rec.Content

	fileRef := refs.File(path)
	diffEntry := Entry{
		Role:             message.RoleSystem,
		Content:          content,
		SourceRef:        diffRef,
		Level:            refs.LevelFull,
		IsDiffMarker:     true,
		EditStrategy:     dec.Strategy,
		ReplacesOriginal: rec.ReplacesOriginal,
	}

	if dec.Strategy == editstrategy.KeepBoth {
		m.appendRef(diffEntry)
		m.refreshReference(fileRef)
	} else {
		m.unload(fileRef)
		m.appendRef(diffEntry)
		if full, ok := m.resolver.Resolve(fileRef, refs.LevelFull); ok {
			m.appendRef(Entry{
				Role:      message.RoleSystem,
				Content:   full,
				SourceRef: fileRef,
				Level:     refs.LevelFull,
			})
			m.usage.Touch(fileRef, now)
		}
	}
	m.usage.Touch(diffRef, now)

	m.metrics.Counter(otel.MetricContextEdits).Add(ctx, 1,
		otel.NewAttr(otel.AttrEditStrategy, string(dec.Strategy)))
	m.logger.Debug("edit strategy selected",
		"path", path,
		"strategy", dec.Strategy,
		"reason", dec.Reason,
		"change_percentage", dec.Magnitude.ChangePercentage,
		"diff_ref", diffRef,
		"ttl", dec.TTL,
	)
	return dec, diffRef
}

// trackDiff 登记一条新的差异记录并分配序号。
func (m *Manager) trackDiff(path string, d diff.Result, dec editstrategy.Decision, originalTokens int, at time.Time) *DiffRecord {
	ext := m.extractorFor(path)
	content := editstrategy.Render(dec.Strategy, path, d, ext)

	m.diffSeq++
	rec := &DiffRecord{
		Ref:              refs.Diff(path, m.diffSeq),
		Path:             path,
		Seq:              m.diffSeq,
		Strategy:         dec.Strategy,
		CreatedAt:        at,
		ExpiresAt:        at.Add(dec.TTL),
		TTL:              dec.TTL,
		ReplacesOriginal: dec.Strategy.ReplacesOriginal(),
		OriginalTokens:   originalTokens,
		DiffTokens:       m.estimator.Text(content),
		Content:          content,
		Summary:          fmt.Sprintf("Edit: %s %s", path, editstrategy.Summary(d, ext)),
	}
	m.diffs[rec.Ref] = rec
	return rec
}

// trackHistory 为带上一版本的文件登记差异记录，从文件修改时间起计算 TTL，
// 到期后由 checkExpirations 清除历史。
func (m *Manager) trackHistory(rec store.FileRecord) {
	if !rec.HasHistory() {
		return
	}
	prev := store.FileRecord{
		Path:            rec.Path,
		Content:         *rec.PreviousContent,
		Headers:         m.extractorFor(rec.Path).Headers(*rec.PreviousContent),
		EstimatedTokens: m.estimator.Text(*rec.PreviousContent),
	}
	dec := m.selector.Select(*rec.Diff, prev, rec)
	m.trackDiff(rec.Path, *rec.Diff, dec, prev.EstimatedTokens, rec.LastModified)
}

// CheckExpirations 处理到期的差异条目，返回被移除的差异引用。
//
// 到期的差异条目会被卸载；若 TTL 窗口内被使用过则顺延到期时间。
// 同一路径存在更新的差异时只卸载旧条目，保留文件的上一版本。
func (m *Manager) CheckExpirations(ctx context.Context, now time.Time) []refs.Ref {
	ctx, span := m.tracer.Start(ctx, "context.check_expirations")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	expired := m.checkExpirations(ctx, now)
	span.SetAttributes(otel.ContextExpired(len(expired)))
	return expired
}

func (m *Manager) checkExpirations(ctx context.Context, now time.Time) []refs.Ref {
	var expired []refs.Ref
	for _, rec := range m.sortedDiffRecords() {
		if now.Before(rec.ExpiresAt) {
			continue
		}
		if last, ok := m.usage.LastUsed(rec.Ref); ok && now.Sub(last) < rec.TTL {
			rec.ExpiresAt = last.Add(rec.TTL)
			continue
		}

		m.unload(rec.Ref)
		superseded := m.hasNewerDiff(rec)
		if !superseded {
			m.store.ClearFileHistory(rec.Path)
		}
		delete(m.diffs, rec.Ref)
		if rec.ReplacesOriginal {
			m.rerender(refs.File(rec.Path))
		}
		expired = append(expired, rec.Ref)

		m.logger.Debug("diff expired",
			"diff_ref", rec.Ref,
			"strategy", rec.Strategy,
			"superseded", superseded,
		)
	}
	if len(expired) > 0 {
		m.metrics.Counter(otel.MetricContextDiffsExpired).Add(ctx, int64(len(expired)))
	}
	return expired
}

func (m *Manager) hasNewerDiff(rec *DiffRecord) bool {
	for _, other := range m.diffs {
		if other.Path == rec.Path && other.Seq > rec.Seq {
			return true
		}
	}
	return false
}

// DiffRecords 返回仍在跟踪的差异记录，按创建顺序排列。
func (m *Manager) DiffRecords() []DiffRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.sortedDiffRecords()
	out := make([]DiffRecord, len(recs))
	for i, rec := range recs {
		out[i] = *rec
	}
	return out
}
