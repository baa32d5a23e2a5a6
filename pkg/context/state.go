package context

import (
	"fmt"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/errors"
	"github.com/easyops/ctxwindow-go/pkg/refs"
	"github.com/easyops/ctxwindow-go/pkg/store"
	"github.com/easyops/ctxwindow-go/pkg/usage"
)

// State 是可导出的会话状态快照。
//
// 集合都以有序键值对表示，相同状态总是序列化为相同的字节。
type State struct {
	Config       Config         `json:"config"`
	ContentStore store.Snapshot `json:"content_store"`
	UsageStats   []usage.Entry  `json:"usage_stats"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Validate 检查快照是否完整。
func (s State) Validate() error {
	if err := s.Config.Validate(); err != nil {
		return fmt.Errorf("%w: config: %v", errors.ErrInvalidSnapshot, err)
	}
	if err := s.ContentStore.Validate(); err != nil {
		return fmt.Errorf("%w: content store: %v", errors.ErrInvalidSnapshot, err)
	}
	if s.UsageStats == nil {
		return fmt.Errorf("%w: usage stats missing", errors.ErrInvalidSnapshot)
	}
	seen := make(map[refs.Ref]bool, len(s.UsageStats))
	for _, e := range s.UsageStats {
		if !e.Ref.Valid() {
			return fmt.Errorf("%w: usage stats: %q: %v", errors.ErrInvalidSnapshot, e.Ref, errors.ErrInvalidReference)
		}
		if seen[e.Ref] {
			return fmt.Errorf("%w: usage stats: duplicate ref %q", errors.ErrInvalidSnapshot, e.Ref)
		}
		seen[e.Ref] = true
	}
	return nil
}

// ExportState 导出配置、内容存储与使用统计。
func (m *Manager) ExportState() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.usage.Snapshot()
	if stats == nil {
		stats = []usage.Entry{}
	}
	return State{
		Config:       m.cfg,
		ContentStore: m.store.Snapshot(),
		UsageStats:   stats,
		Timestamp:    m.clock.Now(),
	}
}

// ImportState 导入快照。
//
// 先完整校验，校验失败时返回包装了 ErrInvalidSnapshot 的错误且不修改任何状态。
// 校验通过后按导入的配置重建内容存储，整体替换配置和使用统计，并清空活动上下文中的引用条目；
// 原始对话轮次保留。带上一版本的文件重新登记差异记录，到期后清除历史。
func (m *Manager) ImportState(s State) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.newStore(s.Config)
	if err := st.Restore(s.ContentStore); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidSnapshot, err)
	}

	m.cfg = s.Config
	if m.reqOpts.Model == "" {
		m.reqOpts.Model = m.cfg.Model
	}
	m.attachStore(st)
	m.invalidateRelevance()
	m.usage = m.newTracker()
	m.usage.Restore(s.UsageStats)

	turns := m.entries[:0]
	for _, e := range m.entries {
		if !e.IsReference() {
			turns = append(turns, e)
		}
	}
	m.entries = turns
	m.loaded = make(map[refs.Ref]struct{})
	m.diffs = make(map[refs.Ref]*DiffRecord)

	for _, e := range s.UsageStats {
		if _, seq, ok := e.Ref.DiffParts(); ok && seq > m.diffSeq {
			m.diffSeq = seq
		}
	}
	for _, f := range s.ContentStore.Files {
		if rec, ok := m.store.File(f.Key); ok {
			m.trackHistory(rec)
		}
	}

	m.logger.Info("context state imported",
		"files", len(s.ContentStore.Files),
		"terminal", len(s.ContentStore.Terminal),
		"tasks", len(s.ContentStore.Tasks),
		"usage_stats", len(s.UsageStats),
		"pending_diffs", len(m.diffs),
	)
	return nil
}
