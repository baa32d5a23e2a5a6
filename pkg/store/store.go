package store

import (
	"encoding/hex"
	"fmt"
	"maps"
	"sort"

	"github.com/easyops/ctxwindow-go/pkg/core/clock"
	"github.com/easyops/ctxwindow-go/pkg/diff"
	"github.com/easyops/ctxwindow-go/pkg/signals"
	"github.com/easyops/ctxwindow-go/pkg/tokens"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// DefaultTerminalCompressionAfter 保留完整输出的最近终端条数
const DefaultTerminalCompressionAfter = 5

// Store 内容存储
type Store struct {
	files    map[string]*FileRecord
	terminal map[string]*TerminalRecord
	tasks    map[string]*TaskRecord

	clock            clock.Clock
	estimator        *tokens.Estimator
	differ           *diff.Engine
	extractorFor     func(path string) signals.Extractor
	compressionAfter int
	seq              int64
}

// Option 配置 Store
type Option func(*Store)

// WithClock 设置时间源
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithEstimator 设置 token 估算器
func WithEstimator(e *tokens.Estimator) Option {
	return func(s *Store) {
		s.estimator = e
	}
}

// WithDiffEngine 设置差异引擎
func WithDiffEngine(e *diff.Engine) Option {
	return func(s *Store) {
		s.differ = e
	}
}

// WithExtractor 按路径选择结构信号提取器
func WithExtractor(fn func(path string) signals.Extractor) Option {
	return func(s *Store) {
		s.extractorFor = fn
	}
}

// WithTerminalCompressionAfter 设置保留完整输出的最近终端条数
func WithTerminalCompressionAfter(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.compressionAfter = n
		}
	}
}

// New 创建内容存储
func New(opts ...Option) *Store {
	s := &Store{
		files:            make(map[string]*FileRecord),
		terminal:         make(map[string]*TerminalRecord),
		tasks:            make(map[string]*TaskRecord),
		clock:            clock.Real{},
		estimator:        tokens.NewEstimator(),
		differ:           diff.NewEngine(),
		extractorFor:     signals.ForPath,
		compressionAfter: DefaultTerminalCompressionAfter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Extractor 返回路径对应的结构信号提取器
func (s *Store) Extractor(path string) signals.Extractor {
	return s.extractorFor(path)
}

// DiffEngine 返回存储使用的差异引擎
func (s *Store) DiffEngine() *diff.Engine {
	return s.differ
}

// SetFile 写入文件内容
//
// 总是立即提取声明签名；已有旧版本且内容不同时计算差异并保留旧版本。
// 内容未变化时只合并元数据。
func (s *Store) SetFile(path, content string, meta map[string]interface{}) FileUpdate {
	now := s.clock.Now()
	existing, ok := s.files[path]

	if ok && existing.Content == content {
		prev := existing.Clone()
		if len(meta) > 0 {
			merged := make(map[string]interface{}, len(existing.Metadata)+len(meta))
			maps.Copy(merged, existing.Metadata)
			maps.Copy(merged, meta)
			existing.Metadata = merged
		}
		return FileUpdate{Record: existing.Clone(), Previous: &prev}
	}

	rec := &FileRecord{
		Path:            path,
		Content:         content,
		Headers:         s.extractorFor(path).Headers(content),
		EstimatedTokens: s.estimator.Text(content),
		LastModified:    now,
		Metadata:        make(map[string]interface{}, len(meta)+1),
		Fingerprint:     Fingerprint(content),
	}
	for k, v := range meta {
		rec.Metadata[k] = v
	}

	update := FileUpdate{Created: !ok, Changed: true}
	if ok {
		prevContent := existing.Content
		d := s.differ.Diff(prevContent, content)
		rec.PreviousContent = &prevContent
		rec.Diff = &d
		rec.Metadata["isEdited"] = true

		prev := existing.Clone()
		update.Previous = &prev
	}

	s.files[path] = rec
	update.Record = rec.Clone()
	return update
}

// File 返回文件记录
func (s *Store) File(path string) (FileRecord, bool) {
	rec, ok := s.files[path]
	if !ok {
		return FileRecord{}, false
	}
	return rec.Clone(), true
}

// Paths 返回按字典序排列的文件路径
func (s *Store) Paths() []string {
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// RestoreFile 用给定记录覆盖文件，用于撤销或导入单个文件
func (s *Store) RestoreFile(path string, previous FileRecord) {
	rec := previous.Clone()
	rec.Path = path
	if rec.Fingerprint == "" {
		rec.Fingerprint = Fingerprint(rec.Content)
	}
	if rec.PreviousContent == nil {
		rec.Diff = nil
	}
	s.files[path] = &rec
}

// ClearFileHistory 丢弃文件的上一版本与差异
func (s *Store) ClearFileHistory(path string) bool {
	rec, ok := s.files[path]
	if !ok || !rec.HasHistory() {
		return false
	}
	rec.PreviousContent = nil
	rec.Diff = nil
	return true
}

// UpdateTask 创建或更新任务，空字段保留原值
func (s *Store) UpdateTask(id string, u TaskUpdate) TaskRecord {
	rec, ok := s.tasks[id]
	if !ok {
		rec = &TaskRecord{ID: id}
		s.tasks[id] = rec
	}
	if u.Description != "" {
		rec.Description = u.Description
	}
	if u.Status != "" {
		rec.Status = u.Status
	}
	if u.Context != "" {
		rec.Context = u.Context
	}
	rec.LastUpdated = s.clock.Now()
	return *rec
}

// Task 返回任务记录
func (s *Store) Task(id string) (TaskRecord, bool) {
	rec, ok := s.tasks[id]
	if !ok {
		return TaskRecord{}, false
	}
	return *rec, true
}

// Stats 返回存储统计
func (s *Store) Stats() Stats {
	st := Stats{Files: len(s.files), Terminal: len(s.terminal), Tasks: len(s.tasks)}
	for _, f := range s.files {
		st.FileTokens += f.EstimatedTokens
	}
	return st
}

// Snapshot 导出全部集合，按键排序以保证输出稳定
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Files:    make([]FileEntry, 0, len(s.files)),
		Terminal: make([]TerminalEntry, 0, len(s.terminal)),
		Tasks:    make([]TaskEntry, 0, len(s.tasks)),
	}
	for _, p := range s.Paths() {
		snap.Files = append(snap.Files, FileEntry{Key: p, Value: s.files[p].Clone()})
	}
	for _, id := range sortedKeys(s.terminal) {
		snap.Terminal = append(snap.Terminal, TerminalEntry{Key: id, Value: s.terminal[id].Clone()})
	}
	for _, id := range sortedKeys(s.tasks) {
		snap.Tasks = append(snap.Tasks, TaskEntry{Key: id, Value: *s.tasks[id]})
	}
	return snap
}

// Validate 检查快照是否可以导入
func (snap Snapshot) Validate() error {
	if snap.Files == nil || snap.Terminal == nil || snap.Tasks == nil {
		return fmt.Errorf("content store snapshot missing collections")
	}
	seen := make(map[string]struct{}, len(snap.Files))
	for _, f := range snap.Files {
		if f.Key == "" {
			return fmt.Errorf("file entry with empty key")
		}
		if _, dup := seen[f.Key]; dup {
			return fmt.Errorf("duplicate file entry %q", f.Key)
		}
		seen[f.Key] = struct{}{}
		if f.Value.Diff != nil && f.Value.PreviousContent == nil {
			return fmt.Errorf("file %q has diff without previous content", f.Key)
		}
	}
	for _, t := range snap.Terminal {
		if t.Key == "" {
			return fmt.Errorf("terminal entry with empty key")
		}
	}
	for _, t := range snap.Tasks {
		if t.Key == "" {
			return fmt.Errorf("task entry with empty key")
		}
	}
	return nil
}

// Restore 用快照整体替换存储内容
//
// 先校验再替换，校验失败时存储保持不变。
func (s *Store) Restore(snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	files := make(map[string]*FileRecord, len(snap.Files))
	for _, e := range snap.Files {
		rec := e.Value.Clone()
		rec.Path = e.Key
		if rec.Fingerprint == "" {
			rec.Fingerprint = Fingerprint(rec.Content)
		}
		files[e.Key] = &rec
	}
	terminal := make(map[string]*TerminalRecord, len(snap.Terminal))
	var maxSeq int64
	for _, e := range snap.Terminal {
		rec := e.Value.Clone()
		rec.ID = e.Key
		terminal[e.Key] = &rec
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
	}
	tasks := make(map[string]*TaskRecord, len(snap.Tasks))
	for _, e := range snap.Tasks {
		rec := e.Value
		rec.ID = e.Key
		tasks[e.Key] = &rec
	}

	s.files, s.terminal, s.tasks = files, terminal, tasks
	s.seq = maxSeq
	return nil
}

// Fingerprint 返回内容的 blake3 十六进制摘要
func Fingerprint(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func newCommandID() string {
	return "cmd_" + uuid.NewString()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
