package store

import (
	"maps"
	"slices"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/diff"
)

// FileRecord 文件记录
type FileRecord struct {
	Path            string                 `json:"path"`
	Content         string                 `json:"content"`
	Headers         []string               `json:"headers"`
	EstimatedTokens int                    `json:"estimated_tokens"`
	LastModified    time.Time              `json:"last_modified"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	// PreviousContent 上一版本内容，仅在存在可用差异时设置
	PreviousContent *string `json:"previous_content,omitempty"`
	// Diff 上一版本到当前版本的差异；只有 PreviousContent 存在且与 Content 不同时才设置
	Diff *diff.Result `json:"diff,omitempty"`
	// Fingerprint 内容的 blake3 哈希（十六进制）
	Fingerprint string `json:"fingerprint"`
}

// Clone 返回不与存储共享元数据、签名和历史的副本
func (f FileRecord) Clone() FileRecord {
	f.Headers = slices.Clone(f.Headers)
	f.Metadata = maps.Clone(f.Metadata)
	if f.PreviousContent != nil {
		prev := *f.PreviousContent
		f.PreviousContent = &prev
	}
	if f.Diff != nil {
		d := *f.Diff
		f.Diff = &d
	}
	return f
}

// HasHistory 是否保留了上一版本与差异
func (f FileRecord) HasHistory() bool {
	return f.PreviousContent != nil && f.Diff != nil
}

// FileUpdate SetFile 的结果
type FileUpdate struct {
	Record FileRecord
	// Previous 更新前的记录，新建文件时为 nil
	Previous *FileRecord
	// Created 是否新建
	Created bool
	// Changed 内容是否发生变化（新建也视为变化）
	Changed bool
}

// TerminalRecord 终端记录
type TerminalRecord struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	// Output 处理后的输出
	Output string `json:"output"`
	// OriginalLength 原始输出长度（字节）
	OriginalLength int                    `json:"original_length"`
	Compressed     bool                   `json:"compressed"`
	IsError        bool                   `json:"is_error"`
	ExitCode       int                    `json:"exit_code"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	// Seq 写入序号，时间戳相同时用于排序
	Seq int64 `json:"seq"`
}

// Clone 返回不共享元数据的副本
func (t TerminalRecord) Clone() TerminalRecord {
	t.Metadata = maps.Clone(t.Metadata)
	return t
}

// TerminalMeta 终端条目的附加信息
type TerminalMeta struct {
	// ID 指定条目 ID，为空时自动生成
	ID       string
	ExitCode int
	Metadata map[string]interface{}
}

// TaskRecord 任务记录
type TaskRecord struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Context     string    `json:"context,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// TaskUpdate 任务更新，空字段保留原值
type TaskUpdate struct {
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Context     string `json:"context,omitempty"`
}

// Stats 存储统计
type Stats struct {
	Files    int `json:"files"`
	Terminal int `json:"terminal"`
	Tasks    int `json:"tasks"`
	// FileTokens 全部文件内容的估算 token 数
	FileTokens int `json:"file_tokens"`
}

// Snapshot 存储快照，集合以有序键值对表示
type Snapshot struct {
	Files    []FileEntry     `json:"files"`
	Terminal []TerminalEntry `json:"terminal"`
	Tasks    []TaskEntry     `json:"tasks"`
}

// FileEntry 文件键值对
type FileEntry struct {
	Key   string     `json:"key"`
	Value FileRecord `json:"value"`
}

// TerminalEntry 终端键值对
type TerminalEntry struct {
	Key   string         `json:"key"`
	Value TerminalRecord `json:"value"`
}

// TaskEntry 任务键值对
type TaskEntry struct {
	Key   string     `json:"key"`
	Value TaskRecord `json:"value"`
}
