// Package snapshot 持久化上下文窗口的状态快照。
//
// 快照内容是 context.State 的 JSON，可选 zstd 压缩，并附带 blake3 校验和，
// 读取时先校验再解码。后端包括内存、文件目录、SQLite 和 BadgerDB。
package snapshot

import (
	"context"
	"sort"
	"time"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
)

// Store 快照存储接口
//
// 所有实现都可以并发使用。Close 之后的调用返回 ErrStoreClosed。
type Store interface {
	// Save 保存会话的一份快照
	Save(ctx context.Context, sessionID string, state ctxwin.State) (Meta, error)

	// Load 按 ID 读取快照
	Load(ctx context.Context, id string) (ctxwin.State, Meta, error)

	// Latest 读取会话最新的快照
	Latest(ctx context.Context, sessionID string) (ctxwin.State, Meta, error)

	// List 列出会话的快照，最新的在前；sessionID 为空时列出全部
	List(ctx context.Context, sessionID string) ([]Meta, error)

	// Delete 删除快照
	Delete(ctx context.Context, id string) error

	// Close 关闭存储
	Close() error
}

// Meta 快照元数据
type Meta struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	// Checksum 存储字节的 blake3 摘要（十六进制）
	Checksum   string `json:"checksum"`
	Compressed bool   `json:"compressed"`
	// Size 存储字节数
	Size int `json:"size"`
	// RawSize 压缩前的 JSON 字节数
	RawSize int `json:"raw_size"`
}

// StoreType 存储类型
type StoreType string

const (
	// StoreTypeMemory 内存存储
	StoreTypeMemory StoreType = "memory"
	// StoreTypeFile 文件目录存储
	StoreTypeFile StoreType = "file"
	// StoreTypeSQLite SQLite 存储
	StoreTypeSQLite StoreType = "sqlite"
	// StoreTypeBadger BadgerDB 存储
	StoreTypeBadger StoreType = "badger"
)

// Config 存储配置
type Config struct {
	// Type 存储类型
	Type StoreType `json:"type"`

	// Path 文件目录、SQLite 数据库文件或 Badger 目录
	Path string `json:"path,omitempty"`

	// Compress 是否使用 zstd 压缩
	Compress bool `json:"compress"`
}

// DefaultConfig 返回默认配置（内存存储）
func DefaultConfig() *Config {
	return &Config{
		Type:     StoreTypeMemory,
		Compress: true,
	}
}

// sortMetas 按创建时间倒序排列，时间相同时按 ID 排列
func sortMetas(metas []Meta) {
	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].CreatedAt.After(metas[j].CreatedAt)
		}
		return metas[i].ID < metas[j].ID
	})
}
