package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/core/errors"
)

const (
	metaSuffix    = ".meta.json"
	payloadSuffix = ".snap"
)

// FileStore 文件目录快照存储
//
// 每份快照对应两个文件：<id>.meta.json 保存元数据，<id>.snap 保存数据。
// 写入先落到临时文件再重命名，读取时按元数据校验数据。
type FileStore struct {
	mu       sync.RWMutex
	dir      string
	compress bool
	closed   bool
}

// NewFileStore 创建文件快照存储，目录不存在时自动创建
func NewFileStore(dir string, compress bool) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir, compress: compress}, nil
}

// Save 保存快照
func (s *FileStore) Save(ctx context.Context, sessionID string, state ctxwin.State) (Meta, error) {
	payload, meta, err := encode(sessionID, state, s.compress)
	if err != nil {
		return Meta{}, err
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Meta{}, fmt.Errorf("marshal meta: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Meta{}, errors.ErrStoreClosed
	}

	// 先写数据再写元数据，List 只会看到数据完整的快照
	if err := writeFileAtomic(s.path(meta.ID, payloadSuffix), payload); err != nil {
		return Meta{}, err
	}
	if err := writeFileAtomic(s.path(meta.ID, metaSuffix), metaData); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// Load 按 ID 读取快照
func (s *FileStore) Load(ctx context.Context, id string) (ctxwin.State, Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ctxwin.State{}, Meta{}, errors.ErrStoreClosed
	}

	meta, err := s.readMeta(id)
	if err != nil {
		return ctxwin.State{}, Meta{}, err
	}
	payload, err := os.ReadFile(s.path(id, payloadSuffix))
	if err != nil {
		if os.IsNotExist(err) {
			return ctxwin.State{}, Meta{}, errors.ErrSnapshotNotFound
		}
		return ctxwin.State{}, Meta{}, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	state, err := decode(payload, meta)
	return state, meta, err
}

// Latest 读取会话最新的快照
func (s *FileStore) Latest(ctx context.Context, sessionID string) (ctxwin.State, Meta, error) {
	metas, err := s.List(ctx, sessionID)
	if err != nil {
		return ctxwin.State{}, Meta{}, err
	}
	if len(metas) == 0 {
		return ctxwin.State{}, Meta{}, errors.ErrSnapshotNotFound
	}
	return s.Load(ctx, metas[0].ID)
}

// List 列出快照，最新的在前
func (s *FileStore) List(ctx context.Context, sessionID string) ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot directory: %w", err)
	}
	var metas []Meta
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		meta, err := s.readMeta(strings.TrimSuffix(name, metaSuffix))
		if err != nil {
			continue // 跳过损坏的元数据
		}
		if sessionID == "" || meta.SessionID == sessionID {
			metas = append(metas, meta)
		}
	}
	sortMetas(metas)
	return metas, nil
}

// Delete 删除快照
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrStoreClosed
	}

	if err := os.Remove(s.path(id, metaSuffix)); err != nil {
		if os.IsNotExist(err) {
			return errors.ErrSnapshotNotFound
		}
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	if err := os.Remove(s.path(id, payloadSuffix)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}

// Close 关闭存储
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) path(id, suffix string) string {
	return filepath.Join(s.dir, filepath.Base(id)+suffix)
}

func (s *FileStore) readMeta(id string) (Meta, error) {
	data, err := os.ReadFile(s.path(id, metaSuffix))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, errors.ErrSnapshotNotFound
		}
		return Meta{}, fmt.Errorf("read snapshot meta %s: %w", id, err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("unmarshal snapshot meta %s: %w", id, err)
	}
	return meta, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
