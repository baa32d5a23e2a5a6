package snapshot

import (
	"context"
	"sync"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/core/errors"
)

type memoryRecord struct {
	meta    Meta
	payload []byte
}

// MemoryStore 内存快照存储
//
// 基于 map 的简单实现，适用于测试和单进程场景。
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]memoryRecord
	compress bool
	closed   bool
}

// NewMemoryStore 创建内存快照存储
func NewMemoryStore(compress bool) *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]memoryRecord),
		compress: compress,
	}
}

// Save 保存快照
func (s *MemoryStore) Save(ctx context.Context, sessionID string, state ctxwin.State) (Meta, error) {
	payload, meta, err := encode(sessionID, state, s.compress)
	if err != nil {
		return Meta{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Meta{}, errors.ErrStoreClosed
	}
	s.records[meta.ID] = memoryRecord{meta: meta, payload: payload}
	return meta, nil
}

// Load 按 ID 读取快照
func (s *MemoryStore) Load(ctx context.Context, id string) (ctxwin.State, Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ctxwin.State{}, Meta{}, errors.ErrStoreClosed
	}

	rec, ok := s.records[id]
	if !ok {
		return ctxwin.State{}, Meta{}, errors.ErrSnapshotNotFound
	}
	state, err := decode(rec.payload, rec.meta)
	return state, rec.meta, err
}

// Latest 读取会话最新的快照
func (s *MemoryStore) Latest(ctx context.Context, sessionID string) (ctxwin.State, Meta, error) {
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
func (s *MemoryStore) List(ctx context.Context, sessionID string) ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	var metas []Meta
	for _, rec := range s.records {
		if sessionID == "" || rec.meta.SessionID == sessionID {
			metas = append(metas, rec.meta)
		}
	}
	sortMetas(metas)
	return metas, nil
}

// Delete 删除快照
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrStoreClosed
	}
	if _, ok := s.records[id]; !ok {
		return errors.ErrSnapshotNotFound
	}
	delete(s.records, id)
	return nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
