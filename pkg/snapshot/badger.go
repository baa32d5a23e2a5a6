package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/core/errors"
)

const (
	badgerMetaPrefix = "snap/meta/"
	badgerDataPrefix = "snap/data/"
)

// BadgerStore 基于 BadgerDB 的快照存储
//
// 元数据与快照数据分开存放，List 只遍历元数据前缀。
type BadgerStore struct {
	db       *badger.DB
	compress bool

	mu     sync.RWMutex
	closed bool
}

// NewBadgerStore 创建 BadgerDB 快照存储；dir 为空时使用内存模式
func NewBadgerStore(dir string, compress bool) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create snapshot directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db, compress: compress}, nil
}

// Save 保存快照
func (s *BadgerStore) Save(ctx context.Context, sessionID string, state ctxwin.State) (Meta, error) {
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}
	payload, meta, err := encode(sessionID, state, s.compress)
	if err != nil {
		return Meta{}, err
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return Meta{}, fmt.Errorf("marshal meta: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Meta{}, errors.ErrStoreClosed
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(badgerDataPrefix+meta.ID), payload); err != nil {
			return err
		}
		return txn.Set([]byte(badgerMetaPrefix+meta.ID), metaBytes)
	})
	if err != nil {
		return Meta{}, fmt.Errorf("write snapshot: %w", err)
	}
	return meta, nil
}

// Load 按 ID 读取快照
func (s *BadgerStore) Load(ctx context.Context, id string) (ctxwin.State, Meta, error) {
	if err := ctx.Err(); err != nil {
		return ctxwin.State{}, Meta{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ctxwin.State{}, Meta{}, errors.ErrStoreClosed
	}

	var meta Meta
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerMetaPrefix + id))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		}); err != nil {
			return err
		}
		item, err = txn.Get([]byte(badgerDataPrefix + id))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return ctxwin.State{}, Meta{}, errors.ErrSnapshotNotFound
	}
	if err != nil {
		return ctxwin.State{}, Meta{}, fmt.Errorf("read snapshot: %w", err)
	}

	state, err := decode(payload, meta)
	return state, meta, err
}

// Latest 读取会话最新的快照
func (s *BadgerStore) Latest(ctx context.Context, sessionID string) (ctxwin.State, Meta, error) {
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
func (s *BadgerStore) List(ctx context.Context, sessionID string) ([]Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	var metas []Meta
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(badgerMetaPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var meta Meta
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return err
			}
			if sessionID == "" || meta.SessionID == sessionID {
				metas = append(metas, meta)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	sortMetas(metas)
	return metas, nil
}

// Delete 删除快照
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrStoreClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(badgerMetaPrefix + id)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete([]byte(badgerDataPrefix + id))
	})
	if err == badger.ErrKeyNotFound {
		return errors.ErrSnapshotNotFound
	}
	return err
}

// Close 关闭数据库
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
