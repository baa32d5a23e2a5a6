package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/core/errors"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore SQLite 快照存储
//
// 基于 SQLite 的持久化快照存储，适用于生产环境。
type SQLiteStore struct {
	db       *sql.DB
	compress bool

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore 创建 SQLite 快照存储
func NewSQLiteStore(dbPath string, compress bool) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, compress: compress}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return store, nil
}

// initSchema 初始化表结构
func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		checksum TEXT NOT NULL,
		compressed INTEGER NOT NULL,
		size INTEGER NOT NULL,
		raw_size INTEGER NOT NULL,
		payload BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id, created_at);
	`
	_, err := s.db.Exec(query)
	return err
}

// Save 保存快照
func (s *SQLiteStore) Save(ctx context.Context, sessionID string, state ctxwin.State) (Meta, error) {
	payload, meta, err := encode(sessionID, state, s.compress)
	if err != nil {
		return Meta{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Meta{}, errors.ErrStoreClosed
	}

	query := `
	INSERT INTO snapshots (id, session_id, created_at, checksum, compressed, size, raw_size, payload)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		meta.ID, meta.SessionID, meta.CreatedAt.UnixNano(), meta.Checksum,
		meta.Compressed, meta.Size, meta.RawSize, payload,
	)
	if err != nil {
		return Meta{}, fmt.Errorf("insert snapshot: %w", err)
	}
	return meta, nil
}

// Load 按 ID 读取快照
func (s *SQLiteStore) Load(ctx context.Context, id string) (ctxwin.State, Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ctxwin.State{}, Meta{}, errors.ErrStoreClosed
	}

	query := `
	SELECT id, session_id, created_at, checksum, compressed, size, raw_size, payload
	FROM snapshots WHERE id = ?
	`
	var payload []byte
	meta, err := scanMeta(s.db.QueryRowContext(ctx, query, id), &payload)
	if err == sql.ErrNoRows {
		return ctxwin.State{}, Meta{}, errors.ErrSnapshotNotFound
	}
	if err != nil {
		return ctxwin.State{}, Meta{}, err
	}
	state, err := decode(payload, meta)
	return state, meta, err
}

// Latest 读取会话最新的快照
func (s *SQLiteStore) Latest(ctx context.Context, sessionID string) (ctxwin.State, Meta, error) {
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
func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	query := `SELECT id, session_id, created_at, checksum, compressed, size, raw_size FROM snapshots`
	var args []interface{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		meta, err := scanMeta(rows, nil)
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// Delete 删除快照
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrStoreClosed
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.ErrSnapshotNotFound
	}
	return nil
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMeta 读取一行元数据；payload 不为 nil 时同时读取数据列
func scanMeta(row rowScanner, payload *[]byte) (Meta, error) {
	var meta Meta
	var createdAt int64
	dest := []interface{}{
		&meta.ID, &meta.SessionID, &createdAt, &meta.Checksum,
		&meta.Compressed, &meta.Size, &meta.RawSize,
	}
	if payload != nil {
		dest = append(dest, payload)
	}
	if err := row.Scan(dest...); err != nil {
		return Meta{}, err
	}
	meta.CreatedAt = time.Unix(0, createdAt).UTC()
	return meta, nil
}

var _ Store = (*SQLiteStore)(nil)
