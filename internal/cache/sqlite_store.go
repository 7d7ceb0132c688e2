package cache

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS objects (
	key TEXT PRIMARY KEY,
	meta TEXT NOT NULL,
	body BLOB NOT NULL,
	size INTEGER NOT NULL,
	stored_at INTEGER NOT NULL
)`

// sqliteStore 以单行 INSERT OR REPLACE 完成整对象写入；writeMutex 避免并发写触发 SQLITE_BUSY。
type sqliteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStore 打开 path 指向的 SQLite 数据库文件并建表。
func NewSQLiteStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("storage path required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, stmt := range []string{
		sqliteSchema,
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}

	return &sqliteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) (*ReadResult, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var (
		rawMeta string
		body    []byte
	)
	err := s.db.QueryRowContext(ctx, "SELECT meta, body FROM objects WHERE key = ?", key).Scan(&rawMeta, &body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(rawMeta), &entry); err != nil {
		return nil, fmt.Errorf("decode cache record: %w", err)
	}
	entry.Size = int64(len(body))

	return &ReadResult{
		Entry:  entry,
		Reader: io.NopCloser(bytes.NewReader(body)),
	}, nil
}

func (s *sqliteStore) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (*Entry, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	written, err := copyWithContext(ctx, &buf, body)
	if err != nil {
		return nil, err
	}

	entry := newEntry(key, written, opts)
	meta, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	payload := buf.Bytes()
	if payload == nil {
		payload = []byte{}
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO objects (key, meta, body, size, stored_at) VALUES (?, ?, ?, ?, ?)",
		key, string(meta), payload, written, entry.StoredAt.Unix(),
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
