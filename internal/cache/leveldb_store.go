package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDB 中每个对象占两条记录，由同一个 Batch 原子写入：
//
//	m:<key>  JSON 元数据（含 Size）
//	b:<key>  正文
const (
	levelMetaPrefix = "m:"
	levelBodyPrefix = "b:"
)

type levelDBStore struct {
	db *leveldb.DB
}

// NewLevelDBStore 打开（或创建）path 处的 LevelDB 数据库。
func NewLevelDBStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("storage path required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &levelDBStore{db: db}, nil
}

func (s *levelDBStore) Get(ctx context.Context, key string) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	// 快照保证元数据与正文来自同一次写入。
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	rawMeta, err := snap.Get([]byte(levelMetaPrefix+key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	body, err := snap.Get([]byte(levelBodyPrefix+key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(rawMeta, &entry); err != nil {
		return nil, fmt.Errorf("decode cache record: %w", err)
	}
	entry.Size = int64(len(body))

	return &ReadResult{
		Entry:  entry,
		Reader: io.NopCloser(bytes.NewReader(body)),
	}, nil
}

func (s *levelDBStore) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (*Entry, error) {
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

	batch := new(leveldb.Batch)
	batch.Put([]byte(levelBodyPrefix+key), buf.Bytes())
	batch.Put([]byte(levelMetaPrefix+key), meta)
	if err := s.db.Write(batch, nil); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *levelDBStore) Close() error {
	return s.db.Close()
}
