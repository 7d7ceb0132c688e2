package cache

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// 单个对象文件的布局：
//
//	[8 字节大端元数据长度][JSON 元数据][正文]
//
// 元数据与正文位于同一文件，rename 一次即可原子地发布完整条目。
const (
	recordHeaderSize = 8
	maxMetadataSize  = 1 << 20
)

// NewFileStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewFileStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 串行化同一个键的写入，同时复用 basePath。
// 缓存键可能长达 1024 字节且包含任意字符，因此落盘路径取键的 SHA-1，原始键保存在元数据中。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// sectionBody 让调用方只读到正文部分，Close 时释放文件句柄。
type sectionBody struct {
	*io.SectionReader
	file *os.File
}

func (b *sectionBody) Close() error {
	return b.file.Close()
}

func (s *fileStore) Get(ctx context.Context, key string) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	f, err := os.Open(s.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}

	entry, offset, err := readRecordHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode cache record: %w", err)
	}
	if entry.Key != key {
		f.Close()
		return nil, ErrNotFound
	}

	entry.Size = info.Size() - offset
	return &ReadResult{
		Entry: entry,
		Reader: &sectionBody{
			SectionReader: io.NewSectionReader(f, offset, entry.Size),
			file:          f,
		},
	}, nil
}

func (s *fileStore) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (*Entry, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	unlock := s.lockEntry(key)
	defer unlock()

	filePath := s.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	entry := newEntry(key, 0, opts)
	meta, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	written, err := writeRecord(ctx, tempFile, meta, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	entry.Size = written
	return &entry, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) entryPath(key string) string {
	sum := sha1.Sum([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(s.basePath, name[:2], name+".obj")
}

func writeRecord(ctx context.Context, dst io.Writer, meta []byte, body io.Reader) (int64, error) {
	var header [recordHeaderSize]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(meta)))
	if _, err := dst.Write(header[:]); err != nil {
		return 0, err
	}
	if _, err := dst.Write(meta); err != nil {
		return 0, err
	}
	return copyWithContext(ctx, dst, body)
}

func readRecordHeader(r io.Reader) (Entry, int64, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Entry{}, 0, err
	}
	size := binary.BigEndian.Uint64(header[:])
	if size == 0 || size > maxMetadataSize {
		return Entry{}, 0, fmt.Errorf("invalid metadata length %d", size)
	}
	meta := make([]byte, size)
	if _, err := io.ReadFull(r, meta); err != nil {
		return Entry{}, 0, err
	}
	var entry Entry
	if err := json.Unmarshal(meta, &entry); err != nil {
		return Entry{}, 0, err
	}
	return entry, recordHeaderSize + int64(size), nil
}
