package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// DefaultContentType 在源站未声明 Content-Type 时写入元数据。
const DefaultContentType = "text/plain"

// Store 是持久化对象缓存。每次 Put 都是整对象写入：并发读者要么看到旧对象，
// 要么看到完整的新对象，绝不会看到写了一半的条目。同一个键的并发写入以最后完成者为准。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	// 调用方必须关闭 ReadResult.Reader。
	Get(ctx context.Context, key string) (*ReadResult, error)

	// Put 读取 body 直至 EOF 并连同元数据一起写入。写入失败时不得留下可见的残缺条目。
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (*Entry, error)

	// Close 释放底层资源（文件句柄、数据库连接）。
	Close() error
}

// HTTPMetadata 是回放给客户端的响应头子集。空字符串表示该头部缺失。
type HTTPMetadata struct {
	ContentType        string `json:"content_type"`
	CacheControl       string `json:"cache_control,omitempty"`
	ContentDisposition string `json:"content_disposition,omitempty"`
	ContentEncoding    string `json:"content_encoding,omitempty"`
	ContentLanguage    string `json:"content_language,omitempty"`
}

// CustomMetadata 仅用于运维侧整理与排查，任何查找路径都不依赖它。
type CustomMetadata struct {
	OriginalURL string `json:"original_url,omitempty"`
	URLHash     string `json:"url_hash,omitempty"`
	RequestPath string `json:"request_path,omitempty"`
}

// PutOptions 描述写入时附带的元数据。
type PutOptions struct {
	HTTPMetadata   HTTPMetadata
	CustomMetadata CustomMetadata
	StoredAt       time.Time
}

// Entry 描述一个已完整写入的缓存对象。
type Entry struct {
	Key            string         `json:"key"`
	Size           int64          `json:"size"`
	HTTPMetadata   HTTPMetadata   `json:"http_metadata"`
	CustomMetadata CustomMetadata `json:"custom_metadata"`
	StoredAt       time.Time      `json:"stored_at"`
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// Store drivers accepted by NewStore.
const (
	DriverFS      = "fs"
	DriverLevelDB = "leveldb"
	DriverSQLite  = "sqlite"
)

// Drivers 返回受支持的存储驱动列表，供配置校验使用。
func Drivers() []string {
	return []string{DriverFS, DriverLevelDB, DriverSQLite}
}

// NewStore 根据驱动名称构建对象缓存，整站复用一份实例。
func NewStore(driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverFS:
		return NewFileStore(path)
	case DriverLevelDB:
		return NewLevelDBStore(path)
	case DriverSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

// newEntry 组装写入成功后的 Entry，并保证 ContentType 永远存在。
func newEntry(key string, size int64, opts PutOptions) Entry {
	storedAt := opts.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	meta := opts.HTTPMetadata
	if meta.ContentType == "" {
		meta.ContentType = DefaultContentType
	}
	return Entry{
		Key:            key,
		Size:           size,
		HTTPMetadata:   meta,
		CustomMetadata: opts.CustomMetadata,
		StoredAt:       storedAt,
	}
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("cache key required")
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
