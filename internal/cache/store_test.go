package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		DriverFS: func(t *testing.T) Store {
			return openTestStore(t, DriverFS, t.TempDir())
		},
		DriverLevelDB: func(t *testing.T) Store {
			return openTestStore(t, DriverLevelDB, filepath.Join(t.TempDir(), "leveldb"))
		},
		DriverSQLite: func(t *testing.T) Store {
			return openTestStore(t, DriverSQLite, filepath.Join(t.TempDir(), "cache.db"))
		},
	}
}

func TestStorePutAndGet(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			key := "cache/example.com/a/photo.png--sha1=0123456789abcdef0123456789abcdef01234567"

			storedAt := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
			payload := []byte("payload")
			opts := PutOptions{
				HTTPMetadata: HTTPMetadata{
					ContentType:        "image/png",
					CacheControl:       "public, max-age=604800, immutable",
					ContentDisposition: "attachment; filename=photo.png",
					ContentEncoding:    "br",
					ContentLanguage:    "en",
				},
				CustomMetadata: CustomMetadata{
					OriginalURL: "https://example.com/a/photo.png",
					URLHash:     "0123456789abcdef0123456789abcdef01234567",
					RequestPath: "/a/photo.png",
				},
				StoredAt: storedAt,
			}
			entry, err := store.Put(context.Background(), key, bytes.NewReader(payload), opts)
			if err != nil {
				t.Fatalf("put error: %v", err)
			}
			if entry.Size != int64(len(payload)) {
				t.Fatalf("put size mismatch: %d", entry.Size)
			}

			result, err := store.Get(context.Background(), key)
			if err != nil {
				t.Fatalf("get error: %v", err)
			}
			defer result.Reader.Close()

			body, err := io.ReadAll(result.Reader)
			if err != nil {
				t.Fatalf("read cached body error: %v", err)
			}
			if string(body) != string(payload) {
				t.Fatalf("cached payload mismatch: %s", string(body))
			}
			if result.Entry.Size != int64(len(payload)) {
				t.Fatalf("size mismatch: %d", result.Entry.Size)
			}
			if result.Entry.HTTPMetadata != opts.HTTPMetadata {
				t.Fatalf("http metadata mismatch: %+v", result.Entry.HTTPMetadata)
			}
			if result.Entry.CustomMetadata != opts.CustomMetadata {
				t.Fatalf("custom metadata mismatch: %+v", result.Entry.CustomMetadata)
			}
			if !result.Entry.StoredAt.Equal(storedAt) {
				t.Fatalf("stored_at mismatch: expected %v got %v", storedAt, result.Entry.StoredAt)
			}
			if result.Entry.Key != key {
				t.Fatalf("key mismatch: %s", result.Entry.Key)
			}
		})
	}
}

func TestStoreDefaultsContentType(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			entry, err := store.Put(context.Background(), "cache/x", strings.NewReader("x"), PutOptions{})
			if err != nil {
				t.Fatalf("put error: %v", err)
			}
			if entry.HTTPMetadata.ContentType != DefaultContentType {
				t.Fatalf("expected default content type, got %q", entry.HTTPMetadata.ContentType)
			}
			result, err := store.Get(context.Background(), "cache/x")
			if err != nil {
				t.Fatalf("get error: %v", err)
			}
			result.Reader.Close()
			if result.Entry.HTTPMetadata.ContentType != DefaultContentType {
				t.Fatalf("stored content type should default, got %q", result.Entry.HTTPMetadata.ContentType)
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			_, err := store.Get(context.Background(), "cache/missing")
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreOverwriteLastWriteWins(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			if _, err := store.Put(ctx, "cache/k", strings.NewReader("first"), PutOptions{}); err != nil {
				t.Fatalf("first put: %v", err)
			}
			if _, err := store.Put(ctx, "cache/k", strings.NewReader("second!"), PutOptions{}); err != nil {
				t.Fatalf("second put: %v", err)
			}
			result, err := store.Get(ctx, "cache/k")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer result.Reader.Close()
			body, _ := io.ReadAll(result.Reader)
			if string(body) != "second!" || result.Entry.Size != 7 {
				t.Fatalf("expected last write to win, got %q (%d)", body, result.Entry.Size)
			}
		})
	}
}

func TestStoreFailedPutLeavesNoEntry(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			body := io.MultiReader(strings.NewReader("partial"), errReader{errors.New("origin reset")})
			if _, err := store.Put(context.Background(), "cache/broken", body, PutOptions{}); err == nil {
				t.Fatalf("expected put error")
			}
			if _, err := store.Get(context.Background(), "cache/broken"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("failed put must not be visible, got %v", err)
			}
		})
	}
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	store := openTestStore(t, DriverFS, t.TempDir())
	if _, err := store.Put(context.Background(), "", strings.NewReader("x"), PutOptions{}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestFileStoreIgnoresDirectories(t *testing.T) {
	store := openTestStore(t, DriverFS, t.TempDir())
	key := "cache/example.com/v2"

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	if err := os.MkdirAll(fs.entryPath(key), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestFileStoreHandlesMaxLengthKeys(t *testing.T) {
	store := openTestStore(t, DriverFS, t.TempDir())
	key := "cache/" + strings.Repeat("segment-without-slashes", 44)
	if _, err := store.Put(context.Background(), key, strings.NewReader("long"), PutOptions{}); err != nil {
		t.Fatalf("long keys should be storable: %v", err)
	}
	result, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	result.Reader.Close()
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	if _, err := NewStore("s3", t.TempDir()); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func openTestStore(t *testing.T, driver, path string) Store {
	t.Helper()
	store, err := NewStore(driver, path)
	if err != nil {
		t.Fatalf("failed to create %s store: %v", driver, err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
