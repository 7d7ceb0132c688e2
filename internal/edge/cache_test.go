package edge

import (
	"bytes"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func snapshot(body string) Snapshot {
	return Snapshot{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
	}
}

func newTestCache(t *testing.T, maxBytes, maxEntry int64, ttl time.Duration) *Cache {
	t.Helper()
	c, err := New(maxBytes, maxEntry, ttl)
	if err != nil {
		t.Fatalf("new edge cache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestCachePutGet(t *testing.T) {
	c := newTestCache(t, 1024, 512, time.Hour)
	if !c.Put("/?key=r&url=a", snapshot("alpha")) {
		t.Fatalf("put should be accepted")
	}
	got, ok := c.Get("/?key=r&url=a")
	if !ok {
		t.Fatalf("expected hit")
	}
	if string(got.Body) != "alpha" || got.Status != http.StatusOK {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if got.Header.Get("Content-Type") != "text/plain" || got.StoredAt.IsZero() {
		t.Fatalf("header/time not preserved: %+v", got)
	}
	if _, ok := c.Get("/?key=other&url=a"); ok {
		t.Fatalf("different request string must miss")
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	c := newTestCache(t, 1024, 512, 0)
	body := []byte("mutable")
	c.Put("k", Snapshot{Status: 200, Header: http.Header{}, Body: body})
	body[0] = 'X'

	got, _ := c.Get("k")
	if !bytes.Equal(got.Body, []byte("mutable")) {
		t.Fatalf("stored body should not alias caller slice: %q", got.Body)
	}
	got.Body[0] = 'Y'
	got.Header.Set("X-Test", "1")

	again, _ := c.Get("k")
	if string(again.Body) != "mutable" || again.Header.Get("X-Test") != "" {
		t.Fatalf("returned snapshot should be a copy")
	}
}

func TestCacheRejectsOversizedEntry(t *testing.T) {
	c := newTestCache(t, 1024, 16, 0)
	if c.Put("big", snapshot("this body is clearly larger than sixteen bytes")) {
		t.Fatalf("oversized entry should be rejected")
	}
	if stats := c.Stats(); stats.Entries != 0 || stats.Bytes != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCacheStaysWithinByteBudget(t *testing.T) {
	c := newTestCache(t, 100, 40, 0)
	for i := 0; i < 20; i++ {
		c.Put(fmt.Sprintf("k%d", i), Snapshot{Status: 200, Body: bytes.Repeat([]byte("x"), 20)})
	}
	stats := c.Stats()
	if stats.Bytes > 100 {
		t.Fatalf("byte budget exceeded: %+v", stats)
	}
	if stats.Entries > 5 {
		t.Fatalf("at most five 20-byte entries fit, got %+v", stats)
	}
}

func TestCacheExpiresEntries(t *testing.T) {
	c := newTestCache(t, 1024, 1024, 50*time.Millisecond)

	c.Put("k", snapshot("v"))
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("entry should be fresh")
	}
	time.Sleep(120 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("entry should have expired")
	}
}

func TestCacheOverwriteReplacesSnapshot(t *testing.T) {
	c := newTestCache(t, 1024, 1024, 0)
	c.Put("k", Snapshot{Status: 200, Body: []byte("1234567890")})
	if !c.Put("k", Snapshot{Status: 200, Body: []byte("12")}) {
		t.Fatalf("overwrite should be accepted")
	}
	got, ok := c.Get("k")
	if !ok || string(got.Body) != "12" {
		t.Fatalf("expected latest snapshot, got %q %v", got.Body, ok)
	}
	if stats := c.Stats(); stats.Entries != 1 {
		t.Fatalf("overwrite must not add an entry: %+v", stats)
	}
}

func TestDisabledCache(t *testing.T) {
	c := newTestCache(t, 0, 0, time.Hour)
	if c.Enabled() || c.Fits(1) {
		t.Fatalf("zero budget should disable the cache")
	}
	if c.Put("k", snapshot("v")) {
		t.Fatalf("disabled cache must not store")
	}
	if _, ok := c.Get("k"); ok {
		t.Fatalf("disabled cache must miss")
	}

	var nilCache *Cache
	if nilCache.Enabled() {
		t.Fatalf("nil cache should be disabled")
	}
	if stats := nilCache.Stats(); stats.Entries != 0 {
		t.Fatalf("nil cache stats should be empty")
	}
	nilCache.Close()
}
