package edge

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Snapshot 是一次完整响应的副本，命中时原样回放。
type Snapshot struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// size 估算快照占用的字节数：正文加上所有头部键值，作为 ristretto 的 cost。
func (s Snapshot) size() int64 {
	n := int64(len(s.Body))
	for k, values := range s.Header {
		n += int64(len(k))
		for _, v := range values {
			n += int64(len(v))
		}
	}
	return n
}

// Stats 是边缘缓存的占用快照，来自 ristretto 的累计指标。
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Cache 是按完整请求 URL 索引的进程内缓存，底层为 ristretto：总字节数由 MaxCost 约束，
// 条目按 TTL 过期，单条超过 maxEntry 的响应不会被收录。
// 缓存已满时 ristretto 的准入策略可能拒绝新条目，此时请求照常由对象缓存响应。
type Cache struct {
	store    *ristretto.Cache[string, Snapshot]
	maxEntry int64
	ttl      time.Duration
}

// New 创建边缘缓存；maxBytes <= 0 时返回的 Cache 不保存任何内容。
func New(maxBytes, maxEntry int64, ttl time.Duration) (*Cache, error) {
	if maxBytes <= 0 {
		return &Cache{}, nil
	}
	if maxEntry <= 0 || maxEntry > maxBytes {
		maxEntry = maxBytes
	}

	store, err := ristretto.NewCache(&ristretto.Config[string, Snapshot]{
		NumCounters:        counterHint(maxBytes),
		MaxCost:            maxBytes,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create edge cache: %w", err)
	}
	return &Cache{store: store, maxEntry: maxEntry, ttl: ttl}, nil
}

// counterHint 按平均 1 KiB 一条估算条目数，计数器取其 10 倍。
func counterHint(maxBytes int64) int64 {
	n := maxBytes / 1024 * 10
	if n < 10_000 {
		n = 10_000
	}
	return n
}

// Enabled 表示该缓存是否会保存条目。
func (c *Cache) Enabled() bool {
	return c != nil && c.store != nil
}

// Fits 判断给定大小的正文是否可能被收录，用于在写入前决定是否需要保留正文副本。
func (c *Cache) Fits(bodySize int64) bool {
	return c.Enabled() && bodySize >= 0 && bodySize <= c.maxEntry
}

// Get 返回 key 对应的快照；Header 与 Body 为副本，调用方可以随意修改。
func (c *Cache) Get(key string) (Snapshot, bool) {
	if !c.Enabled() {
		return Snapshot{}, false
	}
	snap, ok := c.store.Get(key)
	if !ok {
		return Snapshot{}, false
	}
	return cloneSnapshot(snap), true
}

// Put 写入或覆盖 key 对应的快照并等待其可见。超出单条上限或被准入策略拒绝时返回 false。
func (c *Cache) Put(key string, snap Snapshot) bool {
	if !c.Enabled() {
		return false
	}
	snap = cloneSnapshot(snap)
	if snap.StoredAt.IsZero() {
		snap.StoredAt = time.Now()
	}
	cost := snap.size()
	if cost > c.maxEntry {
		return false
	}

	if !c.store.SetWithTTL(key, snap, cost, c.ttl) {
		return false
	}
	c.store.Wait()
	_, ok := c.store.Get(key)
	return ok
}

// Stats 返回条目数与字节数。TTL 到期的条目在 ristretto 后台清理前仍会计入。
func (c *Cache) Stats() Stats {
	if !c.Enabled() || c.store.Metrics == nil {
		return Stats{}
	}
	m := c.store.Metrics
	return Stats{
		Entries: int(m.KeysAdded() - m.KeysEvicted()),
		Bytes:   int64(m.CostAdded() - m.CostEvicted()),
	}
}

// Close 停止 ristretto 的后台协程。
func (c *Cache) Close() {
	if c.Enabled() {
		c.store.Close()
	}
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := Snapshot{
		Status:   s.Status,
		Header:   s.Header.Clone(),
		StoredAt: s.StoredAt,
	}
	if s.Body != nil {
		out.Body = append([]byte(nil), s.Body...)
	}
	if out.Header == nil {
		out.Header = http.Header{}
	}
	return out
}
