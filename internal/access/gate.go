package access

import (
	"crypto/subtle"
	"strings"
)

// Scope 描述一个凭证被授予的访问范围。写权限隐含读权限。
type Scope int

const (
	ScopeNone Scope = iota
	ScopeRead
	ScopeWrite
)

// String 供日志字段使用。
func (s Scope) String() string {
	switch s {
	case ScopeRead:
		return "read"
	case ScopeWrite:
		return "write"
	default:
		return "none"
	}
}

// CanRead 表示是否允许读取缓存。
func (s Scope) CanRead() bool {
	return s >= ScopeRead
}

// CanWrite 表示是否允许在缓存未命中时回源并写入。
func (s Scope) CanWrite() bool {
	return s == ScopeWrite
}

// Gate 持有启动时加载的读/写凭证白名单，构造后不再修改，可被并发请求共享。
type Gate struct {
	readKeys  []string
	writeKeys []string
}

// NewGate 复制并清理传入的白名单，忽略空白项。
func NewGate(readKeys, writeKeys []string) *Gate {
	return &Gate{
		readKeys:  cleanKeys(readKeys),
		writeKeys: cleanKeys(writeKeys),
	}
}

// Resolve 返回凭证对应的 Scope。写白名单中的凭证同样可以读。
func (g *Gate) Resolve(credential string) Scope {
	if g == nil || credential == "" {
		return ScopeNone
	}
	if isMember(credential, g.writeKeys) {
		return ScopeWrite
	}
	if isMember(credential, g.readKeys) {
		return ScopeRead
	}
	return ScopeNone
}

// Counts 返回读/写白名单的条目数，用于启动日志，不暴露凭证本身。
func (g *Gate) Counts() (read, write int) {
	if g == nil {
		return 0, 0
	}
	return len(g.readKeys), len(g.writeKeys)
}

// isMember 逐个比较全部条目，比较耗时与命中位置无关。
func isMember(credential string, list []string) bool {
	found := 0
	for _, key := range list {
		found |= subtle.ConstantTimeCompare([]byte(credential), []byte(key))
	}
	return found == 1
}

func cleanKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
