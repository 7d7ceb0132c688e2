// Package cachekey 负责把客户端请求的源站 URL 转换为对象存储中的键。
// 键的形态为 "cache/<去掉协议头的 URL>--sha1=<40 位十六进制摘要>"，总长度不超过
// 对象存储的 1024 字节上限；摘要后缀始终完整保留，截断只发生在 URL 部分。
package cachekey

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

const (
	// MaxKeyLength 是对象存储允许的最大键长度（字节）。
	MaxKeyLength = 1024
	// Prefix 统一加在所有缓存键前，便于在存储桶中按目录浏览。
	Prefix = "cache/"
	// HashMarker 分隔 URL 部分与摘要后缀。
	HashMarker = "--sha1="
	// HashLength 是十六进制 SHA-1 摘要的固定长度。
	HashLength = sha1.Size * 2
)

// maxURLPart 是 Prefix + URL 部分允许占用的最大字节数。
const maxURLPart = MaxKeyLength - len(HashMarker) - HashLength

var schemePrefixes = []string{"https://", "http://"}

// Hash 返回原始 URL 字符串（未去掉协议头）的 SHA-1 十六进制摘要。
func Hash(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// Derive 根据 URL 计算缓存键。同一字符串总是得到同一个键，与调用顺序无关。
func Derive(rawURL string) string {
	body := Prefix + stripScheme(rawURL)
	body = truncate(body, maxURLPart)

	var b strings.Builder
	b.Grow(len(body) + len(HashMarker) + HashLength)
	b.WriteString(body)
	b.WriteString(HashMarker)
	b.WriteString(Hash(rawURL))
	return b.String()
}

// Split 将键拆回 URL 前缀（含 Prefix）与摘要，用于运维排查；格式不符时 ok 为 false。
func Split(key string) (urlPart, hash string, ok bool) {
	idx := strings.LastIndex(key, HashMarker)
	if idx < 0 {
		return "", "", false
	}
	hash = key[idx+len(HashMarker):]
	if len(hash) != HashLength || !isHex(hash) {
		return "", "", false
	}
	urlPart = key[:idx]
	if !strings.HasPrefix(urlPart, Prefix) {
		return "", "", false
	}
	return urlPart, hash, true
}

func stripScheme(rawURL string) string {
	for _, scheme := range schemePrefixes {
		if strings.HasPrefix(rawURL, scheme) {
			return rawURL[len(scheme):]
		}
	}
	return rawURL
}

// truncate 按字节截断，但不会把一个 UTF-8 多字节字符切成两半。
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
