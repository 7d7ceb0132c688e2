package proxy

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
)

var (
	errMissingURL    = errors.New("missing url parameter")
	errInvalidURL    = errors.New("url must be an absolute http or https address")
	errInvalidParams = errors.New("params is not valid base64")
)

// target 是合并额外查询参数后的回源地址。raw 同时用于派生缓存键与回源，
// path 仅供 Content-Disposition 修正使用。
type target struct {
	raw  string
	path string
}

// resolveTarget 将 url 与可选的 base64 参数块合并为最终目标。缓存检查与回源共用此结果，
// 保证两条路径派生出同一个键。
func resolveTarget(rawURL, rawParams string) (target, error) {
	if rawURL == "" {
		return target{}, errMissingURL
	}

	merged := rawURL
	if strings.TrimSpace(rawParams) != "" {
		extra, err := decodeParams(rawParams)
		if err != nil {
			return target{}, err
		}
		merged = appendQuery(rawURL, extra)
	}

	parsed, err := url.Parse(merged)
	if err != nil {
		return target{}, errInvalidURL
	}
	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != "http" && scheme != "https") || parsed.Host == "" {
		return target{}, errInvalidURL
	}

	return target{raw: merged, path: parsed.Path}, nil
}

var paramEncodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// decodeParams 接受标准与 URL-safe 两种字母表，带或不带填充。
// 未转义的 '+' 在查询解码后会变成空格，这里先还原。
func decodeParams(raw string) (string, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), " ", "+")
	for _, enc := range paramEncodings {
		if decoded, err := enc.DecodeString(raw); err == nil {
			return string(decoded), nil
		}
	}
	return "", errInvalidParams
}

// appendQuery 把解码后的参数原样接在目标地址之后，缺少前导 '?' 时补上。
// 不与目标已有的查询串合并，两者拼接结果即缓存键的来源。
func appendQuery(rawURL, extra string) string {
	if extra == "" {
		return rawURL
	}
	if !strings.HasPrefix(extra, "?") {
		extra = "?" + extra
	}
	return rawURL + extra
}
