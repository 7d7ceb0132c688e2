package origin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/any-hub/readthrough/internal/version"
)

// Response 是一次回源的结果。Buffered 非 nil 时正文已全部读入内存，Body 从该缓冲读取。
type Response struct {
	StatusCode    int
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
	Buffered      []byte
}

// OK 与 fetch 的 response.ok 一致：仅 2xx 视为成功。
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode <= 299
}

// Close 释放正文。
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// Fetcher 执行回源请求。部分源站不返回 Content-Length，针对这些主机会先把正文完整读入内存，
// 其余主机一律流式透传。
type Fetcher struct {
	client   *http.Client
	buffered map[string]struct{}
}

// NewFetcher 使用共享 http.Client 构建 Fetcher；bufferedHosts 为需要整体缓冲的主机名。
func NewFetcher(client *http.Client, bufferedHosts []string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	set := make(map[string]struct{}, len(bufferedHosts))
	for _, raw := range bufferedHosts {
		if host, _ := NormalizeHost(raw); host != "" {
			set[host] = struct{}{}
		}
	}
	return &Fetcher{client: client, buffered: set}
}

// NeedsBuffering 判断 host（可带端口）是否在缓冲名单内。
func (f *Fetcher) NeedsBuffering(host string) bool {
	if f == nil || len(f.buffered) == 0 {
		return false
	}
	normalized, _ := NormalizeHost(host)
	_, ok := f.buffered[normalized]
	return ok
}

// BufferedHosts 返回名单大小，供启动日志使用。
func (f *Fetcher) BufferedHosts() int {
	if f == nil {
		return 0
	}
	return len(f.buffered)
}

// Fetch 对 target 发起 GET。调用方负责关闭返回的 Response。
func (f *Fetcher) Fetch(ctx context.Context, target string) (*Response, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}
	req.Header.Set("User-Agent", "readthrough/"+version.Version)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}

	out := &Response{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
	}
	if !f.NeedsBuffering(parsed.Host) {
		return out, nil
	}

	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("buffer origin body: %w", err)
	}
	out.Buffered = buf
	out.Body = io.NopCloser(bytes.NewReader(buf))
	out.ContentLength = int64(len(buf))
	return out, nil
}

// NormalizeHost 去除空白、尾部的点并转为小写，同时拆出端口（若有）。
func NormalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
