package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/readthrough/internal/access"
	"github.com/any-hub/readthrough/internal/cache"
	"github.com/any-hub/readthrough/internal/cachekey"
	"github.com/any-hub/readthrough/internal/disposition"
	"github.com/any-hub/readthrough/internal/edge"
	"github.com/any-hub/readthrough/internal/logging"
	"github.com/any-hub/readthrough/internal/origin"
	"github.com/any-hub/readthrough/internal/server"
)

// 响应来源层级，写入 TierHeader 与请求日志。
const (
	TierEdge   = "edge"
	TierObject = "object"
	TierOrigin = "origin"
	tierNone   = "none"
)

const (
	// TierHeader 标记响应来自哪一层。
	TierHeader = "X-Readthrough-Tier"

	defaultCacheControl = "public, max-age=604800, immutable"
	defaultHitHeader    = "X-Readthrough-Cache-Hit"
	defaultStallTimeout = 30 * time.Second
	faviconCacheControl = "public, max-age=31536000"
)

// Options 汇总 Handler 的依赖，全部在启动时构建一次。
type Options struct {
	Store        cache.Store
	Edge         *edge.Cache
	Fetcher      *origin.Fetcher
	Gate         *access.Gate
	Writer       *cache.Writer
	Logger       *logrus.Logger
	CacheControl string
	HitHeader    string
	FaviconKey   string
	// StallTimeout 是写穿时单次客户端写入允许阻塞的时长，超过后断开客户端、继续写缓存。
	StallTimeout time.Duration
}

// Handler 负责 orchestrate “鉴权 → 边缘缓存 → 对象缓存 → 回源写穿” 的全流程，
// 对外暴露 Fiber handler。除两层缓存外不持有任何跨请求的可变状态。
type Handler struct {
	store        cache.Store
	edge         *edge.Cache
	fetcher      *origin.Fetcher
	gate         *access.Gate
	writer       *cache.Writer
	logger       *logrus.Logger
	cacheControl string
	hitHeader    string
	faviconKey   string
	stallTimeout time.Duration
}

// NewHandler constructs a read-through handler. Edge may be nil to disable the
// edge tier.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Store == nil {
		return nil, errors.New("object store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("origin fetcher is required")
	}
	if opts.Gate == nil {
		return nil, errors.New("access gate is required")
	}
	if opts.Writer == nil {
		return nil, errors.New("cache writer is required")
	}
	h := &Handler{
		store:        opts.Store,
		edge:         opts.Edge,
		fetcher:      opts.Fetcher,
		gate:         opts.Gate,
		writer:       opts.Writer,
		logger:       opts.Logger,
		cacheControl: opts.CacheControl,
		hitHeader:    opts.HitHeader,
		faviconKey:   opts.FaviconKey,
		stallTimeout: opts.StallTimeout,
	}
	if h.logger == nil {
		h.logger = logrus.StandardLogger()
	}
	if h.cacheControl == "" {
		h.cacheControl = defaultCacheControl
	}
	if h.hitHeader == "" {
		h.hitHeader = defaultHitHeader
	}
	if h.stallTimeout <= 0 {
		h.stallTimeout = defaultStallTimeout
	}
	return h, nil
}

// requestState 是单个请求的临时状态，只在当前请求内使用。
type requestState struct {
	id      string
	method  string
	target  string
	key     string
	edgeKey string
	started time.Time
}

func (r *requestState) fields() logrus.Fields {
	return logging.RequestFields(r.id, r.method, r.target, r.key)
}

// Handle 执行鉴权、两级缓存查找与回源写穿，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx) error {
	req := &requestState{
		id:      server.RequestID(c),
		method:  c.Method(),
		edgeKey: edgeKeyFor(c),
		started: time.Now(),
	}

	scope := h.gate.Resolve(c.Query("key"))
	if !scope.CanRead() {
		return h.reject(c, req, fiber.StatusForbidden, "invalid_key")
	}

	if snap, ok := h.edge.Get(req.edgeKey); ok {
		return h.serveSnapshot(c, req, snap)
	}

	tgt, err := resolveTarget(c.Query("url"), c.Query("params"))
	if err != nil {
		switch {
		case errors.Is(err, errMissingURL):
			return h.reject(c, req, fiber.StatusBadRequest, "missing_url")
		case errors.Is(err, errInvalidParams):
			return h.reject(c, req, fiber.StatusBadRequest, "invalid_params")
		default:
			return h.reject(c, req, fiber.StatusBadRequest, "invalid_url")
		}
	}
	req.target = tgt.raw
	req.key = cachekey.Derive(tgt.raw)

	if cached := h.lookup(requestContext(c), req, req.key); cached != nil {
		return h.serveObject(c, req, tgt.path, cached, h.cacheControl)
	}

	// 只读凭证在未命中时得到与“资源不存在”相同的响应，不暴露缓存填充状态。
	if !scope.CanWrite() {
		return h.reject(c, req, fiber.StatusNotFound, "not_found")
	}

	return h.populate(c, req, tgt)
}

// HandleFavicon 直接从对象缓存返回固定的 favicon 对象，不经过鉴权与键派生。
func (h *Handler) HandleFavicon(c fiber.Ctx) error {
	req := &requestState{
		id:      server.RequestID(c),
		method:  c.Method(),
		target:  c.Path(),
		key:     h.faviconKey,
		edgeKey: edgeKeyFor(c),
		started: time.Now(),
	}

	if snap, ok := h.edge.Get(req.edgeKey); ok {
		return h.serveSnapshot(c, req, snap)
	}
	if h.faviconKey == "" {
		return h.reject(c, req, fiber.StatusNotFound, "not_found")
	}
	cached := h.lookup(requestContext(c), req, h.faviconKey)
	if cached == nil {
		return h.reject(c, req, fiber.StatusNotFound, "not_found")
	}
	return h.serveObject(c, req, server.FaviconPath, cached, faviconCacheControl)
}

// lookup 查询对象缓存；存储层错误按未命中处理，只记录告警。
func (h *Handler) lookup(ctx context.Context, req *requestState, key string) *cache.ReadResult {
	result, err := h.store.Get(ctx, key)
	switch {
	case err == nil:
		return result
	case errors.Is(err, cache.ErrNotFound):
	default:
		h.logger.WithError(err).WithFields(req.fields()).Warn("cache_get_failed")
	}
	return nil
}

func (h *Handler) serveSnapshot(c fiber.Ctx, req *requestState, snap edge.Snapshot) error {
	applyHeaders(c, snap.Header)
	c.Set(h.hitHeader, "true")
	c.Set(TierHeader, TierEdge)
	c.Status(snap.Status)
	h.logResult(req, TierEdge, snap.Status, nil)
	return c.Send(snap.Body)
}

func (h *Handler) serveObject(c fiber.Ctx, req *requestState, requestPath string, result *cache.ReadResult, cacheControl string) error {
	entry := result.Entry
	header := h.hitHeaders(requestPath, entry.HTTPMetadata, cacheControl)
	applyHeaders(c, header)
	c.Set(TierHeader, TierObject)
	c.Status(fiber.StatusOK)

	if req.method == http.MethodHead {
		result.Reader.Close()
		c.Response().Header.SetContentLength(int(entry.Size))
		h.logResult(req, TierObject, fiber.StatusOK, nil)
		return nil
	}

	if !h.edge.Fits(entry.Size) {
		h.logResult(req, TierObject, fiber.StatusOK, nil)
		return c.SendStream(result.Reader, int(entry.Size))
	}

	body, err := io.ReadAll(result.Reader)
	result.Reader.Close()
	if err != nil {
		h.logResult(req, TierObject, fiber.StatusBadGateway, err)
		return h.writeError(c, fiber.StatusBadGateway, "cache_read_failed")
	}

	snap := edge.Snapshot{Status: fiber.StatusOK, Header: header, Body: body}
	go h.edge.Put(req.edgeKey, snap)

	h.logResult(req, TierObject, fiber.StatusOK, nil)
	return c.Send(body)
}

// populate 回源并写穿。非 2xx 响应原样透传且不缓存；2xx 响应在后台写入对象缓存，
// 客户端无需等待写入完成。
func (h *Handler) populate(c fiber.Ctx, req *requestState, tgt target) error {
	// 正文在 handler 返回后仍会被后台任务读取，不能绑定请求上下文；超时由 http.Client 负责。
	resp, err := h.fetcher.Fetch(context.Background(), tgt.raw)
	if err != nil {
		h.logResult(req, TierOrigin, fiber.StatusBadGateway, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	if !resp.OK() {
		return h.relay(c, req, tgt, resp)
	}

	meta := captureMetadata(resp.Header, h.cacheControl)
	opts := cache.PutOptions{
		HTTPMetadata: meta,
		CustomMetadata: cache.CustomMetadata{
			OriginalURL: tgt.raw,
			URLHash:     cachekey.Hash(tgt.raw),
			RequestPath: tgt.path,
		},
		StoredAt: time.Now().UTC(),
	}

	header := h.originHeaders(resp.Header, tgt.path, meta)
	if resp.Buffered != nil {
		return h.writeThroughBuffered(c, req, tgt, resp, opts, header)
	}
	return h.writeThroughStream(c, req, tgt, resp, opts, header)
}

// relay 透传失败的源站响应，仅修正 Content-Disposition。
func (h *Handler) relay(c fiber.Ctx, req *requestState, tgt target, resp *origin.Response) error {
	header := http.Header{}
	server.CopyHeaders(header, resp.Header, fiber.HeaderContentLength)
	header.Set(fiber.HeaderContentDisposition, disposition.Fix(tgt.path, resp.Header.Get(fiber.HeaderContentDisposition)))
	header.Set(h.hitHeader, "false")
	header.Set(TierHeader, TierOrigin)
	applyHeaders(c, header)
	c.Status(resp.StatusCode)
	h.logResult(req, TierOrigin, resp.StatusCode, nil)

	if req.method == http.MethodHead {
		resp.Close()
		if resp.ContentLength >= 0 {
			c.Response().Header.SetContentLength(int(resp.ContentLength))
		}
		return nil
	}
	return c.SendStream(resp.Body, int(resp.ContentLength))
}

func (h *Handler) writeThroughBuffered(c fiber.Ctx, req *requestState, tgt target, resp *origin.Response, opts cache.PutOptions, header http.Header) error {
	body := resp.Buffered
	resp.Close()

	task := func(ctx context.Context) error {
		entry, err := h.store.Put(ctx, req.key, bytes.NewReader(body), opts)
		if err != nil {
			return err
		}
		h.rememberEdge(req.edgeKey, tgt.path, entry, body)
		return nil
	}
	h.schedule(req, task)

	applyHeaders(c, header)
	c.Status(resp.StatusCode)
	h.logResult(req, TierOrigin, resp.StatusCode, nil)
	if req.method == http.MethodHead {
		c.Response().Header.SetContentLength(len(body))
		return nil
	}
	return c.Send(body)
}

// writeThroughStream 由单个后台任务读取一次源站正文，同时写入对象缓存与客户端管道。
// 客户端断开或停止读取超过 stallTimeout 时会被断开，缓存写入照常完成；
// 缓存写入失败时剩余正文继续转发给客户端。
func (h *Handler) writeThroughStream(c fiber.Ctx, req *requestState, tgt target, resp *origin.Response, opts cache.PutOptions, header http.Header) error {
	var capture *captureBuffer
	if h.edge.Enabled() && (resp.ContentLength < 0 || h.edge.Fits(resp.ContentLength)) {
		capture = newCaptureBuffer(h.edge.Fits)
	}

	if req.method == http.MethodHead {
		task := func(ctx context.Context) error {
			defer resp.Close()
			var body io.Reader = resp.Body
			if capture != nil {
				body = io.TeeReader(resp.Body, capture)
			}
			entry, err := h.store.Put(ctx, req.key, body, opts)
			if err != nil {
				return err
			}
			if copied, ok := capture.Bytes(); ok {
				h.rememberEdge(req.edgeKey, tgt.path, entry, copied)
			}
			return nil
		}
		if !h.schedule(req, task) {
			resp.Close()
		}
		applyHeaders(c, header)
		c.Status(resp.StatusCode)
		if resp.ContentLength >= 0 {
			c.Response().Header.SetContentLength(int(resp.ContentLength))
		}
		h.logResult(req, TierOrigin, resp.StatusCode, nil)
		return nil
	}

	pr, pw := io.Pipe()
	client := newDetachableWriter(pw, h.stallTimeout)
	sinks := []io.Writer{client}
	if capture != nil {
		sinks = append(sinks, capture)
	}

	task := func(ctx context.Context) error {
		defer resp.Close()
		defer h.logDetached(req, client)
		entry, err := h.store.Put(ctx, req.key, io.TeeReader(resp.Body, io.MultiWriter(sinks...)), opts)
		if err != nil {
			if _, copyErr := io.Copy(client, resp.Body); copyErr != nil {
				pw.CloseWithError(copyErr)
			} else {
				pw.Close()
			}
			return err
		}
		pw.Close()
		if copied, ok := capture.Bytes(); ok {
			h.rememberEdge(req.edgeKey, tgt.path, entry, copied)
		}
		return nil
	}

	applyHeaders(c, header)
	c.Status(resp.StatusCode)
	h.logResult(req, TierOrigin, resp.StatusCode, nil)

	if !h.schedule(req, task) {
		pr.Close()
		return c.SendStream(resp.Body, int(resp.ContentLength))
	}
	return c.SendStream(pr, int(resp.ContentLength))
}

// logDetached 记录写穿过程中被断开的客户端，缓存写入不受影响。
func (h *Handler) logDetached(req *requestState, client *detachableWriter) {
	detached, cause := client.Detached()
	if !detached {
		return
	}
	fields := req.fields()
	fields["action"] = "persist"
	h.logger.WithError(cause).WithFields(fields).Warn("client_detached")
}

// schedule 把持久化任务交给后台 Writer；Writer 已关闭（进程退出中）时放弃缓存写入。
func (h *Handler) schedule(req *requestState, task cache.Task) bool {
	fields := req.fields()
	fields["action"] = "persist"
	if err := h.writer.Go(fields, task); err != nil {
		h.logger.WithError(err).WithFields(fields).Warn("persist_skipped")
		return false
	}
	return true
}

// rememberEdge 将完成写入的对象以命中形式放入边缘缓存。
func (h *Handler) rememberEdge(edgeKey, requestPath string, entry *cache.Entry, body []byte) {
	if entry == nil || int64(len(body)) != entry.Size {
		return
	}
	h.edge.Put(edgeKey, edge.Snapshot{
		Status: fiber.StatusOK,
		Header: h.hitHeaders(requestPath, entry.HTTPMetadata, h.cacheControl),
		Body:   body,
	})
}

func (h *Handler) reject(c fiber.Ctx, req *requestState, status int, code string) error {
	h.logResult(req, tierNone, status, nil)
	return h.writeError(c, status, code)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(req *requestState, tier string, status int, err error) {
	fields := logging.Merge(req.fields(), logging.OutcomeFields(tier, status, req.started))
	fields["action"] = "proxy"
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// edgeKeyFor 以完整的入站请求（含查询串与 api key）作为边缘缓存键。
func edgeKeyFor(c fiber.Ctx) string {
	return c.BaseURL() + c.OriginalURL()
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
