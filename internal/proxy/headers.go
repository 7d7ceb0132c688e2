package proxy

import (
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/readthrough/internal/cache"
	"github.com/any-hub/readthrough/internal/disposition"
	"github.com/any-hub/readthrough/internal/server"
)

// captureMetadata 从源站响应中提取需要持久化的头部。Cache-Control 始终使用代理自己的值。
func captureMetadata(header http.Header, cacheControl string) cache.HTTPMetadata {
	meta := cache.HTTPMetadata{
		ContentType:        header.Get(fiber.HeaderContentType),
		CacheControl:       cacheControl,
		ContentDisposition: header.Get(fiber.HeaderContentDisposition),
		ContentEncoding:    header.Get(fiber.HeaderContentEncoding),
		ContentLanguage:    header.Get(fiber.HeaderContentLanguage),
	}
	if meta.ContentType == "" {
		meta.ContentType = cache.DefaultContentType
	}
	return meta
}

// hitHeaders 根据存储的元数据重建命中响应头。Content-Disposition 在每次读取时重新修正，
// Content-Length 由调用方按实际正文设置。
func (h *Handler) hitHeaders(requestPath string, meta cache.HTTPMetadata, cacheControl string) http.Header {
	header := http.Header{}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = cache.DefaultContentType
	}
	header.Set(fiber.HeaderContentType, contentType)
	header.Set(fiber.HeaderCacheControl, cacheControl)
	header.Set(fiber.HeaderContentDisposition, disposition.Fix(requestPath, meta.ContentDisposition))
	if meta.ContentEncoding != "" {
		header.Set(fiber.HeaderContentEncoding, meta.ContentEncoding)
	}
	if meta.ContentLanguage != "" {
		header.Set(fiber.HeaderContentLanguage, meta.ContentLanguage)
	}
	header.Set(h.hitHeader, "true")
	return header
}

// originHeaders 构建写穿时发给客户端的响应头：透传源站头部，再覆盖缓存相关字段。
func (h *Handler) originHeaders(src http.Header, requestPath string, meta cache.HTTPMetadata) http.Header {
	header := http.Header{}
	server.CopyHeaders(header, src, fiber.HeaderContentLength)
	header.Set(fiber.HeaderContentType, meta.ContentType)
	header.Set(fiber.HeaderCacheControl, meta.CacheControl)
	header.Set(fiber.HeaderContentDisposition, disposition.Fix(requestPath, meta.ContentDisposition))
	header.Set(h.hitHeader, "false")
	header.Set(TierHeader, TierOrigin)
	return header
}

// applyHeaders 将 http.Header 写入 Fiber 响应，多值字段逐个追加。
func applyHeaders(c fiber.Ctx, header http.Header) {
	for key, values := range header {
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}
