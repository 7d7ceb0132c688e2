package routes

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/readthrough/internal/cache"
	"github.com/any-hub/readthrough/internal/edge"
)

// StatusPayload 是 /-/status 的响应体，凭证只输出数量。
type StatusPayload struct {
	Version       string            `json:"version"`
	StoreDriver   string            `json:"store_driver"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Edge          edge.Stats        `json:"edge"`
	Writer        cache.WriterStats `json:"writer"`
	ReadKeys      int               `json:"read_keys"`
	WriteKeys     int               `json:"write_keys"`
	BufferedHosts int               `json:"buffered_hosts"`
}

// StatusSource 汇总运行时状态，由 main 在启动时组装。
type StatusSource struct {
	Version       string
	StoreDriver   string
	Started       time.Time
	Edge          *edge.Cache
	Writer        *cache.Writer
	ReadKeys      int
	WriteKeys     int
	BufferedHosts int
}

// Snapshot 生成一次状态快照。
func (s StatusSource) Snapshot() StatusPayload {
	payload := StatusPayload{
		Version:       s.Version,
		StoreDriver:   s.StoreDriver,
		Edge:          s.Edge.Stats(),
		ReadKeys:      s.ReadKeys,
		WriteKeys:     s.WriteKeys,
		BufferedHosts: s.BufferedHosts,
	}
	if !s.Started.IsZero() {
		payload.UptimeSeconds = int64(time.Since(s.Started) / time.Second)
	}
	if s.Writer != nil {
		payload.Writer = s.Writer.Stats()
	}
	return payload
}

// RegisterStatusRoutes 暴露 /-/status 诊断接口，供运维查看缓存层占用与后台写入积压。
func RegisterStatusRoutes(app *fiber.App, source StatusSource) {
	if app == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(source.Snapshot())
	})
}
