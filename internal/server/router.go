package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler describes the component that answers read-through requests.
// It allows injecting fake handlers during tests.
type ProxyHandler interface {
	Handle(fiber.Ctx) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Proxy      ProxyHandler
	Favicon    ProxyHandler
	ListenPort int

	// WriteTimeout 限制单个响应写出的总时长，0 表示不限制。
	WriteTimeout time.Duration
}

// FaviconPath 绕过鉴权与键派生，直接由 Favicon 处理器响应。
const FaviconPath = "/favicon.ico"

const contextKeyRequestID = "_readthrough_request_id"

// NewApp builds a Fiber application with request-ID middleware, panic
// recovery and a catch-all read-through route. Diagnostics under /-/ are left
// to routes registered afterwards.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		WriteTimeout:  opts.WriteTimeout,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	if opts.Favicon != nil {
		// Get 同时注册 HEAD
		app.Get(FaviconPath, opts.Favicon.Handle)
	}

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		method := c.Method()
		if method != http.MethodGet && method != http.MethodHead {
			return renderMethodNotAllowed(c, opts.Logger, method)
		}
		return opts.Proxy.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func renderMethodNotAllowed(c fiber.Ctx, logger *logrus.Logger, method string) error {
	logger.WithFields(logrus.Fields{
		"action":     "method_check",
		"method":     method,
		"request_id": RequestID(c),
	}).Debug("method not allowed")

	c.Set(fiber.HeaderAllow, "GET, HEAD")
	return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
		"error": "method_not_allowed",
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
