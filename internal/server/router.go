package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AppOptions controls how the mirror application should behave.
type AppOptions struct {
	Logger *logrus.Logger
	Mirror *Mirror
}

const contextKeyRequestID = "_sanstu_request_id"

// NewApp builds a Fiber application serving the mirror with request-id and
// access-log middleware.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Mirror == nil {
		return nil, errors.New("mirror is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	registerIndexRoutes(app, opts.Mirror)
	app.Get("/-/tarballs/*", opts.Mirror.serveTarball)
	app.Get("/*", opts.Mirror.servePackument)

	return app, nil
}

// requestContextMiddleware 生成请求 ID 并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()

		logger.WithFields(logrus.Fields{
			"action":     "mirror_request",
			"request_id": reqID,
			"method":     c.Method(),
			"path":       string(c.Request().URI().PathOriginal()),
			"status":     c.Response().StatusCode(),
			"elapsed_ms": time.Since(started).Milliseconds(),
		}).Debug("mirror request served")
		return err
	}
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
