package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handler describes the component responsible for serving intercepted
// requests (cache-first with network fallback). It allows injecting fake
// handlers during tests.
type Handler interface {
	Handle(fiber.Ctx) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(fiber.Ctx) error

// Handle makes HandlerFunc satisfy Handler.
func (f HandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger      *logrus.Logger
	Interceptor Handler
	ListenPort  int
}

const contextKeyRequestID = "_coopshell_request_id"

// NewApp builds a Fiber application with request-ID middleware and the
// intercept-everything fallback route. Diagnostics routes under /-/ are
// registered separately and bypass interception.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Interceptor == nil {
		return nil, errors.New("interceptor is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return opts.Interceptor.Handle(c)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID，贯穿日志与响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
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
