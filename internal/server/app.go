package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/vault"
)

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Dispatcher *vault.Dispatcher
	ListenPort int
}

const contextKeyRequestID = "_vault_request_id"

// NewApp builds a Fiber application with prefix routing and structured
// error handling. All artifact traffic funnels through a single wildcard
// route; `/-/` paths host diagnostics.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive:     true,
		StreamRequestBody: false,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	handler := &Handler{Dispatcher: opts.Dispatcher, Logger: opts.Logger}

	app.Get("/-/resolvers", func(c fiber.Ctx) error {
		return renderResolvers(c, opts.Dispatcher)
	})

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return handler.Handle(c)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID，响应头与日志共用。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
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

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}

func renderResolvers(c fiber.Ctx, dispatcher *vault.Dispatcher) error {
	type resolverInfo struct {
		Name   string `json:"name"`
		Prefix string `json:"prefix"`
	}
	resolvers := dispatcher.Resolvers()
	infos := make([]resolverInfo, 0, len(resolvers))
	for _, r := range resolvers {
		infos = append(infos, resolverInfo{Name: r.Name(), Prefix: r.Prefix()})
	}
	return c.JSON(fiber.Map{"resolvers": infos})
}
