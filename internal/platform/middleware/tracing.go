package middleware

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/telehealth/rxdesk/internal/platform/auth"
)

// Tracing starts a server span per request. Public infrastructure paths are
// not traced.
func Tracing(service string) echo.MiddlewareFunc {
	return otelecho.Middleware(service,
		otelecho.WithSkipper(func(c echo.Context) bool {
			return auth.IsPublicPath(c.Request().URL.Path)
		}),
	)
}
