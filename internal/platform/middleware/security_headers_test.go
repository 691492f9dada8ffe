package middleware

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name    string
		handler echo.HandlerFunc
	}{
		{"success", func(c echo.Context) error { return c.JSON(http.StatusOK, map[string]string{"state": "TX"}) }},
		{"error", func(echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "queue item not found") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(http.MethodGet, "/api/v1/patients/abc")
			_ = SecurityHeaders()(tt.handler)(c)

			for _, kv := range securityHeaders {
				assert.Equal(t, kv[1], rec.Header().Get(kv[0]), kv[0])
			}
		})
	}
}

func TestSecurityHeaders_PatientDataNotCacheable(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/api/v1/rx-queue/invoice/abc/details")
	c.Response().Header().Set("Cache-Control", "max-age=600")

	err := SecurityHeaders()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
	require.NoError(t, err)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
