package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telehealth/rxdesk/internal/platform/auth"
	"github.com/telehealth/rxdesk/internal/platform/telemetry"
)

func newContext(method, target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	return e.NewContext(httptest.NewRequest(method, target, nil), rec), rec
}

// lastLine decodes the last JSON log line written to buf.
func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &out))
	return out
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		want     func(string) bool
	}{
		{"generated", "", func(s string) bool { return len(s) == 36 }},
		{"kept", "rx-trace-1", func(s string) bool { return s == "rx-trace-1" }},
		{"oversized replaced", strings.Repeat("x", 200), func(s string) bool { return len(s) == 36 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(http.MethodGet, "/api/v1/rx-queue")
			if tt.incoming != "" {
				c.Request().Header.Set(RequestIDHeader, tt.incoming)
			}
			var seen string
			err := RequestID()(func(c echo.Context) error {
				seen, _ = c.Get("request_id").(string)
				return nil
			})(c)
			require.NoError(t, err)
			assert.True(t, tt.want(seen), "request_id %q", seen)
			assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
		})
	}
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler echo.HandlerFunc
		level   string
		status  float64
	}{
		{"ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, "info", 204},
		{"client error", func(echo.Context) error { return echo.NewHTTPError(http.StatusConflict, "soap note missing") }, "warn", 409},
		{"server error", func(echo.Context) error { return echo.NewHTTPError(http.StatusBadGateway, "router rejected") }, "error", 502},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			c, _ := newContext(http.MethodPost, "/api/v1/rx-queue/invoice/abc/submit")
			c.Set("request_id", "req-7")

			_ = Logger(zerolog.New(&buf))(tt.handler)(c)

			line := lastLine(t, &buf)
			assert.Equal(t, tt.level, line["level"])
			assert.Equal(t, tt.status, line["status"])
			assert.Equal(t, "req-7", line["request_id"])
			assert.Equal(t, "/api/v1/rx-queue/invoice/abc/submit", line["path"])
		})
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newContext(http.MethodGet, "/api/v1/rx-queue")
	c.SetPath("/api/v1/rx-queue")
	c.Set("request_id", "req-9")
	c.SetRequest(c.Request().WithContext(auth.WithUser(c.Request().Context(), "dr-a", auth.RoleProvider)))

	err := Recovery(zerolog.New(&buf))(func(echo.Context) error {
		panic("nil catalog")
	})(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	assert.NotContains(t, he.Message, "nil catalog")

	line := lastLine(t, &buf)
	assert.Equal(t, "nil catalog", line["panic"])
	assert.Equal(t, "dr-a", line["user_id"])
	assert.Equal(t, "/api/v1/rx-queue", line["route"])
	assert.NotEmpty(t, line["stack"])
}

func TestRecovery_PassesThrough(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/health")
	err := Recovery(zerolog.Nop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecovery_RepanicsAbortHandler(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/api/v1/rx-queue/stream")
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		_ = Recovery(zerolog.Nop())(func(echo.Context) error {
			panic(http.ErrAbortHandler)
		})(c)
	})
}

func TestMetrics_RecordsRouteTemplate(t *testing.T) {
	m := telemetry.NewMetrics()
	c, _ := newContext(http.MethodGet, "/api/v1/patients/abc")
	c.SetPath("/api/v1/patients/:id")

	err := Metrics(m)(func(echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	})(c)
	require.Error(t, err)

	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "rxdesk_http_requests_total"))
}
