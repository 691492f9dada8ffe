package webhook

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/telehealth/rxdesk/internal/platform/auth"
)

// Handler exposes the delivery log to administrators.
type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(d *Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/admin/webhooks", auth.RequireRole(auth.RoleAdmin))
	g.GET("", h.ListEndpoints)
	g.GET("/deliveries", h.ListDeliveries)
}

func (h *Handler) ListEndpoints(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"data": h.dispatcher.Endpoints()})
}

func (h *Handler) ListDeliveries(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": h.dispatcher.Deliveries(limit)})
}
