package earnings

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/telehealth/rxdesk/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/providers", auth.RequireRole(auth.RoleProvider))
	g.GET("/me/earnings", h.MyEarnings)
}

func (h *Handler) MyEarnings(c echo.Context) error {
	ctx := c.Request().Context()
	providerID := auth.UserIDFromContext(ctx)
	if providerID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no authenticated user")
	}
	from, to, err := h.svc.Range(c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sum, err := h.svc.ForProvider(ctx, providerID, from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sum)
}
