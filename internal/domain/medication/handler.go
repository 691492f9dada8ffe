package medication

import (
	"net/http"
	"strconv"

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
	g := api.Group("/medications", auth.RequireAuthenticated())
	g.GET("/catalog", h.ListCatalog)
	g.GET("/catalog/select", h.PreviewSelect)
}

func (h *Handler) ListCatalog(c echo.Context) error {
	entries, err := h.svc.Catalog(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": entries})
}

type selectResponse struct {
	Label   string `json:"label"`
	Matched bool   `json:"matched"`
	Entry   *Entry `json:"entry,omitempty"`
}

func (h *Handler) PreviewSelect(c echo.Context) error {
	label := c.QueryParam("label")
	if label == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "label is required")
	}
	newPatient, _ := strconv.ParseBool(c.QueryParam("new_patient"))

	e, ok, err := h.svc.Select(c.Request().Context(), label, newPatient)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := selectResponse{Label: label, Matched: ok}
	if ok {
		resp.Entry = &e
	}
	return c.JSON(http.StatusOK, resp)
}
