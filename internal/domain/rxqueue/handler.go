package rxqueue

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telehealth/rxdesk/internal/domain/soapnote"
	"github.com/telehealth/rxdesk/internal/platform/auth"
	"github.com/telehealth/rxdesk/internal/platform/pharmacy"
	"github.com/telehealth/rxdesk/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/rx-queue")

	read := g.Group("", auth.RequireRole(auth.RoleProvider, auth.RolePharmacist, auth.RoleAdmin))
	read.GET("", h.ListPending)
	read.GET("/:kind/:id", h.GetItem)
	read.GET("/:kind/:id/history", h.History)
	read.POST("/:kind/:id/process", h.MarkProcessed)

	prescribe := g.Group("", auth.RequireRole(auth.RoleProvider, auth.RoleAdmin))
	prescribe.GET("/:kind/:id/details", h.Details)
	prescribe.GET("/:kind/:id/prefill", h.Prefill)
	prescribe.POST("/:kind/:id/submit", h.Submit)
	prescribe.POST("/:kind/:id/decline", h.Decline)

	admin := g.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/orders", h.EnqueueOrder)
}

func parseRef(c echo.Context) (ItemRef, error) {
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return ItemRef{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return ItemRef{}, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return ItemRef{Kind: kind, SourceID: id}, nil
}

func actorFrom(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{
		ID:         auth.UserIDFromContext(ctx),
		CanApprove: auth.HasRole(ctx, auth.RoleProvider),
	}
}

// httpError maps service errors onto the status and message the queue UI
// shows.
func httpError(err error) error {
	var verr *ValidationError
	var rejected *pharmacy.StatusError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": verr.Error(),
			"errors":  verr.Errors,
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidKind):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotActive),
		errors.Is(err, soapnote.ErrSoapNoteMissing),
		errors.Is(err, soapnote.ErrSoapNoteNotApproved):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrApprovalForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, pharmacy.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "the pharmacy is temporarily unavailable, try again shortly")
	case errors.As(err, &rejected):
		return echo.NewHTTPError(http.StatusBadGateway, "pharmacy rejected the prescription: "+rejected.Message)
	case errors.Is(err, ErrPharmacy):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) ListPending(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f Filter
	if k := c.QueryParam("kind"); k != "" {
		kind, err := ParseKind(k)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Kind = kind
	}
	if cid := c.QueryParam("clinic_id"); cid != "" {
		id, err := uuid.Parse(cid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic_id")
		}
		f.ClinicID = &id
	}
	f.Search = c.QueryParam("q")

	items, total, err := h.svc.ListPending(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) GetItem(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	item, err := h.svc.GetItem(c.Request().Context(), ref)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) Details(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Details(c.Request().Context(), ref)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Prefill(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Prefill(c.Request().Context(), ref)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) History(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	actions, err := h.svc.History(c.Request().Context(), ref)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": actions})
}

func (h *Handler) Submit(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sub, err := h.svc.Submit(c.Request().Context(), ref, req, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sub)
}

type closeRequest struct {
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

func (h *Handler) MarkProcessed(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	var req closeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.MarkProcessed(c.Request().Context(), ref, actorFrom(c), req.Note); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Decline(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	var req closeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Decline(c.Request().Context(), ref, actorFrom(c), req.Reason); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) EnqueueOrder(c echo.Context) error {
	var req OrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.EnqueueOrder(c.Request().Context(), req, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, o)
}
