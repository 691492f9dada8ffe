package soapnote

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telehealth/rxdesk/internal/platform/auth"
)

// ErrItemNotFound is returned by an ItemResolver for an unknown queue item.
var ErrItemNotFound = errors.New("queue item not found")

// ItemResolver maps a queue item to its patient and the clinical context a
// note is drafted from. Approval goes through it too so the queue item's
// history records who approved.
type ItemResolver interface {
	ResolveSubject(ctx context.Context, kind string, sourceID uuid.UUID) (uuid.UUID, Subject, error)
	ApproveNote(ctx context.Context, kind string, sourceID uuid.UUID, actorID string) (*Note, error)
}

type Handler struct {
	svc   *Service
	items ItemResolver
}

func NewHandler(svc *Service, items ItemResolver) *Handler {
	return &Handler{svc: svc, items: items}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/rx-queue/:kind/:id/soap-note", auth.RequireRole(auth.RoleProvider, auth.RoleAdmin))
	g.GET("", h.GetNote)
	g.POST("", h.CreateNote)
	g.PUT("", h.UpdateNote)
	g.POST("/generate", h.GenerateNote)
	g.POST("/approve", h.ApproveNote)
}

func itemRef(c echo.Context) (string, uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return "", uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return c.Param("kind"), id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrExists), errors.Is(err, ErrNotEditable), errors.Is(err, ErrSoapNoteMissing):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) GetNote(c echo.Context) error {
	kind, id, err := itemRef(c)
	if err != nil {
		return err
	}
	n, err := h.svc.Get(c.Request().Context(), kind, id)
	if err != nil {
		return httpError(err)
	}
	if n == nil {
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) CreateNote(c echo.Context) error {
	kind, id, err := itemRef(c)
	if err != nil {
		return err
	}
	var body Content
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	patientID, _, err := h.items.ResolveSubject(ctx, kind, id)
	if err != nil {
		return httpError(err)
	}
	n, err := h.svc.Create(ctx, kind, id, patientID, body, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) UpdateNote(c echo.Context) error {
	kind, id, err := itemRef(c)
	if err != nil {
		return err
	}
	var body Content
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.Update(c.Request().Context(), kind, id, body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) GenerateNote(c echo.Context) error {
	kind, id, err := itemRef(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	patientID, subj, err := h.items.ResolveSubject(ctx, kind, id)
	if err != nil {
		return httpError(err)
	}
	n, err := h.svc.Generate(ctx, kind, id, patientID, subj, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) ApproveNote(c echo.Context) error {
	kind, id, err := itemRef(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	n, err := h.items.ApproveNote(ctx, kind, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}
