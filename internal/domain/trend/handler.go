package trend

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/medhistory/internal/domain/workspace"
	"github.com/ehr/medhistory/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/workspaces/:workspace_id/trends", h.ListSeries)
	api.GET("/workspaces/:workspace_id/trends/:parameter", h.GetSeries)
	api.POST("/workspaces/:workspace_id/trends/:parameter/rebuild", h.RebuildSeries)
}

func HTTPError(err error) *echo.HTTPError {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return workspace.HTTPError(err)
}

func workspaceParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("workspace_id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid workspace_id")
	}
	return id, nil
}

func (h *Handler) ListSeries(c echo.Context) error {
	wsID, err := workspaceParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	items, err := h.svc.List(ctx, auth.ActorFromContext(ctx), wsID)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": items, "total": len(items)})
}

func (h *Handler) GetSeries(c echo.Context) error {
	wsID, err := workspaceParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	ser, err := h.svc.Get(ctx, auth.ActorFromContext(ctx), wsID, c.Param("parameter"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, ser)
}

func (h *Handler) RebuildSeries(c echo.Context) error {
	wsID, err := workspaceParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	ser, err := h.svc.RebuildFor(ctx, auth.ActorFromContext(ctx), wsID, c.Param("parameter"))
	if err != nil {
		return HTTPError(err)
	}
	if ser == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, ser)
}
