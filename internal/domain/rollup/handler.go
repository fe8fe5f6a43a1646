package rollup

import (
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
	api.GET("/workspaces/:workspace_id/summary", h.GetSummary)
	api.POST("/workspaces/:workspace_id/summary/refresh", h.RefreshSummary)
	api.GET("/workspaces/:workspace_id/clinical-view", h.GetClinicalView)
}

func workspaceParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("workspace_id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid workspace_id")
	}
	return id, nil
}

func (h *Handler) GetSummary(c echo.Context) error {
	wsID, err := workspaceParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	sum, err := h.svc.Get(ctx, auth.ActorFromContext(ctx), wsID)
	if err != nil {
		return workspace.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) RefreshSummary(c echo.Context) error {
	wsID, err := workspaceParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	sum, err := h.svc.RefreshFor(ctx, auth.ActorFromContext(ctx), wsID)
	if err != nil {
		return workspace.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) GetClinicalView(c echo.Context) error {
	wsID, err := workspaceParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	v, err := h.svc.ClinicalView(ctx, auth.ActorFromContext(ctx), wsID)
	if err != nil {
		return workspace.HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}
