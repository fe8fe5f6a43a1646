package insight

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/medhistory/internal/domain/trend"
	"github.com/ehr/medhistory/internal/platform/auth"
	"github.com/ehr/medhistory/internal/platform/reasoning"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/workspaces/:workspace_id/summary/insight", h.GenerateInsight)
	api.POST("/workspaces/:workspace_id/trends/:parameter/interpret", h.InterpretTrend)
	api.POST("/workspaces/:workspace_id/medications/interactions", h.AnalyzeInteractions)
}

// HTTPError maps collaborator failures onto gateway statuses.
func HTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, reasoning.ErrCollaboratorQuotaExceeded):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, reasoning.ErrCollaboratorTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, reasoning.ErrCollaboratorUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return trend.HTTPError(err)
	}
}

func params(c echo.Context) (uuid.UUID, bool, error) {
	id, err := uuid.Parse(c.Param("workspace_id"))
	if err != nil {
		return uuid.Nil, false, echo.NewHTTPError(http.StatusBadRequest, "invalid workspace_id")
	}
	force := false
	if v := c.QueryParam("force"); v != "" {
		if force, err = strconv.ParseBool(v); err != nil {
			return uuid.Nil, false, echo.NewHTTPError(http.StatusBadRequest, "force must be a boolean")
		}
	}
	return id, force, nil
}

func (h *Handler) GenerateInsight(c echo.Context) error {
	wsID, force, err := params(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	res, err := h.svc.GenerateFor(ctx, auth.ActorFromContext(ctx), wsID, force)
	if err != nil {
		// The caller still gets the previous content alongside a quota error.
		if res != nil && errors.Is(err, reasoning.ErrCollaboratorQuotaExceeded) {
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"message": err.Error(),
				"outcome": res.Outcome,
				"summary": res.Summary,
			})
		}
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) InterpretTrend(c echo.Context) error {
	wsID, force, err := params(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	ser, err := h.svc.InterpretTrendFor(ctx, auth.ActorFromContext(ctx), wsID, c.Param("parameter"), force)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, ser)
}

func (h *Handler) AnalyzeInteractions(c echo.Context) error {
	wsID, err := uuid.Parse(c.Param("workspace_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workspace_id")
	}
	ctx := c.Request().Context()
	res, err := h.svc.AnalyzeInteractionsFor(ctx, auth.ActorFromContext(ctx), wsID)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}
