package workspace

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/medhistory/internal/platform/auth"
)

// Handler exposes the caller's view of a workspace.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/workspaces/:workspace_id", h.GetWorkspace)
}

func (h *Handler) GetWorkspace(c echo.Context) error {
	id, err := uuid.Parse(c.Param("workspace_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workspace_id")
	}
	m, err := h.svc.Authorize(c.Request().Context(), id, auth.ActorFromContext(c.Request().Context()))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// HTTPError maps the workspace sentinels onto HTTP errors. Errors it does not
// recognize become 500s.
func HTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
