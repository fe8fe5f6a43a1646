package export

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/medhistory/internal/domain/workspace"
	"github.com/ehr/medhistory/internal/platform/auth"
)

const mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/workspaces/:workspace_id/export.xlsx", h.Download)
}

func (h *Handler) Download(c echo.Context) error {
	wsID, err := uuid.Parse(c.Param("workspace_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workspace_id")
	}
	ctx := c.Request().Context()
	// Buffered so a failure can still be reported as a JSON error.
	var buf bytes.Buffer
	if err := h.svc.Export(ctx, auth.ActorFromContext(ctx), wsID, &buf); err != nil {
		return workspace.HTTPError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "history-"+wsID.String()+".xlsx"))
	return c.Blob(http.StatusOK, mimeXLSX, buf.Bytes())
}
