package importer

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/medhistory/internal/domain/ledger"
	"github.com/ehr/medhistory/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/workspaces/:workspace_id/imports", h.ImportBatch)
}

// ImportBatch answers 201 when records were written and 200 for a document
// that was already imported.
func (h *Handler) ImportBatch(c echo.Context) error {
	wsID, err := uuid.Parse(c.Param("workspace_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workspace_id")
	}
	var b Batch
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b.WorkspaceID = wsID

	ctx := c.Request().Context()
	res, err := h.svc.Import(ctx, auth.ActorFromContext(ctx), b)
	if err != nil {
		return ledger.HTTPError(err)
	}
	if res.Duplicate {
		return c.JSON(http.StatusOK, res)
	}
	return c.JSON(http.StatusCreated, res)
}
