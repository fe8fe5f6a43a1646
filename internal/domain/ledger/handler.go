package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/medhistory/internal/domain/workspace"
	"github.com/ehr/medhistory/internal/platform/auth"
	"github.com/ehr/medhistory/pkg/pagination"
)

// Handler provides HTTP handlers for history records and their audit trail.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

var recordSorts = []string{"recorded_date", "start_date", "title", "created_at"}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/workspaces/:workspace_id/records", h.ListRecords)
	api.POST("/workspaces/:workspace_id/records", h.CreateRecord)
	api.GET("/workspaces/:workspace_id/timeline", h.WorkspaceTimeline)

	api.GET("/records/:id", h.GetRecord)
	api.PATCH("/records/:id", h.UpdateRecord)
	api.DELETE("/records/:id", h.DeleteRecord)
	api.POST("/records/:id/verify", h.VerifyRecord)
	api.GET("/records/:id/timeline", h.RecordTimeline)
}

// HTTPError translates ledger errors into HTTP errors.
func HTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrInvalidCategory), errors.Is(err, ErrInvalidDateRange), errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrDuplicateRecord):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return workspace.HTTPError(err)
	}
}

func actorOf(c echo.Context) string {
	return auth.ActorFromContext(c.Request().Context())
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func parseBool(c echo.Context, name string) (*bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &b, nil
}

func (h *Handler) CreateRecord(c echo.Context) error {
	wsID, err := parseID(c, "workspace_id")
	if err != nil {
		return err
	}
	var in NewRecord
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Create(c.Request().Context(), actorOf(c), wsID, in)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListRecords(c echo.Context) error {
	wsID, err := parseID(c, "workspace_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c, recordSorts...)
	f := Filter{
		Category: c.QueryParam("category"),
		Status:   c.QueryParam("status"),
		Source:   c.QueryParam("source"),
		Search:   c.QueryParam("q"),
		Sort:     pg.Sort,
		Desc:     pg.Desc,
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	}
	if f.Critical, err = parseBool(c, "critical"); err != nil {
		return err
	}
	if f.Monitoring, err = parseBool(c, "monitoring"); err != nil {
		return err
	}
	if f.Verified, err = parseBool(c, "verified"); err != nil {
		return err
	}

	items, total, err := h.svc.List(c.Request().Context(), actorOf(c), wsID, f)
	if err != nil {
		return HTTPError(err)
	}
	if items == nil {
		items = []*HistoryRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path, pg))
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), actorOf(c), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) UpdateRecord(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var p Patch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Update(c.Request().Context(), actorOf(c), id, p)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) VerifyRecord(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	rec, err := h.svc.Verify(c.Request().Context(), actorOf(c), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) DeleteRecord(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), actorOf(c), id); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RecordTimeline(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.Timeline(c.Request().Context(), actorOf(c), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": items, "total": len(items)})
}

func (h *Handler) WorkspaceTimeline(c echo.Context) error {
	wsID, err := parseID(c, "workspace_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.WorkspaceTimeline(c.Request().Context(), actorOf(c), wsID, pg.Limit, pg.Offset)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
