package export

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/ehr/medhistory/internal/domain/ledger"
	"github.com/ehr/medhistory/internal/domain/timeline"
	"github.com/ehr/medhistory/internal/domain/trend"
	"github.com/ehr/medhistory/internal/domain/workspace"
	"github.com/ehr/medhistory/internal/platform/auth"
	"github.com/ehr/medhistory/internal/platform/db"
)

func readRows(t *testing.T, data []byte, sheet string) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatalf("read %s: %v", sheet, err)
	}
	return rows
}

func TestWriteWorkbook(t *testing.T) {
	start := time.Date(2023, 4, 2, 0, 0, 0, 0, time.UTC)
	sev := "severe"
	records := []*ledger.HistoryRecord{
		{Category: ledger.CategoryAllergy, Title: "Penicillin", Status: ledger.StatusActive, Severity: &sev, Source: ledger.SourceDoctor, IsCritical: true, VerifiedByDoctor: true},
		{Category: ledger.CategoryLabResult, Title: "HbA1c", Status: ledger.StatusHistorical, StartDate: &start, Source: ledger.SourceOCR,
			CategoryData: map[string]any{"test_name": "HbA1c", "result_value": "7.2", "unit": "%"}},
	}
	series := []*trend.Series{{
		ParameterCode: "hba1c",
		DisplayName:   "HbA1c",
		Unit:          "%",
		Direction:     trend.DirectionWorsening,
		Points: []trend.Point{
			{Date: start.AddDate(0, -6, 0), Value: "6.1"},
			{Date: start, Value: "7.2", IsAbnormal: true, Source: ledger.SourceOCR},
		},
	}}

	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, records, series); err != nil {
		t.Fatal(err)
	}

	history := readRows(t, buf.Bytes(), SheetHistory)
	if len(history) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(history))
	}
	if history[0][1] != "Title" || history[1][1] != "Penicillin" || history[1][3] != "severe" || history[1][9] != "Yes" {
		t.Errorf("unexpected allergy row %v", history[1])
	}
	if history[2][4] != "2023-04-02" || history[2][11] != "7.2" || history[2][12] != "%" {
		t.Errorf("unexpected lab row %v", history[2])
	}

	trends := readRows(t, buf.Bytes(), SheetTrends)
	if len(trends) != 3 {
		t.Fatalf("expected header plus 2 points, got %d", len(trends))
	}
	if trends[2][0] != "hba1c" || trends[2][2] != "2023-04-02" || trends[2][5] != "Yes" || trends[2][6] != trend.DirectionWorsening {
		t.Errorf("unexpected point row %v", trends[2])
	}
}

func TestWriteWorkbook_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, nil, nil); err != nil {
		t.Fatal(err)
	}
	if rows := readRows(t, buf.Bytes(), SheetHistory); len(rows) != 1 {
		t.Errorf("expected only the header, got %d rows", len(rows))
	}
}

func TestHandler_Download(t *testing.T) {
	ctx := context.Background()
	wsDir := workspace.NewService(workspace.NewMemRepository())
	ws, err := wsDir.Create(ctx, "doc-1", "pat-1")
	if err != nil {
		t.Fatal(err)
	}
	records := ledger.NewMemRepository()
	tx := db.NewLocalTransactor()
	trends := trend.NewService(trend.Deps{Series: trend.NewMemRepository(), Records: records, Workspaces: wsDir, Tx: tx, Logger: zerolog.Nop()})
	led := ledger.NewService(ledger.Deps{
		Records:    records,
		Workspaces: wsDir,
		Timeline:   timeline.NewService(timeline.NewMemRepository()),
		Tx:         tx,
		Trends:     trends,
		Logger:     zerolog.Nop(),
	})
	if _, err := led.Create(ctx, "doc-1", ws.ID, ledger.NewRecord{
		Category:     ledger.CategoryLabResult,
		Title:        "Glucose",
		StartDate:    "2024-01-10",
		CategoryData: map[string]any{"test_name": "Glucose", "result_value": 104},
	}); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(NewService(records, trends, wsDir))

	call := func(actor string) (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithActor(req.Context(), actor))
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(req, rec)
		c.SetParamNames("workspace_id")
		c.SetParamValues(ws.ID.String())
		return rec, h.Download(c)
	}

	rec, err := call("pat-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(echo.HeaderContentType) != mimeXLSX {
		t.Errorf("unexpected content type %q", rec.Header().Get(echo.HeaderContentType))
	}
	if rows := readRows(t, rec.Body.Bytes(), SheetTrends); len(rows) != 2 || rows[1][3] != "104" {
		t.Errorf("expected one glucose point, got %v", rows)
	}

	_, err = call("stranger")
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}
