package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medhistory/internal/platform/auth"
)

func newRequest(method, target, body, actor string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req.WithContext(auth.WithActor(req.Context(), actor))
}

func expectStatus(t *testing.T, err error, want int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != want {
		t.Fatalf("expected %d, got %v", want, err)
	}
}

func TestHandler_CreateRecord(t *testing.T) {
	h := newHarness(t)
	handler := NewHandler(h.svc)
	e := echo.New()

	body := `{"category":"medication","title":"Metformin","start_date":"2023-02-01","category_data":{"dosage":"500mg"}}`
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/", body, doctorID), rec)
	c.SetParamNames("workspace_id")
	c.SetParamValues(h.ws.ID.String())

	if err := handler.CreateRecord(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got HistoryRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Source != SourceDoctor || got.Status != StatusActive {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestHandler_CreateRecord_Errors(t *testing.T) {
	tests := []struct {
		name  string
		actor string
		body  string
		want  int
	}{
		{"invalid category", doctorID, `{"category":"vaccine","title":"Flu"}`, http.StatusBadRequest},
		{"invalid date range", doctorID, `{"category":"medication","title":"X","start_date":"2024-02-01","end_date":"2024-01-01"}`, http.StatusBadRequest},
		{"not a member", "stranger", `{"category":"condition","title":"X"}`, http.StatusForbidden},
		{"malformed json", doctorID, `{"category":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			e := echo.New()
			c := e.NewContext(newRequest(http.MethodPost, "/", tt.body, tt.actor), httptest.NewRecorder())
			c.SetParamNames("workspace_id")
			c.SetParamValues(h.ws.ID.String())
			expectStatus(t, NewHandler(h.svc).CreateRecord(c), tt.want)
		})
	}
}

func TestHandler_ListRecords(t *testing.T) {
	h := newHarness(t)
	h.create(t, doctorID, NewRecord{Category: CategoryCondition, Title: "Asthma", IsCritical: true})
	h.create(t, doctorID, NewRecord{Category: CategoryCondition, Title: "Eczema"})
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/?category=condition&critical=true", "", patientID), rec)
	c.SetParamNames("workspace_id")
	c.SetParamValues(h.ws.ID.String())

	if err := NewHandler(h.svc).ListRecords(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []HistoryRecord `json:"data"`
		Total int             `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 1 || len(body.Data) != 1 || body.Data[0].Title != "Asthma" {
		t.Errorf("expected only Asthma, got %+v", body)
	}
}

func TestHandler_ListRecords_BadFilter(t *testing.T) {
	h := newHarness(t)
	e := echo.New()
	c := e.NewContext(newRequest(http.MethodGet, "/?critical=maybe", "", patientID), httptest.NewRecorder())
	c.SetParamNames("workspace_id")
	c.SetParamValues(h.ws.ID.String())
	expectStatus(t, NewHandler(h.svc).ListRecords(c), http.StatusBadRequest)
}

func TestHandler_UpdateRecord_InvalidTransition(t *testing.T) {
	h := newHarness(t)
	r := h.create(t, doctorID, NewRecord{Category: CategoryVisit, Title: "Annual physical"})
	e := echo.New()

	c := e.NewContext(newRequest(http.MethodPatch, "/", `{"status":"active"}`, doctorID), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	expectStatus(t, NewHandler(h.svc).UpdateRecord(c), http.StatusConflict)
}

func TestHandler_VerifyAndDelete(t *testing.T) {
	h := newHarness(t)
	r := h.create(t, patientID, NewRecord{Category: CategoryAllergy, Title: "Latex"})
	handler := NewHandler(h.svc)
	e := echo.New()

	c := e.NewContext(newRequest(http.MethodPost, "/", "", patientID), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	expectStatus(t, handler.VerifyRecord(c), http.StatusForbidden)

	rec := httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodPost, "/", "", doctorID), rec)
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	if err := handler.VerifyRecord(c); err != nil {
		t.Fatalf("verify: %v", err)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodDelete, "/", "", patientID), rec)
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	if err := handler.DeleteRecord(c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c = e.NewContext(newRequest(http.MethodGet, "/", "", patientID), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	expectStatus(t, handler.GetRecord(c), http.StatusNotFound)
}

func TestHandler_GetRecord_BadID(t *testing.T) {
	h := newHarness(t)
	e := echo.New()
	c := e.NewContext(newRequest(http.MethodGet, "/", "", patientID), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectStatus(t, NewHandler(h.svc).GetRecord(c), http.StatusBadRequest)
}

func TestHTTPError_Mapping(t *testing.T) {
	tests := map[error]int{
		ErrInvalidCategory:   http.StatusBadRequest,
		ErrInvalidDateRange:  http.StatusBadRequest,
		ErrValidation:        http.StatusBadRequest,
		ErrInvalidTransition: http.StatusConflict,
		ErrDuplicateRecord:   http.StatusConflict,
		ErrNotFound:          http.StatusNotFound,
		ErrAccessDenied:      http.StatusForbidden,
	}
	for err, want := range tests {
		if got := HTTPError(err).Code; got != want {
			t.Errorf("%v: expected %d, got %d", err, want, got)
		}
	}
}
