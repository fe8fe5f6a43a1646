package insight

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medhistory/internal/platform/auth"
	"github.com/ehr/medhistory/internal/platform/reasoning"
)

func newContext(e *echo.Echo, target, actor string, rec *httptest.ResponseRecorder, names []string, values []string) echo.Context {
	req := httptest.NewRequest(http.MethodPost, target, nil)
	req = req.WithContext(auth.WithActor(req.Context(), actor))
	c := e.NewContext(req, rec)
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c
}

func TestHandler_GenerateInsight(t *testing.T) {
	env := newEnv(t, testConfig())
	h := NewHandler(env.svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := newContext(e, "/?force=true", "doc-1", rec, []string{"workspace_id"}, []string{env.ws.ID.String()})
	if err := h.GenerateInsight(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var res Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeGenerated || res.Summary.NarrativeSummary == "" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_QuotaReturnsStaleSummary(t *testing.T) {
	env := newEnv(t, testConfig())
	h := NewHandler(env.svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	if err := h.GenerateInsight(newContext(e, "/", "pat-1", rec, []string{"workspace_id"}, []string{env.ws.ID.String()})); err != nil {
		t.Fatal(err)
	}

	env.reasoner.failWith(reasoning.ErrCollaboratorQuotaExceeded)
	rec = httptest.NewRecorder()
	if err := h.GenerateInsight(newContext(e, "/?force=true", "pat-1", rec, []string{"workspace_id"}, []string{env.ws.ID.String()})); err != nil {
		t.Fatalf("quota should be rendered, got %v", err)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	var body struct {
		Outcome string `json:"outcome"`
		Summary struct {
			NarrativeSummary string `json:"narrative_summary"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Outcome != OutcomeQuotaExceeded || body.Summary.NarrativeSummary == "" {
		t.Errorf("expected the previous narrative in the body, got %s", rec.Body.String())
	}
}

func TestHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		actor  string
		fail   []error
		badID  bool
		want   int
	}{
		{"stranger", "/", "stranger", nil, false, http.StatusForbidden},
		{"bad workspace id", "/", "doc-1", nil, true, http.StatusBadRequest},
		{"bad force flag", "/?force=maybe", "doc-1", nil, false, http.StatusBadRequest},
		{"collaborator down", "/", "doc-1", []error{
			reasoning.ErrCollaboratorUnavailable, reasoning.ErrCollaboratorUnavailable, reasoning.ErrCollaboratorUnavailable,
		}, false, http.StatusBadGateway},
		{"collaborator slow", "/", "doc-1", []error{
			reasoning.ErrCollaboratorTimeout, reasoning.ErrCollaboratorTimeout, reasoning.ErrCollaboratorTimeout,
		}, false, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, testConfig())
			env.reasoner.failWith(tt.fail...)
			id := env.ws.ID.String()
			if tt.badID {
				id = "nope"
			}
			c := newContext(echo.New(), tt.target, tt.actor, httptest.NewRecorder(), []string{"workspace_id"}, []string{id})
			err := NewHandler(env.svc).GenerateInsight(c)
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != tt.want {
				t.Fatalf("expected %d, got %v", tt.want, err)
			}
		})
	}
}

func TestHandler_InterpretUnknownTrend(t *testing.T) {
	env := newEnv(t, testConfig())
	c := newContext(echo.New(), "/", "doc-1", httptest.NewRecorder(),
		[]string{"workspace_id", "parameter"}, []string{env.ws.ID.String(), "hba1c"})
	err := NewHandler(env.svc).InterpretTrend(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
