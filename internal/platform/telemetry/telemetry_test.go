package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracer_Disabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.ObserveMutation("create", "condition")
	c.ObserveImport("OCR", "created")
	c.ObserveRollupRefresh(time.Millisecond)
	c.ObserveTrend("stable")
	c.ObserveInsight("generated")
	c.ObserveReasonerAttempt("ok")
	c.ObservePublished("redis")
	c.ObserveDropped()
	c.RegisterPool("x", nil)
}

func TestCollector_DomainCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("medhistory", reg)

	c.ObserveMutation("create", "lab_result")
	c.ObserveMutation("create", "lab_result")
	c.ObserveImport("OCR", "duplicate")

	if got := testutil.ToFloat64(c.LedgerMutations.WithLabelValues("create", "lab_result")); got != 2 {
		t.Errorf("expected 2 mutations, got %v", got)
	}
	if got := testutil.ToFloat64(c.ImportsTotal.WithLabelValues("OCR", "duplicate")); got != 1 {
		t.Errorf("expected 1 duplicate import, got %v", got)
	}
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := NewCollector("medhistory", reg)

	e := echo.New()
	e.Use(col.MetricsMiddleware())
	e.GET("/api/v1/records/:id", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/metrics", echo.WrapHandler(Handler(reg)))

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/records/"+id, nil))
	}

	got := testutil.ToFloat64(col.RequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/records/:id", "204"))
	if got != 3 {
		t.Errorf("expected 3 requests under the route label, got %v", got)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "medhistory_http_requests_total") {
		t.Error("expected exposition to include medhistory_http_requests_total")
	}
}

func TestTracingMiddleware_RecordsServerSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	e := echo.New()
	e.Use(TracingMiddleware(tp))
	e.GET("/api/v1/records/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/records/x", nil))

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "GET /api/v1/records/:id" {
		t.Errorf("unexpected span name %q", spans[0].Name())
	}
	if spans[0].Status().Code.String() != "Error" {
		t.Errorf("expected error status for 502, got %v", spans[0].Status().Code)
	}
}
