package telemetry

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every metric the service exports. A nil *Collector is
// valid and records nothing, which keeps unit tests free of registries.
type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge

	LedgerMutations  *prometheus.CounterVec
	ImportsTotal     *prometheus.CounterVec
	RollupRefresh    prometheus.Histogram
	TrendDirections  *prometheus.CounterVec
	InsightOutcomes  *prometheus.CounterVec
	ReasonerAttempts *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	EventsDropped    prometheus.Counter

	factory promauto.Factory
}

func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		factory: f,
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		LedgerMutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "mutations_total",
			Help:      "Committed history record mutations by operation and category.",
		}, []string{"operation", "category"}),
		ImportsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "importer",
			Name:      "batches_total",
			Help:      "Import batches by source and outcome (created, duplicate, rejected).",
		}, []string{"source", "outcome"}),
		RollupRefresh: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rollup",
			Name:      "refresh_duration_seconds",
			Help:      "Time spent recomputing a workspace summary.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		TrendDirections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trend",
			Name:      "classifications_total",
			Help:      "Trend classifications by resulting direction.",
		}, []string{"direction"}),
		InsightOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "insight",
			Name:      "generations_total",
			Help:      "Insight generation requests by outcome.",
		}, []string{"outcome"}),
		ReasonerAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reasoner",
			Name:      "attempts_total",
			Help:      "Calls to the reasoning collaborator by result.",
		}, []string{"result"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Workspace-changed signals published by transport.",
		}, []string{"transport"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Workspace-changed signals dropped because the local buffer was full.",
		}),
	}
}

// RegisterPool exports pgx pool gauges.
func (c *Collector) RegisterPool(namespace string, pool *pgxpool.Pool) {
	if c == nil || pool == nil {
		return
	}
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "db", Name: "acquired_connections",
		Help: "Connections currently checked out of the pool.",
	}, func() float64 { return float64(pool.Stat().AcquiredConns()) })
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "db", Name: "total_connections",
		Help: "Connections currently open in the pool.",
	}, func() float64 { return float64(pool.Stat().TotalConns()) })
}

func (c *Collector) ObserveMutation(operation, category string) {
	if c == nil {
		return
	}
	c.LedgerMutations.WithLabelValues(operation, category).Inc()
}

func (c *Collector) ObserveImport(source, outcome string) {
	if c == nil {
		return
	}
	c.ImportsTotal.WithLabelValues(source, outcome).Inc()
}

func (c *Collector) ObserveRollupRefresh(d time.Duration) {
	if c == nil {
		return
	}
	c.RollupRefresh.Observe(d.Seconds())
}

func (c *Collector) ObserveTrend(direction string) {
	if c == nil {
		return
	}
	c.TrendDirections.WithLabelValues(direction).Inc()
}

func (c *Collector) ObserveInsight(outcome string) {
	if c == nil {
		return
	}
	c.InsightOutcomes.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveReasonerAttempt(result string) {
	if c == nil {
		return
	}
	c.ReasonerAttempts.WithLabelValues(result).Inc()
}

func (c *Collector) ObservePublished(transport string) {
	if c == nil {
		return
	}
	c.EventsPublished.WithLabelValues(transport).Inc()
}

func (c *Collector) ObserveDropped() {
	if c == nil {
		return
	}
	c.EventsDropped.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
