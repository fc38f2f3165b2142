// Package metrics exposes Prometheus instruments for swap attempts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ammswap"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	registry prometheus.Gatherer

	Attempts         *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	ApprovalsSkipped prometheus.Counter
	ApprovalsIssued  *prometheus.CounterVec
	Quotes           *prometheus.CounterVec
	InFlight         prometheus.Gauge
}

// New registers all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: gatherer,
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "attempts_total",
			Help:      "Swap attempts by terminal status and error kind",
		}, []string{"status", "kind"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each coordinator state",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 15, 30, 60, 120},
		}, []string{"stage"}),
		ApprovalsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "skipped_total",
			Help:      "Approvals skipped because the allowance already covered the swap",
		}),
		ApprovalsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "issued_total",
			Help:      "Approval transactions sent, by receipt status",
		}, []string{"status"}),
		Quotes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "quotes_total",
			Help:      "Quotes served by result",
		}, []string{"result"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "in_flight",
			Help:      "Swap attempts currently executing",
		}),
	}
}

func (m *Metrics) AttemptFinished(status, kind string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(status, kind).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ApprovalSkipped() {
	if m == nil {
		return
	}
	m.ApprovalsSkipped.Inc()
}

func (m *Metrics) ApprovalIssued(status string) {
	if m == nil {
		return
	}
	m.ApprovalsIssued.WithLabelValues(status).Inc()
}

func (m *Metrics) QuoteServed(result string) {
	if m == nil {
		return
	}
	m.Quotes.WithLabelValues(result).Inc()
}

func (m *Metrics) Begin() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
