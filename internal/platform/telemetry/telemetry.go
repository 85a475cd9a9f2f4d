// Package telemetry exposes Prometheus metrics for the HTTP surface and the
// allocation core. Collectors live on a Provider registered against an
// injected registry; nothing is registered globally.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "healthcore"

// Provider holds every collector. A nil *Provider is valid and records
// nothing, which keeps call sites free of nil checks in tests.
type Provider struct {
	gatherer prometheus.Gatherer

	httpDuration   *prometheus.HistogramVec
	httpActive     prometheus.Gauge
	allocations    *prometheus.CounterVec
	allocationTime *prometheus.HistogramVec
	replays        *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	sweepItems     *prometheus.CounterVec
	sweepRuns      *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
}

func NewProvider(reg *prometheus.Registry) *Provider {
	p := &Provider{
		gatherer: reg,
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		httpActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests.",
		}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "attempts_total",
			Help:      "Allocation attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		allocationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "duration_seconds",
			Help:      "Time spent in the allocation transaction.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"kind"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "idempotent_replays_total",
			Help:      "Allocation requests answered from the idempotency ledger.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "transitions_total",
			Help:      "Record status transitions by kind, source and target status.",
		}, []string{"kind", "from", "to"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "items_total",
			Help:      "Records completed, units created or reminders sent by sweep job.",
		}, []string{"job", "kind"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Sweep runs by job and result.",
		}, []string{"job", "result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
	}

	reg.MustRegister(
		p.httpDuration, p.httpActive,
		p.allocations, p.allocationTime, p.replays, p.transitions,
		p.sweepItems, p.sweepRuns, p.breakerState,
	)
	return p
}

func (p *Provider) RecordAllocation(kind, outcome string, d time.Duration) {
	if p == nil {
		return
	}
	p.allocations.WithLabelValues(kind, outcome).Inc()
	p.allocationTime.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *Provider) RecordReplay(kind string) {
	if p == nil {
		return
	}
	p.replays.WithLabelValues(kind).Inc()
}

func (p *Provider) RecordTransition(kind, from, to string) {
	if p == nil {
		return
	}
	p.transitions.WithLabelValues(kind, from, to).Inc()
}

func (p *Provider) RecordSweep(job, kind string, items int, err error) {
	if p == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.sweepRuns.WithLabelValues(job, result).Inc()
	p.sweepItems.WithLabelValues(job, kind).Add(float64(items))
}

func (p *Provider) SetBreakerState(name string, state int) {
	if p == nil {
		return
	}
	p.breakerState.WithLabelValues(name).Set(float64(state))
}

// MetricsMiddleware records request duration and in-flight requests.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if p == nil {
				return next(c)
			}
			p.httpActive.Inc()
			defer p.httpActive.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			p.httpDuration.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves the registry in the text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{}))
}
