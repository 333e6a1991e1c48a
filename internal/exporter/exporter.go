package exporter

import (
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/trophyctl/internal/aggregator"
	"codeberg.org/mutker/trophyctl/internal/alert"
	"codeberg.org/mutker/trophyctl/internal/command"
	"codeberg.org/mutker/trophyctl/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "trophyctl"

	// Label values for client input outside the known sets
	unknownKind = "unknown"
	otherMethod = "OTHER"
)

// Exporter mirrors engine state into Prometheus collectors on its own
// registry. It is an engine sink.
type Exporter struct {
	registry *prometheus.Registry

	Readings      *prometheus.GaugeVec
	Derived       *prometheus.GaugeVec
	FrameVersion  prometheus.Gauge
	AlertsRaised  *prometheus.CounterVec
	AlertsCleared *prometheus.CounterVec
	ActiveAlerts  *prometheus.GaugeVec
	Commands      *prometheus.CounterVec

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	PublishOps      *prometheus.CounterVec
}

func New() *Exporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Exporter{
		registry: reg,

		Readings: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reading",
				Help:      "Latest reading per source",
			},
			[]string{"source"},
		),
		Derived: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "derived",
				Help:      "Latest value per derived metric",
			},
			[]string{"metric"},
		),
		FrameVersion: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_version",
				Help:      "Number of updates applied to the snapshot",
			},
		),
		AlertsRaised: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_raised_total",
				Help:      "Total number of alerts raised",
			},
			[]string{"rule", "severity"},
		),
		AlertsCleared: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_cleared_total",
				Help:      "Total number of alerts cleared or acknowledged",
			},
			[]string{"rule", "reason"},
		),
		ActiveAlerts: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "alerts_active",
				Help:      "Currently active alerts per severity",
			},
			[]string{"severity"},
		),
		Commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of commands by kind and outcome",
			},
			[]string{"kind", "status"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		PublishOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_operations_total",
				Help:      "Total number of state mirror operations",
			},
			[]string{"operation", "status"},
		),
	}
}

// Handler serves the registry in the Prometheus text format
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e *Exporter) Frame(frame aggregator.Frame) {
	for id, r := range frame.Snapshot {
		e.Readings.WithLabelValues(id).Set(r.Value)
	}
	for name, v := range frame.Derived {
		e.Derived.WithLabelValues(name).Set(v)
	}
	//nolint:gosec // G115: versions stay far below 2^53
	e.FrameVersion.Set(float64(frame.Version))
}

func (e *Exporter) Alerts(changes alert.Changes) {
	for _, a := range changes.Raised {
		e.AlertsRaised.WithLabelValues(a.RuleID, a.Severity.String()).Inc()
	}
	for _, a := range changes.Cleared {
		reason := "cleared"
		if a.Acknowledged {
			reason = "acknowledged"
		}
		e.AlertsCleared.WithLabelValues(a.RuleID, reason).Inc()
	}

	counts := map[alert.Severity]int{
		alert.SeverityLow:      0,
		alert.SeverityMedium:   0,
		alert.SeverityHigh:     0,
		alert.SeverityCritical: 0,
	}
	for _, a := range changes.Active {
		counts[a.Severity]++
	}
	for sev, n := range counts {
		e.ActiveAlerts.WithLabelValues(sev.String()).Set(float64(n))
	}
}

func (e *Exporter) Command(kind command.Kind, _ command.StateDelta, err error) {
	status := "ok"
	if err != nil {
		status = errors.CodeOf(err).String()
	}
	e.Commands.WithLabelValues(kindLabel(kind), status).Inc()
}

func kindLabel(kind command.Kind) string {
	switch kind {
	case command.KindSetMode, command.KindSetParameter, command.KindToggle, command.KindReset:
		return string(kind)
	default:
		return unknownKind
	}
}

func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return method
	default:
		return otherMethod
	}
}

// ObserveRequest records one served HTTP request. route should be a route
// pattern, never a raw path.
func (e *Exporter) ObserveRequest(method, route string, status int, took time.Duration) {
	method = methodLabel(method)
	e.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	e.RequestDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

// ObservePublish records one state mirror operation
func (e *Exporter) ObservePublish(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	e.PublishOps.WithLabelValues(operation, status).Inc()
}
