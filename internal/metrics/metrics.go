// Package metrics exposes Prometheus counters for dossier activity.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	leadTransitions *prometheus.CounterVec
	phaseChanges    *prometheus.CounterVec
	quoteDecisions  *prometheus.CounterVec
	quoteVersions   prometheus.Counter
	timeLogged      *prometheus.CounterVec
	notifyFailures  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		leadTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dossierline",
			Name:      "lead_transitions_total",
			Help:      "Lead status transitions by source and target status.",
		}, []string{"from", "to"}),
		phaseChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dossierline",
			Name:      "lead_phase_changes_total",
			Help:      "Sub-phase changes while in Opdracht.",
		}, []string{"track", "phase"}),
		quoteDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dossierline",
			Name:      "quote_decisions_total",
			Help:      "Quote workflow steps: submitted, approved, rejected, sent, rolled_back.",
		}, []string{"decision"}),
		quoteVersions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dossierline",
			Name:      "quote_versions_created_total",
			Help:      "Quote versions appended.",
		}),
		timeLogged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dossierline",
			Name:      "time_logged_minutes_total",
			Help:      "Minutes logged, split by billable classification.",
		}, []string{"billable"}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dossierline",
			Name:      "quote_notify_failures_total",
			Help:      "Quote-ready signals that could not be delivered.",
		}),
	}
	m.Registry.MustRegister(m.leadTransitions, m.phaseChanges, m.quoteDecisions, m.quoteVersions, m.timeLogged, m.notifyFailures)
	return m
}

// The recorders below accept a nil receiver so callers can run without metrics.

func (m *Metrics) LeadTransition(from, to string) {
	if m == nil {
		return
	}
	m.leadTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) PhaseChange(track, phase string) {
	if m == nil {
		return
	}
	m.phaseChanges.WithLabelValues(track, phase).Inc()
}

func (m *Metrics) QuoteDecision(decision string) {
	if m == nil {
		return
	}
	m.quoteDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) QuoteVersionCreated() {
	if m == nil {
		return
	}
	m.quoteVersions.Inc()
}

func (m *Metrics) TimeLogged(minutes int, billable bool) {
	if m == nil {
		return
	}
	m.timeLogged.WithLabelValues(strconv.FormatBool(billable)).Add(float64(minutes))
}

func (m *Metrics) NotifyFailed() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
