// Package metrics exposes Prometheus collectors for workflow activity.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateline"

type Metrics struct {
	registry *prometheus.Registry

	stageTransitions *prometheus.CounterVec
	gateRejections   *prometheus.CounterVec
	taskTransitions  *prometheus.CounterVec
	scores           prometheus.Histogram
	approvals        *prometheus.CounterVec
	handovers        prometheus.Counter
	notifications    *prometheus.CounterVec
	operations       *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		stageTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Stage status changes by stage type and target status.",
		}, []string{"stage_type", "status"}),
		gateRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_rejections_total",
			Help:      "Close attempts refused by a gate.",
		}, []string{"stage_type"}),
		taskTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task status changes by target status.",
		}, []string{"status"}),
		scores: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_score",
			Help:      "Scores computed at submission time.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		approvals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_decisions_total",
			Help:      "Requisition approval decisions by slot.",
		}, []string{"slot", "decision"}),
		handovers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projects_handed_over_total",
			Help:      "Projects that completed dual-signature handover.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		operations: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) StageTransition(stageType, status string) {
	if m == nil {
		return
	}
	m.stageTransitions.WithLabelValues(stageType, status).Inc()
}

func (m *Metrics) GateRejected(stageType string) {
	if m == nil {
		return
	}
	m.gateRejections.WithLabelValues(stageType).Inc()
}

func (m *Metrics) TaskTransition(status string) {
	if m == nil {
		return
	}
	m.taskTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) Score(score int) {
	if m == nil {
		return
	}
	m.scores.Observe(float64(score))
}

func (m *Metrics) ApprovalDecision(slot, decision string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(slot, decision).Inc()
}

func (m *Metrics) HandedOver() {
	if m == nil {
		return
	}
	m.handovers.Inc()
}

func (m *Metrics) Notification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// Observe records how long op took; outcome is "ok" or an error kind.
func (m *Metrics) Observe(op, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Observe(time.Since(started).Seconds())
}
