// Package metrics exposes prometheus collectors for workflow orchestration,
// fed by the engine's lifecycle event stream.
package metrics

import (
	"github.com/montageio/montage/pkg/eventbus"
	"github.com/montageio/montage/pkg/events"
	"github.com/montageio/montage/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector counts workflow activity. Wire it with engine.Subscribe(c.Observe).
type Collector struct {
	workflowsStarted   prometheus.Counter
	workflowsCompleted prometheus.Counter
	workflowsFailed    prometheus.Counter
	workflowsCancelled prometheus.Counter

	steps             *prometheus.CounterVec
	approvalRequests  *prometheus.CounterVec
	approvalDecisions *prometheus.CounterVec

	stepDuration prometheus.Histogram
}

func NewCollector(registerer prometheus.Registerer) *Collector {
	factory := promauto.With(registerer)

	return &Collector{
		workflowsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "montage_workflows_started_total",
			Help: "Workflows that began execution.",
		}),
		workflowsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "montage_workflows_completed_total",
			Help: "Workflows that ran every step successfully.",
		}),
		workflowsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "montage_workflows_failed_total",
			Help: "Workflows aborted by a step or checkpoint failure.",
		}),
		workflowsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "montage_workflows_cancelled_total",
			Help: "Workflows cancelled by a user, timeout or context.",
		}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "montage_steps_total",
			Help: "Workflow steps by outcome.",
		}, []string{"outcome"}),
		approvalRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "montage_approval_requests_total",
			Help: "Approval requests by risk level.",
		}, []string{"risk_level"}),
		approvalDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "montage_approval_decisions_total",
			Help: "Approval decisions by outcome.",
		}, []string{"decision"}),
		stepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "montage_step_duration_seconds",
			Help:    "Wall-clock duration of completed steps.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Observe is an eventbus.Observer translating lifecycle events into counters.
func (c *Collector) Observe(event eventbus.Event) {
	switch e := event.(type) {
	case events.PhaseChanged:
		if e.PreviousPhase == models.PhaseIdle && e.Phase == models.PhaseAnalyzing {
			c.workflowsStarted.Inc()
		}
	case events.StepStarted:
		c.steps.WithLabelValues("started").Inc()
	case events.StepCompleted:
		c.steps.WithLabelValues("completed").Inc()
		c.stepDuration.Observe(float64(e.DurationMs) / 1000)
	case events.StepFailed:
		c.steps.WithLabelValues("failed").Inc()
	case events.ApprovalRequired:
		c.approvalRequests.WithLabelValues(string(e.RiskLevel)).Inc()
	case events.ApprovalReceived:
		if e.Approved {
			c.approvalDecisions.WithLabelValues("approved").Inc()
		} else {
			c.approvalDecisions.WithLabelValues("rejected").Inc()
		}
	case events.WorkflowCompleted:
		c.workflowsCompleted.Inc()
	case events.WorkflowFailed:
		c.workflowsFailed.Inc()
	case events.WorkflowCancelled:
		c.workflowsCancelled.Inc()
	}
}
