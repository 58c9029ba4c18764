// Package metrics provides a Prometheus-backed api.Observer.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/petrijr/durable/pkg/api"
)

// PrometheusObserver exports engine lifecycle events as Prometheus metrics.
// Combine it with other observers via api.NewCompositeObserver.
type PrometheusObserver struct {
	orchestrationsStarted *prometheus.CounterVec
	orchestrationsEnded   *prometheus.CounterVec
	activityDuration      *prometheus.HistogramVec
	eventsRaised          prometheus.Counter
	entityOperations      *prometheus.CounterVec
}

var _ api.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver registers the engine metrics with reg and returns
// the observer. Pass prometheus.DefaultRegisterer to use the default
// registry.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	factory := promauto.With(reg)
	return &PrometheusObserver{
		orchestrationsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "durable_orchestrations_started_total",
			Help: "Orchestration instances started.",
		}, []string{"orchestrator"}),
		orchestrationsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "durable_orchestrations_ended_total",
			Help: "Orchestration instances that reached a terminal status.",
		}, []string{"orchestrator", "status"}),
		activityDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "durable_activity_duration_seconds",
			Help:    "Activity invocation durations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"activity", "outcome"}),
		eventsRaised: factory.NewCounter(prometheus.CounterOpts{
			Name: "durable_events_raised_total",
			Help: "External events delivered to instances.",
		}),
		entityOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "durable_entity_operations_total",
			Help: "Entity operations executed.",
		}, []string{"entity_type", "operation", "outcome"}),
	}
}

func (o *PrometheusObserver) OnOrchestrationStarted(_ context.Context, inst *api.Instance) {
	o.orchestrationsStarted.WithLabelValues(inst.Orchestrator).Inc()
}

func (o *PrometheusObserver) OnOrchestrationCompleted(_ context.Context, inst *api.Instance) {
	o.orchestrationsEnded.WithLabelValues(inst.Orchestrator, string(inst.Status)).Inc()
}

func (o *PrometheusObserver) OnOrchestrationFailed(_ context.Context, inst *api.Instance, _ error) {
	o.orchestrationsEnded.WithLabelValues(inst.Orchestrator, string(inst.Status)).Inc()
}

func (o *PrometheusObserver) OnActivityCompleted(_ context.Context, _, activity string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "fault"
	}
	o.activityDuration.WithLabelValues(activity, outcome).Observe(d.Seconds())
}

func (o *PrometheusObserver) OnEventRaised(_ context.Context, _, _ string) {
	o.eventsRaised.Inc()
}

func (o *PrometheusObserver) OnEntityOperation(_ context.Context, id api.EntityID, operation string, err error, _ time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "fault"
	}
	o.entityOperations.WithLabelValues(id.Type, operation, outcome).Inc()
}
