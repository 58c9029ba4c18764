package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the orchestration engine for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay instance processing.
type Observer interface {
	// OnOrchestrationStarted is called once when an instance is created,
	// before its first execution.
	OnOrchestrationStarted(ctx context.Context, inst *Instance)

	// OnOrchestrationCompleted is called when an instance reaches
	// StatusCompleted.
	OnOrchestrationCompleted(ctx context.Context, inst *Instance)

	// OnOrchestrationFailed is called when an instance transitions to
	// StatusFailed or StatusTerminated.
	OnOrchestrationFailed(ctx context.Context, inst *Instance, err error)

	// OnActivityCompleted is called after an activity invocation returns,
	// for both successes and faults (err != nil).
	OnActivityCompleted(ctx context.Context, instanceID, activity string, err error, duration time.Duration)

	// OnEventRaised is called when an external event is delivered to an
	// instance.
	OnEventRaised(ctx context.Context, instanceID, eventName string)

	// OnEntityOperation is called after an entity operation executes.
	OnEntityOperation(ctx context.Context, id EntityID, operation string, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnOrchestrationStarted(ctx context.Context, inst *Instance)             {}
func (NoopObserver) OnOrchestrationCompleted(ctx context.Context, inst *Instance)           {}
func (NoopObserver) OnOrchestrationFailed(ctx context.Context, inst *Instance, err error)   {}
func (NoopObserver) OnActivityCompleted(ctx context.Context, instanceID, activity string, err error, d time.Duration) {
}
func (NoopObserver) OnEventRaised(ctx context.Context, instanceID, eventName string) {}
func (NoopObserver) OnEntityOperation(ctx context.Context, id EntityID, operation string, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnOrchestrationStarted(ctx context.Context, inst *Instance) {
	for _, o := range c.observers {
		o.OnOrchestrationStarted(ctx, inst)
	}
}

func (c *CompositeObserver) OnOrchestrationCompleted(ctx context.Context, inst *Instance) {
	for _, o := range c.observers {
		o.OnOrchestrationCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnOrchestrationFailed(ctx context.Context, inst *Instance, err error) {
	for _, o := range c.observers {
		o.OnOrchestrationFailed(ctx, inst, err)
	}
}

func (c *CompositeObserver) OnActivityCompleted(ctx context.Context, instanceID, activity string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnActivityCompleted(ctx, instanceID, activity, err, d)
	}
}

func (c *CompositeObserver) OnEventRaised(ctx context.Context, instanceID, eventName string) {
	for _, o := range c.observers {
		o.OnEventRaised(ctx, instanceID, eventName)
	}
}

func (c *CompositeObserver) OnEntityOperation(ctx context.Context, id EntityID, operation string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnEntityOperation(ctx, id, operation, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs instance / activity
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnOrchestrationStarted(ctx context.Context, inst *Instance) {
	o.Logger.InfoContext(ctx, "orchestration_started",
		slog.String("orchestrator", inst.Orchestrator),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnOrchestrationCompleted(ctx context.Context, inst *Instance) {
	o.Logger.InfoContext(ctx, "orchestration_completed",
		slog.String("orchestrator", inst.Orchestrator),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnOrchestrationFailed(ctx context.Context, inst *Instance, err error) {
	o.Logger.ErrorContext(ctx, "orchestration_failed",
		slog.String("orchestrator", inst.Orchestrator),
		slog.String("instance_id", inst.ID),
		slog.String("status", string(inst.Status)),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnActivityCompleted(ctx context.Context, instanceID, activity string, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "activity_completed",
		slog.String("instance_id", instanceID),
		slog.String("activity", activity),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnEventRaised(ctx context.Context, instanceID, eventName string) {
	o.Logger.DebugContext(ctx, "event_raised",
		slog.String("instance_id", instanceID),
		slog.String("event", eventName),
	)
}

func (o *LoggingObserver) OnEntityOperation(ctx context.Context, id EntityID, operation string, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "entity_operation",
		slog.String("entity", id.String()),
		slog.String("operation", operation),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate activity durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	orchestrationsStarted   atomic.Int64
	orchestrationsCompleted atomic.Int64
	orchestrationsFailed    atomic.Int64
	activitiesCompleted     atomic.Int64
	activitiesFailed        atomic.Int64
	eventsRaised            atomic.Int64
	entityOperations        atomic.Int64
	totalActivityDuration   atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	OrchestrationsStarted   int64
	OrchestrationsCompleted int64
	OrchestrationsFailed    int64
	PendingOrchestrations   int64

	ActivitiesCompleted int64
	ActivitiesFailed    int64
	EventsRaised        int64
	EntityOperations    int64
	AvgActivityDuration time.Duration
}

func (m *BasicMetrics) OnOrchestrationStarted(ctx context.Context, inst *Instance) {
	m.orchestrationsStarted.Add(1)
}

func (m *BasicMetrics) OnOrchestrationCompleted(ctx context.Context, inst *Instance) {
	m.orchestrationsCompleted.Add(1)
}

func (m *BasicMetrics) OnOrchestrationFailed(ctx context.Context, inst *Instance, err error) {
	m.orchestrationsFailed.Add(1)
}

func (m *BasicMetrics) OnActivityCompleted(ctx context.Context, instanceID, activity string, err error, d time.Duration) {
	if err != nil {
		m.activitiesFailed.Add(1)
		return
	}
	m.activitiesCompleted.Add(1)
	m.totalActivityDuration.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnEventRaised(ctx context.Context, instanceID, eventName string) {
	m.eventsRaised.Add(1)
}

func (m *BasicMetrics) OnEntityOperation(ctx context.Context, id EntityID, operation string, err error, d time.Duration) {
	m.entityOperations.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.orchestrationsStarted.Load()
	completed := m.orchestrationsCompleted.Load()
	failed := m.orchestrationsFailed.Load()
	activities := m.activitiesCompleted.Load()
	totalNs := m.totalActivityDuration.Load()

	var avg time.Duration
	if activities > 0 {
		avg = time.Duration(totalNs / activities)
	}

	return BasicMetricsSnapshot{
		OrchestrationsStarted:   started,
		OrchestrationsCompleted: completed,
		OrchestrationsFailed:    failed,
		PendingOrchestrations:   started - completed - failed,
		ActivitiesCompleted:     activities,
		ActivitiesFailed:        m.activitiesFailed.Load(),
		EventsRaised:            m.eventsRaised.Load(),
		EntityOperations:        m.entityOperations.Load(),
		AvgActivityDuration:     avg,
	}
}
