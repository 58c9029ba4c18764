// Package engine implements the durable orchestration engine: instances,
// append-only histories, deterministic replay, activity dispatch, durable
// timers and entity execution.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/durable/internal/persistence"
	"github.com/petrijr/durable/pkg/api"
)

// ErrClosed is returned by engine operations after Close.
var ErrClosed = errors.New("engine is closed")

// Config carries the dependencies of an Engine. Persistence is required;
// everything else has a sensible default.
type Config struct {
	Persistence persistence.Persistence

	// Observer receives lifecycle callbacks. Defaults to api.NoopObserver.
	Observer api.Observer

	// Timers defaults to NewWallTimers.
	Timers TimerService

	// ActivityWorkers sizes the activity worker pool. Defaults to 4.
	ActivityWorkers int

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Engine is the api.Engine implementation. Each instance is protected by its
// own mutex: an instance is only ever advanced by one goroutine at a time,
// while distinct instances proceed concurrently.
type Engine struct {
	store    persistence.InstanceStore
	registry *registry
	observer api.Observer
	timers   TimerService
	logger   *slog.Logger

	dispatcher *dispatcher
	entities   *entityRuntime

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	waitMu  sync.Mutex
	waiters map[string][]chan struct{}

	closed atomic.Bool
}

var _ api.Engine = (*Engine)(nil)

// New creates an Engine from the config. The engine is ready for
// registrations and Start calls immediately.
func New(cfg Config) (*Engine, error) {
	if cfg.Persistence.Instances == nil || cfg.Persistence.Entities == nil {
		return nil, api.NewValidationError("persistence stores are required")
	}

	observer := cfg.Observer
	if observer == nil {
		observer = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timers := cfg.Timers
	if timers == nil {
		timers = NewWallTimers()
	}

	e := &Engine{
		store:    cfg.Persistence.Instances,
		registry: newRegistry(),
		observer: observer,
		timers:   timers,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
		waiters:  make(map[string][]chan struct{}),
	}
	e.dispatcher = newDispatcher(cfg.ActivityWorkers, e.registry, timers, observer, logger, e.applyCompletion)
	e.entities = newEntityRuntime(e.registry, cfg.Persistence.Entities, timers, observer, logger, e.applyCompletion)
	timers.Bind(e.onTimerFired)
	return e, nil
}

func (e *Engine) RegisterOrchestrator(name string, fn api.OrchestratorFunc) error {
	return e.registry.registerOrchestrator(name, fn)
}

func (e *Engine) RegisterActivity(name string, fn api.ActivityFunc) error {
	return e.registry.registerActivity(name, fn)
}

func (e *Engine) RegisterEntity(def api.EntityDefinition) error {
	return e.registry.registerEntity(def)
}

func (e *Engine) lockFor(instanceID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[instanceID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[instanceID] = l
	}
	return l
}

func (e *Engine) Start(ctx context.Context, orchestrator, instanceID string, input any) (string, error) {
	if e.closed.Load() {
		return "", ErrClosed
	}
	if _, ok := e.registry.orchestrator(orchestrator); !ok {
		return "", &api.NotFoundError{Kind: "orchestrator", ID: orchestrator}
	}
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	now := e.timers.Now()
	inst := &api.Instance{
		ID:           instanceID,
		Orchestrator: orchestrator,
		Status:       api.StatusPending,
		Input:        input,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateInstance(inst); err != nil {
		if errors.Is(err, persistence.ErrInstanceExists) {
			return "", &api.ConflictError{InstanceID: instanceID, Msg: "instance ID already in use"}
		}
		return "", err
	}
	e.observer.OnOrchestrationStarted(ctx, inst)

	lock := e.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	started := &api.HistoryEvent{
		TaskID:  -1,
		Type:    api.EventOrchestrationStarted,
		At:      now,
		Name:    orchestrator,
		Payload: input,
	}
	if err := e.store.AppendEvent(instanceID, started); err != nil {
		return "", err
	}
	inst.Status = api.StatusRunning
	if err := e.store.UpdateInstance(inst); err != nil {
		return "", err
	}

	return instanceID, e.runEpisode(ctx, inst)
}

// runEpisode replays the instance from its history and acts on the outcome.
// The caller must hold the instance lock.
func (e *Engine) runEpisode(ctx context.Context, inst *api.Instance) error {
	fn, ok := e.registry.orchestrator(inst.Orchestrator)
	if !ok {
		return &api.NotFoundError{Kind: "orchestrator", ID: inst.Orchestrator}
	}
	history, err := e.store.GetHistory(inst.ID)
	if err != nil {
		return err
	}

	x := newExecution(inst.ID, inst.Input, history, e.logger)
	res := x.run(fn)

	switch res.outcome {
	case episodeMismatch:
		// A determinism violation halts the instance without touching its
		// state: the recorded history stays intact for inspection.
		e.logger.Error("replay mismatch, halting instance",
			slog.String("instance_id", inst.ID),
			slog.String("orchestrator", inst.Orchestrator),
			slog.Any("error", res.err),
		)
		return res.err

	case episodeSuspended:
		if err := e.persistNewEvents(inst.ID, x.newEvents); err != nil {
			return err
		}
		e.dispatchNewEvents(inst, x.newEvents, false)
		inst.UpdatedAt = e.timers.Now()
		return e.store.UpdateInstance(inst)

	case episodeCompleted:
		if err := e.persistNewEvents(inst.ID, x.newEvents); err != nil {
			return err
		}
		// Only fire-and-forget effects still make sense once the run is
		// over; nothing will ever await an activity scheduled here.
		e.dispatchNewEvents(inst, x.newEvents, true)

		done := &api.HistoryEvent{
			TaskID:  -1,
			Type:    api.EventOrchestrationCompleted,
			At:      e.timers.Now(),
			Payload: res.output,
		}
		if err := e.store.AppendEvent(inst.ID, done); err != nil {
			return err
		}
		inst.Status = api.StatusCompleted
		inst.Output = res.output
		inst.UpdatedAt = done.At
		if err := e.store.UpdateInstance(inst); err != nil {
			return err
		}
		e.timers.CancelInstance(inst.ID)
		e.notifyTerminal(inst.ID)
		e.observer.OnOrchestrationCompleted(ctx, inst)
		return nil

	case episodeFailed:
		if err := e.persistNewEvents(inst.ID, x.newEvents); err != nil {
			return err
		}
		failed := &api.HistoryEvent{
			TaskID: -1,
			Type:   api.EventOrchestrationFailed,
			At:     e.timers.Now(),
			Fault:  res.err.Error(),
		}
		if err := e.store.AppendEvent(inst.ID, failed); err != nil {
			return err
		}
		inst.Status = api.StatusFailed
		inst.Fault = res.err.Error()
		inst.UpdatedAt = failed.At
		if err := e.store.UpdateInstance(inst); err != nil {
			return err
		}
		e.timers.CancelInstance(inst.ID)
		e.notifyTerminal(inst.ID)
		e.observer.OnOrchestrationFailed(ctx, inst, res.err)
		return nil
	}
	return nil
}

func (e *Engine) persistNewEvents(instanceID string, events []*api.HistoryEvent) error {
	for _, ev := range events {
		if err := e.store.AppendEvent(instanceID, ev); err != nil {
			return err
		}
	}
	return nil
}

// dispatchNewEvents triggers the side effects of events first recorded in
// this episode. With terminalOnly set, only fire-and-forget effects (entity
// signals, timer cancellations) are dispatched.
func (e *Engine) dispatchNewEvents(inst *api.Instance, events []*api.HistoryEvent, terminalOnly bool) {
	for _, ev := range events {
		switch ev.Type {
		case api.EventActivityScheduled:
			if terminalOnly {
				continue
			}
			e.dispatcher.enqueue(activityJob{
				instanceID: inst.ID,
				taskID:     ev.TaskID,
				activity:   ev.Name,
				input:      ev.Payload,
			})

		case api.EventTimerCreated:
			if terminalOnly {
				continue
			}
			e.timers.Schedule(inst.ID, ev.TaskID, ev.FireAt)

		case api.EventTimerCanceled:
			e.timers.Cancel(inst.ID, ev.TaskID)

		case api.EventEntityCalled:
			if terminalOnly {
				continue
			}
			id, err := api.ParseEntityID(ev.Entity)
			if err != nil {
				continue
			}
			e.entities.dispatch(entityJob{
				id:        id,
				operation: ev.Name,
				input:     ev.Payload,
				callerID:  inst.ID,
				taskID:    ev.TaskID,
			})

		case api.EventEntitySignaled:
			id, err := api.ParseEntityID(ev.Entity)
			if err != nil {
				continue
			}
			e.entities.dispatch(entityJob{
				id:        id,
				operation: ev.Name,
				input:     ev.Payload,
			})
		}
	}
}

// applyCompletion appends a completion event to an instance's history and
// resumes it. It is the single entry point for activity results, timer
// fires, entity call results and external events.
func (e *Engine) applyCompletion(instanceID string, ev *api.HistoryEvent) {
	lock := e.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := e.store.GetInstance(instanceID)
	if err != nil {
		e.logger.Warn("dropping completion for unknown instance",
			slog.String("instance_id", instanceID),
			slog.String("type", string(ev.Type)),
		)
		return
	}
	if inst.Status.IsTerminal() {
		e.logger.Debug("dropping completion for terminal instance",
			slog.String("instance_id", instanceID),
			slog.String("type", string(ev.Type)),
			slog.String("status", string(inst.Status)),
		)
		return
	}

	if ev.TaskID >= 0 {
		history, err := e.store.GetHistory(instanceID)
		if err != nil {
			e.logger.Error("failed to load history", slog.String("instance_id", instanceID), slog.Any("error", err))
			return
		}
		for i := range history {
			h := &history[i]
			// An existing completion for the same task means this one is a
			// duplicate or a fire that lost the cancellation race.
			if h.TaskID == ev.TaskID && !h.IsScheduling() {
				e.logger.Debug("dropping duplicate completion",
					slog.String("instance_id", instanceID),
					slog.Int("task_id", ev.TaskID),
					slog.String("type", string(ev.Type)),
				)
				return
			}
		}
	}

	if err := e.store.AppendEvent(instanceID, ev); err != nil {
		e.logger.Error("failed to append completion",
			slog.String("instance_id", instanceID),
			slog.Any("error", err),
		)
		return
	}

	if err := e.runEpisode(context.Background(), inst); err != nil {
		e.logger.Error("episode failed",
			slog.String("instance_id", instanceID),
			slog.Any("error", err),
		)
	}
}

func (e *Engine) onTimerFired(instanceID string, taskID int, firedAt time.Time) {
	e.applyCompletion(instanceID, &api.HistoryEvent{
		TaskID: taskID,
		Type:   api.EventTimerFired,
		At:     firedAt,
	})
}

func (e *Engine) GetStatus(ctx context.Context, instanceID string) (*api.Instance, error) {
	inst, err := e.store.GetInstance(instanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, &api.NotFoundError{Kind: "instance", ID: instanceID}
		}
		return nil, err
	}
	return inst, nil
}

func (e *Engine) GetHistory(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	history, err := e.store.GetHistory(instanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, &api.NotFoundError{Kind: "instance", ID: instanceID}
		}
		return nil, err
	}
	return history, nil
}

func (e *Engine) ListInstances(ctx context.Context, filter api.InstanceFilter) ([]*api.Instance, error) {
	return e.store.ListInstances(filter)
}

func (e *Engine) SignalEntity(ctx context.Context, id api.EntityID, operation string, input any) error {
	if id.IsZero() {
		return api.NewValidationError("entity id is required")
	}
	if operation == "" {
		return api.NewValidationError("entity operation is required")
	}
	if _, ok := e.registry.entity(id.Type); !ok {
		return &api.NotFoundError{Kind: "entity", ID: id.Type}
	}
	if _, ok := e.registry.entityOp(id.Type, operation); !ok {
		return &api.NotFoundError{Kind: "entity operation", ID: id.Type + "." + operation}
	}

	e.entities.dispatch(entityJob{id: id, operation: operation, input: input})
	return nil
}

func (e *Engine) ReadEntity(ctx context.Context, id api.EntityID) (any, error) {
	if id.IsZero() {
		return nil, api.NewValidationError("entity id is required")
	}
	state, err := e.entities.readState(id)
	if err != nil {
		if errors.Is(err, persistence.ErrEntityNotFound) {
			return nil, &api.NotFoundError{Kind: "entity", ID: id.String()}
		}
		return nil, err
	}
	return state, nil
}

// RecoverInstances rescans non-terminal instances and re-dispatches the work
// their histories say is still outstanding. It is meant to run once on
// startup, before new traffic.
func (e *Engine) RecoverInstances(ctx context.Context) (int, error) {
	instances, err := e.store.ListInstances(api.InstanceFilter{})
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, inst := range instances {
		if inst.Status.IsTerminal() {
			continue
		}
		if e.recoverInstance(inst) {
			recovered++
		}
	}
	return recovered, nil
}

func (e *Engine) recoverInstance(inst *api.Instance) bool {
	lock := e.lockFor(inst.ID)
	lock.Lock()
	defer lock.Unlock()

	history, err := e.store.GetHistory(inst.ID)
	if err != nil {
		e.logger.Error("recovery: failed to load history",
			slog.String("instance_id", inst.ID),
			slog.Any("error", err),
		)
		return false
	}

	resolved := make(map[int]bool)
	for i := range history {
		ev := &history[i]
		if ev.TaskID >= 0 && !ev.IsScheduling() {
			resolved[ev.TaskID] = true
		}
	}

	touched := false
	for i := range history {
		ev := &history[i]
		if !ev.IsScheduling() || resolved[ev.TaskID] {
			continue
		}
		switch ev.Type {
		case api.EventActivityScheduled:
			e.dispatcher.enqueue(activityJob{
				instanceID: inst.ID,
				taskID:     ev.TaskID,
				activity:   ev.Name,
				input:      ev.Payload,
			})
			touched = true

		case api.EventTimerCreated:
			e.timers.Schedule(inst.ID, ev.TaskID, ev.FireAt)
			touched = true

		case api.EventEntityCalled:
			id, err := api.ParseEntityID(ev.Entity)
			if err != nil {
				continue
			}
			e.entities.dispatch(entityJob{
				id:        id,
				operation: ev.Name,
				input:     ev.Payload,
				callerID:  inst.ID,
				taskID:    ev.TaskID,
			})
			touched = true

		case api.EventEntitySignaled:
			// One-way signals record no completion, so there is no way to
			// tell a delivered signal from a lost one. Redelivering on
			// every restart would re-run delivered operations, which is
			// worse than losing the rare crash-window signal.
		}
	}

	if touched {
		e.logger.Info("recovered instance",
			slog.String("instance_id", inst.ID),
			slog.String("orchestrator", inst.Orchestrator),
		)
	}
	return touched
}

func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.timers.Close()
	e.dispatcher.close()
	e.entities.close()
	return nil
}
