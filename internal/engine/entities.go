package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/durable/internal/persistence"
	"github.com/petrijr/durable/pkg/api"
)

type entityJob struct {
	id        api.EntityID
	operation string
	input     any

	// callerID and taskID are set for two-way calls; a completion event is
	// delivered back to the calling instance. One-way signals leave them zero.
	callerID string
	taskID   int
}

// entityRuntime executes entity operations. Each entity identity gets its own
// worker goroutine draining an ordered pending queue, which is what
// serializes operations: one entity never runs two operations concurrently,
// and operations run in dispatch order regardless of backlog depth. Distinct
// entities proceed in parallel.
type entityRuntime struct {
	registry *registry
	store    persistence.EntityStateStore
	timers   TimerService
	observer api.Observer
	logger   *slog.Logger
	complete completeFunc

	mu      sync.Mutex
	workers map[string]*entityWorker
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// entityWorker holds one entity's pending operations. The slice keeps arrival
// order; the wake channel only signals that there is work.
type entityWorker struct {
	mu      sync.Mutex
	pending []entityJob
	wake    chan struct{}
}

func newEntityRuntime(reg *registry, store persistence.EntityStateStore, timers TimerService, obs api.Observer, logger *slog.Logger, complete completeFunc) *entityRuntime {
	return &entityRuntime{
		registry: reg,
		store:    store,
		timers:   timers,
		observer: obs,
		logger:   logger,
		complete: complete,
		workers:  make(map[string]*entityWorker),
		quit:     make(chan struct{}),
	}
}

// dispatch appends a job to the target entity's queue, creating the worker on
// first use. Appending never blocks, so callers holding instance locks are
// safe, and the queue preserves dispatch order even under backpressure.
func (r *entityRuntime) dispatch(job entityJob) {
	r.mu.Lock()
	w, ok := r.workers[job.id.String()]
	if !ok {
		w = &entityWorker{wake: make(chan struct{}, 1)}
		r.workers[job.id.String()] = w
		r.wg.Add(1)
		go r.worker(w)
	}
	r.mu.Unlock()

	w.mu.Lock()
	w.pending = append(w.pending, job)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (r *entityRuntime) worker(w *entityWorker) {
	defer r.wg.Done()
	for {
		select {
		case <-w.wake:
			for {
				w.mu.Lock()
				if len(w.pending) == 0 {
					w.mu.Unlock()
					break
				}
				job := w.pending[0]
				w.pending = w.pending[1:]
				w.mu.Unlock()
				r.execute(job)
			}
		case <-r.quit:
			return
		}
	}
}

func (r *entityRuntime) execute(job entityJob) {
	started := time.Now()
	result, err := r.runOperation(job)
	r.observer.OnEntityOperation(context.Background(), job.id, job.operation, err, time.Since(started))

	if job.callerID == "" {
		// One-way signal: there is no caller to fault, so a failed
		// operation is logged and dropped.
		if err != nil {
			r.logger.Warn("entity signal failed",
				slog.String("entity", job.id.String()),
				slog.String("operation", job.operation),
				slog.Any("error", err),
			)
		}
		return
	}

	ev := &api.HistoryEvent{
		TaskID: job.taskID,
		At:     r.timers.Now(),
		Name:   job.operation,
		Entity: job.id.String(),
	}
	if err != nil {
		ev.Type = api.EventEntityFailed
		ev.Fault = err.Error()
	} else {
		ev.Type = api.EventEntityCompleted
		ev.Payload = result
	}
	r.complete(job.callerID, ev)
}

// runOperation loads the entity state, runs the operation and persists the
// state on success. A failed or panicking operation leaves the stored state
// untouched.
func (r *entityRuntime) runOperation(job entityJob) (result any, err error) {
	op, ok := r.registry.entityOp(job.id.Type, job.operation)
	if !ok {
		if _, defined := r.registry.entity(job.id.Type); !defined {
			return nil, &api.NotFoundError{Kind: "entity", ID: job.id.Type}
		}
		return nil, &api.NotFoundError{Kind: "entity operation", ID: job.id.Type + "." + job.operation}
	}

	ectx := &entityContext{
		id:        job.id,
		operation: job.operation,
		input:     job.input,
	}

	state, err := r.store.GetEntityState(job.id.String())
	switch {
	case err == nil:
		ectx.state = state
		ectx.hasState = true
	case errors.Is(err, persistence.ErrEntityNotFound):
		// First operation on this identity; state starts absent.
	default:
		return nil, err
	}

	if err := r.invoke(op, ectx); err != nil {
		return nil, err
	}

	switch {
	case ectx.deleted:
		if err := r.store.DeleteEntityState(job.id.String()); err != nil {
			return nil, err
		}
	case ectx.dirty:
		if err := r.store.SaveEntityState(job.id.String(), ectx.state); err != nil {
			return nil, err
		}
	}
	return ectx.ret, nil
}

func (r *entityRuntime) invoke(op api.EntityOp, ectx *entityContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("entity operation panicked",
				slog.String("entity", ectx.id.String()),
				slog.String("operation", ectx.operation),
				slog.Any("panic", rec),
			)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return op(ectx)
}

// readState returns the current state document without going through the
// entity's worker. Reads may interleave with an in-flight operation and see
// the state from before it commits.
func (r *entityRuntime) readState(id api.EntityID) (any, error) {
	return r.store.GetEntityState(id.String())
}

func (r *entityRuntime) close() {
	r.once.Do(func() {
		close(r.quit)
	})
	r.wg.Wait()
}

// entityContext is the api.EntityContext passed to entity operations.
type entityContext struct {
	id        api.EntityID
	operation string
	input     any

	state    any
	hasState bool
	dirty    bool
	deleted  bool
	ret      any
}

var _ api.EntityContext = (*entityContext)(nil)

func (c *entityContext) ID() api.EntityID  { return c.id }
func (c *entityContext) Operation() string { return c.operation }
func (c *entityContext) Input() any        { return c.input }

func (c *entityContext) State() (any, bool) {
	return c.state, c.hasState
}

func (c *entityContext) SetState(v any) {
	c.state = v
	c.hasState = true
	c.dirty = true
	c.deleted = false
}

func (c *entityContext) DeleteState() {
	c.state = nil
	c.hasState = false
	c.dirty = false
	c.deleted = true
}

func (c *entityContext) Return(v any) {
	c.ret = v
}
