package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/durable/internal/persistence"
	"github.com/petrijr/durable/pkg/api"
)

// RaiseEvent delivers a named external event to an instance. If the
// orchestrator is not yet waiting for it, the event sits in history and is
// consumed by a later wait; per event name, delivery order is receipt order.
func (e *Engine) RaiseEvent(ctx context.Context, instanceID, eventName string, payload any) error {
	if eventName == "" {
		return api.NewValidationError("event name is required")
	}
	if instanceID == "" {
		return api.NewValidationError("instance id is required")
	}

	lock := e.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := e.store.GetInstance(instanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return &api.NotFoundError{Kind: "instance", ID: instanceID}
		}
		return err
	}
	if inst.Status.IsTerminal() {
		return &api.ConflictError{
			InstanceID: instanceID,
			Msg:        fmt.Sprintf("cannot raise event %q on %s instance", eventName, inst.Status),
		}
	}

	ev := &api.HistoryEvent{
		TaskID:  -1,
		Type:    api.EventExternalEventReceived,
		At:      e.timers.Now(),
		Name:    eventName,
		Payload: payload,
	}
	if err := e.store.AppendEvent(instanceID, ev); err != nil {
		return err
	}
	e.observer.OnEventRaised(ctx, instanceID, eventName)

	return e.runEpisode(ctx, inst)
}

// Terminate forcibly ends a non-terminal instance. Pending timers are
// disarmed; in-flight activities run to completion but their results are
// dropped as orphans.
func (e *Engine) Terminate(ctx context.Context, instanceID, reason string) error {
	if instanceID == "" {
		return api.NewValidationError("instance id is required")
	}

	lock := e.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := e.store.GetInstance(instanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return &api.NotFoundError{Kind: "instance", ID: instanceID}
		}
		return err
	}
	if inst.Status.IsTerminal() {
		return &api.ConflictError{
			InstanceID: instanceID,
			Msg:        fmt.Sprintf("cannot terminate %s instance", inst.Status),
		}
	}

	ev := &api.HistoryEvent{
		TaskID: -1,
		Type:   api.EventOrchestrationTerminated,
		At:     e.timers.Now(),
		Fault:  reason,
	}
	if err := e.store.AppendEvent(instanceID, ev); err != nil {
		return err
	}

	inst.Status = api.StatusTerminated
	inst.Fault = reason
	inst.UpdatedAt = ev.At
	if err := e.store.UpdateInstance(inst); err != nil {
		return err
	}

	e.timers.CancelInstance(instanceID)
	e.notifyTerminal(instanceID)
	e.observer.OnOrchestrationFailed(ctx, inst, errors.New("terminated: "+reason))
	return nil
}

// WaitForCompletion blocks until the instance reaches a terminal status or
// ctx is done.
func (e *Engine) WaitForCompletion(ctx context.Context, instanceID string) (*api.Instance, error) {
	for {
		inst, err := e.GetStatus(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if inst.Status.IsTerminal() {
			return inst, nil
		}

		ch := e.subscribe(instanceID)

		// Re-check after subscribing so a transition between the status
		// read and the subscription is not missed.
		inst, err = e.GetStatus(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if inst.Status.IsTerminal() {
			return inst, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

func (e *Engine) subscribe(instanceID string) <-chan struct{} {
	e.waitMu.Lock()
	defer e.waitMu.Unlock()

	ch := make(chan struct{})
	e.waiters[instanceID] = append(e.waiters[instanceID], ch)
	return ch
}

func (e *Engine) notifyTerminal(instanceID string) {
	e.waitMu.Lock()
	defer e.waitMu.Unlock()

	for _, ch := range e.waiters[instanceID] {
		close(ch)
	}
	delete(e.waiters, instanceID)
}
