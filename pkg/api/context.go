package api

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Task is an awaitable operation scheduled by an orchestration: an activity
// call, a durable timer, an external event wait or an entity call.
//
// Await suspends the orchestration until the operation's completion event is
// in the history. Tasks can also be combined with
// OrchestrationContext.WhenAll and WhenAny.
type Task interface {
	// Await returns the recorded result once the completion event exists,
	// and suspends the orchestration otherwise.
	Await() (any, error)

	// Done reports whether the completion event is already in the history.
	// It never suspends.
	Done() bool
}

// OrchestrationContext is the only window orchestrator code has on the
// outside world. Every operation below is mediated by the engine and
// recorded in the instance history, which is what makes the orchestrator
// replayable: on resume the same calls return the same recorded answers
// without re-executing side effects.
type OrchestrationContext interface {
	// InstanceID returns the ID of the running instance.
	InstanceID() string

	// Input returns the payload the instance was started with.
	Input() any

	// CurrentTime returns the deterministic virtual time. It advances only
	// as completion events are consumed, so it is stable under replay.
	// Orchestrator code must use it instead of time.Now.
	CurrentTime() time.Time

	// NewGUID returns a GUID that is stable under replay. Orchestrator code
	// must use it instead of uuid.New.
	NewGUID() uuid.UUID

	// IsReplaying reports whether the current execution is still consuming
	// previously recorded history.
	IsReplaying() bool

	// Logger returns a structured logger scoped to this instance. While
	// replaying it discards output, so log lines appear exactly once.
	Logger() *slog.Logger

	// CallActivity schedules the named activity and awaits its result.
	// A failed activity returns an *ActivityError.
	CallActivity(name string, input any) (any, error)

	// CallActivityWithRetry is CallActivity with a deterministic retry loop:
	// faults are retried up to policy.MaxAttempts with durable-timer backoff.
	CallActivityWithRetry(name string, input any, policy RetryPolicy) (any, error)

	// ScheduleActivity schedules the named activity without awaiting it.
	ScheduleActivity(name string, input any) Task

	// CreateTimer schedules a durable timer that fires at the given virtual
	// time. A fireAt in the past fires on the next tick.
	CreateTimer(fireAt time.Time) Task

	// CancelTimer cancels a pending timer task. A canceled timer never
	// delivers a fire event, even if cancellation races the fire tick.
	// Canceling a timer that already fired is a no-op.
	CancelTimer(t Task) error

	// Sleep awaits a durable timer for the given duration.
	Sleep(d time.Duration) error

	// ExternalEvent returns a task that completes when the named external
	// event is raised at this instance. Payloads raised before the wait are
	// buffered and consumed in FIFO order per event name.
	ExternalEvent(name string) Task

	// WaitForEvent schedules an external event wait and awaits its payload.
	WaitForEvent(name string) (any, error)

	// CallEntity invokes an entity operation two-way and awaits its result.
	CallEntity(id EntityID, operation string, input any) (any, error)

	// ScheduleEntityCall invokes an entity operation without awaiting it.
	ScheduleEntityCall(id EntityID, operation string, input any) Task

	// SignalEntity sends a one-way, at-least-once operation to an entity.
	SignalEntity(id EntityID, operation string, input any) error

	// WhenAll awaits every task and returns their results in task order,
	// regardless of completion order. The first fault encountered in task
	// order is returned as the error.
	WhenAll(tasks ...Task) ([]any, error)

	// WhenAny awaits the first task to complete and returns it. The winner
	// is the task whose completion event was recorded first; remaining
	// tasks stay schedulable and may be awaited or canceled afterwards.
	WhenAny(tasks ...Task) (Task, error)
}
