package api

import "time"

// EventType identifies a history event variant.
type EventType string

const (
	EventOrchestrationStarted    EventType = "orchestration.started"
	EventOrchestrationCompleted  EventType = "orchestration.completed"
	EventOrchestrationFailed     EventType = "orchestration.failed"
	EventOrchestrationTerminated EventType = "orchestration.terminated"

	EventActivityScheduled EventType = "activity.scheduled"
	EventActivityCompleted EventType = "activity.completed"
	EventActivityFailed    EventType = "activity.failed"

	EventTimerCreated  EventType = "timer.created"
	EventTimerFired    EventType = "timer.fired"
	EventTimerCanceled EventType = "timer.canceled"

	EventExternalEventReceived EventType = "event.received"

	EventEntitySignaled  EventType = "entity.signaled"
	EventEntityCalled    EventType = "entity.called"
	EventEntityCompleted EventType = "entity.completed"
	EventEntityFailed    EventType = "entity.failed"
)

// HistoryEvent is one record in an instance's append-only history. The
// history is the source of truth for replay: orchestrator code is a
// deterministic function of this sequence, so appending is the only mutation
// the engine ever performs on it.
type HistoryEvent struct {
	// Sequence is the append position within the instance history.
	// It is assigned by the instance store.
	Sequence int64

	// TaskID links scheduling events to their completions. Task IDs are
	// assigned in orchestrator scheduling order, which makes them stable
	// across replays. Instance-level events use TaskID -1.
	TaskID int

	Type EventType

	// At is the virtual timestamp at which the event was recorded.
	At time.Time

	// Name is the activity name, external event name or entity operation,
	// depending on Type.
	Name string

	// Entity is the string form of the target entity ID for entity events.
	Entity string

	// FireAt is the due time for timer.created events.
	FireAt time.Time

	// Payload holds the input for scheduling events and the result for
	// completion events.
	Payload any

	// Fault carries the error text for activity.failed, entity.failed,
	// orchestration.failed and orchestration.terminated events.
	Fault string
}

// IsScheduling reports whether the event records the scheduling side of an
// awaitable operation (as opposed to its completion).
func (e *HistoryEvent) IsScheduling() bool {
	switch e.Type {
	case EventActivityScheduled, EventTimerCreated, EventEntityCalled, EventEntitySignaled:
		return true
	}
	return false
}
