package api

import (
	"context"
	"encoding/gob"
	"time"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]string{})
	gob.Register(time.Time{})
	gob.Register(EntityID{})
}

// RegisterPayloadType registers a concrete type carried inside any-typed
// payloads (inputs, outputs, event payloads, entity state) with the codec.
// Call it from an init function for every custom payload struct.
func RegisterPayloadType(v any) {
	gob.Register(v)
}

// Status represents the lifecycle state of an orchestration instance.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTerminated Status = "TERMINATED"
)

// IsTerminal reports whether no further history can be appended for an
// instance in this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	}
	return false
}

// OrchestratorFunc is the code of an orchestration. It must be deterministic:
// all time, randomness and I/O must go through the OrchestrationContext so
// that replaying the recorded history reproduces the exact same execution.
type OrchestratorFunc func(ctx OrchestrationContext) (any, error)

// ActivityFunc is a stateless unit of work invoked by an orchestration.
// Activities run outside the replayed routine and may freely use real time,
// randomness and I/O. The dispatcher does not guarantee idempotency; callers
// that retry must design their activities accordingly.
type ActivityFunc func(ctx context.Context, input any) (any, error)

// Instance holds the durable record of one orchestration run.
type Instance struct {
	ID           string
	Orchestrator string
	Status       Status

	// Input is the payload passed to Start; it is replayed as the
	// orchestrator's input on every resume.
	Input any

	// Output is set once the instance completes successfully.
	Output any

	// Fault carries the failure or termination reason for FAILED and
	// TERMINATED instances.
	Fault string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InstanceFilter selects instances when listing.
// Zero values mean "no filter" for that field.
type InstanceFilter struct {
	// Orchestrator, if non-empty, limits results to instances of the
	// given orchestrator.
	Orchestrator string

	// Status, if non-empty, limits results to instances with the given status.
	Status Status
}

// RetryPolicy controls how an activity call is retried by
// OrchestrationContext.CallActivityWithRetry. MaxAttempts includes the first
// attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// Backoff between attempts is expressed through durable timers, so it is
// deterministic under replay and survives a process restart.
type RetryPolicy struct {
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. If zero, retries
	// happen immediately.
	InitialBackoff time.Duration

	// MaxBackoff caps the per-attempt delay. Zero means no cap.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay each attempt. Values <= 0 default
	// to 2.0 (standard exponential backoff).
	BackoffMultiplier float64
}
