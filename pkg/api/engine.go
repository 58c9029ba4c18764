package api

import "context"

// Engine is the durable orchestration engine API. One engine owns a set of
// registered orchestrators, activities and entities, an instance store and an
// entity state store. Multiple instances run concurrently; each individual
// instance is resumed by at most one goroutine at a time.
type Engine interface {
	// RegisterOrchestrator registers orchestrator code under a name.
	RegisterOrchestrator(name string, fn OrchestratorFunc) error

	// RegisterActivity registers an activity function under a name.
	RegisterActivity(name string, fn ActivityFunc) error

	// RegisterEntity registers an entity type with its operation table.
	// The definition is validated here, not at call time.
	RegisterEntity(def EntityDefinition) error

	// Start creates an instance of the named orchestrator and runs it until
	// its first suspension or completion. If instanceID is empty a fresh ID
	// is generated. Reusing the ID of an existing instance returns a
	// ConflictError, whether or not that instance is still active: history
	// is retained for audit and never overwritten.
	Start(ctx context.Context, orchestrator, instanceID string, input any) (string, error)

	// GetStatus returns the instance record for a status query.
	GetStatus(ctx context.Context, instanceID string) (*Instance, error)

	// GetHistory returns the instance's ordered history.
	GetHistory(ctx context.Context, instanceID string) ([]HistoryEvent, error)

	// ListInstances returns instances matching the filter.
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error)

	// RaiseEvent delivers a named external event to an instance. Events
	// raised before the orchestrator awaits them are buffered FIFO per name.
	RaiseEvent(ctx context.Context, instanceID, eventName string, payload any) error

	// Terminate forcibly moves a non-terminal instance to TERMINATED and
	// cancels its pending timers. In-flight activities cannot be aborted;
	// their late completions are dropped.
	Terminate(ctx context.Context, instanceID, reason string) error

	// SignalEntity sends a one-way operation to an entity, creating it on
	// first use. Delivery is at-most-once: a signal accepted just before a
	// crash may be lost, and is never redelivered by RecoverInstances.
	SignalEntity(ctx context.Context, id EntityID, operation string, input any) error

	// ReadEntity returns a snapshot of an entity's state document.
	ReadEntity(ctx context.Context, id EntityID) (any, error)

	// WaitForCompletion blocks until the instance reaches a terminal status
	// or ctx is done, and returns the final instance record.
	WaitForCompletion(ctx context.Context, instanceID string) (*Instance, error)

	// RecoverInstances rescans non-terminal instances after a process
	// restart, re-arms their unfired timers and re-dispatches unfinished
	// activity and entity work derived from history. It returns the number
	// of instances touched and is intended to run on startup before any
	// new work is accepted.
	RecoverInstances(ctx context.Context) (int, error)

	// Close stops the dispatcher workers, entity workers and timer service.
	Close() error
}
