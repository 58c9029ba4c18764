package persistence

import (
	"errors"

	"github.com/petrijr/durable/pkg/api"
)

var (
	// ErrInstanceNotFound is returned when an orchestration instance is not found.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceExists is returned when creating an instance whose ID is
	// already in use.
	ErrInstanceExists = errors.New("instance already exists")

	// ErrEntityNotFound is returned when an entity has no state document.
	ErrEntityNotFound = errors.New("entity not found")
)

// InstanceStore is the durable record of orchestration instances and their
// append-only histories. This is the persistence boundary that makes replay
// meaningful: everything the engine needs to resume an instance after a
// process restart lives here.
type InstanceStore interface {
	// CreateInstance persists a new instance. It returns ErrInstanceExists
	// if the ID is already in use.
	CreateInstance(inst *api.Instance) error

	// UpdateInstance overwrites the instance record.
	UpdateInstance(inst *api.Instance) error

	// GetInstance returns the instance record.
	GetInstance(id string) (*api.Instance, error)

	// ListInstances returns instances matching the filter.
	ListInstances(filter api.InstanceFilter) ([]*api.Instance, error)

	// AppendEvent appends one history event and assigns ev.Sequence.
	AppendEvent(instanceID string, ev *api.HistoryEvent) error

	// GetHistory returns the instance history in append order.
	GetHistory(instanceID string) ([]api.HistoryEvent, error)
}

// EntityStateStore is the durable keyed store for entity state documents.
type EntityStateStore interface {
	// SaveEntityState upserts the state document for an entity.
	SaveEntityState(id string, state any) error

	// GetEntityState returns the state document, or ErrEntityNotFound.
	GetEntityState(id string) (any, error)

	// DeleteEntityState removes the state document. Deleting a missing
	// entity is not an error.
	DeleteEntityState(id string) error
}

// Persistence bundles the stores an engine needs.
type Persistence struct {
	Instances InstanceStore
	Entities  EntityStateStore
}
