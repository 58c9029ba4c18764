package persistence

import (
	"sync"

	"github.com/petrijr/durable/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of InstanceStore and
// EntityStateStore backed by maps. It is not durable; use it for tests and
// local development.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[string]api.Instance
	histories map[string][]api.HistoryEvent
	entities  map[string]any
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[string]api.Instance),
		histories: make(map[string][]api.HistoryEvent),
		entities:  make(map[string]any),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ InstanceStore = (*InMemoryStore)(nil)

var _ EntityStateStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) CreateInstance(inst *api.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; ok {
		return ErrInstanceExists
	}
	s.instances[inst.ID] = *inst
	return nil
}

func (s *InMemoryStore) UpdateInstance(inst *api.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; !ok {
		return ErrInstanceNotFound
	}
	s.instances[inst.ID] = *inst
	return nil
}

func (s *InMemoryStore) GetInstance(id string) (*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	copied := inst
	return &copied, nil
}

func (s *InMemoryStore) ListInstances(filter api.InstanceFilter) ([]*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Instance
	for _, inst := range s.instances {
		if filter.Orchestrator != "" && inst.Orchestrator != filter.Orchestrator {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		copied := inst
		result = append(result, &copied)
	}
	return result, nil
}

func (s *InMemoryStore) AppendEvent(instanceID string, ev *api.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[instanceID]; !ok {
		return ErrInstanceNotFound
	}
	ev.Sequence = int64(len(s.histories[instanceID]) + 1)
	s.histories[instanceID] = append(s.histories[instanceID], *ev)
	return nil
}

func (s *InMemoryStore) GetHistory(instanceID string) ([]api.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.instances[instanceID]; !ok {
		return nil, ErrInstanceNotFound
	}
	history := s.histories[instanceID]
	out := make([]api.HistoryEvent, len(history))
	copy(out, history)
	return out, nil
}

func (s *InMemoryStore) SaveEntityState(id string, state any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities[id] = state
	return nil
}

func (s *InMemoryStore) GetEntityState(id string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.entities[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return state, nil
}

func (s *InMemoryStore) DeleteEntityState(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entities, id)
	return nil
}
