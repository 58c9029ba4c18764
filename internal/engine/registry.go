package engine

import (
	"sync"

	"github.com/petrijr/durable/pkg/api"
)

// registry holds the named code an engine can execute. All validation happens
// at registration time so dispatch can assume well-formed entries.
type registry struct {
	mu            sync.RWMutex
	orchestrators map[string]api.OrchestratorFunc
	activities    map[string]api.ActivityFunc
	entities      map[string]api.EntityDefinition
}

func newRegistry() *registry {
	return &registry{
		orchestrators: make(map[string]api.OrchestratorFunc),
		activities:    make(map[string]api.ActivityFunc),
		entities:      make(map[string]api.EntityDefinition),
	}
}

func (r *registry) registerOrchestrator(name string, fn api.OrchestratorFunc) error {
	if name == "" {
		return api.NewValidationError("orchestrator name is required")
	}
	if fn == nil {
		return api.NewValidationError("orchestrator %q has a nil function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orchestrators[name]; ok {
		return api.NewValidationError("orchestrator %q is already registered", name)
	}
	r.orchestrators[name] = fn
	return nil
}

func (r *registry) registerActivity(name string, fn api.ActivityFunc) error {
	if name == "" {
		return api.NewValidationError("activity name is required")
	}
	if fn == nil {
		return api.NewValidationError("activity %q has a nil function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.activities[name]; ok {
		return api.NewValidationError("activity %q is already registered", name)
	}
	r.activities[name] = fn
	return nil
}

func (r *registry) registerEntity(def api.EntityDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[def.Name]; ok {
		return api.NewValidationError("entity %q is already registered", def.Name)
	}
	r.entities[def.Name] = def
	return nil
}

func (r *registry) orchestrator(name string) (api.OrchestratorFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.orchestrators[name]
	return fn, ok
}

func (r *registry) activity(name string) (api.ActivityFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.activities[name]
	return fn, ok
}

func (r *registry) entity(name string) (api.EntityDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.entities[name]
	return def, ok
}

func (r *registry) entityOp(entityType, operation string) (api.EntityOp, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.entities[entityType]
	if !ok {
		return nil, false
	}
	op, ok := def.Ops[operation]
	return op, ok
}
