package durable

import (
	"time"

	"github.com/petrijr/durable/internal/engine"
	"github.com/petrijr/durable/internal/persistence"
)

// LocalRuntime bundles an in-memory Engine with a manually advanced clock,
// for development and tests. Durable timers never fire on their own; they
// fire synchronously inside Advance, which makes timeout logic fully
// deterministic to test.
//
// Typical usage:
//
//	rt := durable.NewLocalRuntime()
//	defer rt.Close()
//
//	_ = rt.Engine.RegisterOrchestrator("flow", flow)
//	id, _ := rt.Engine.Start(ctx, "flow", "", nil)
//
//	rt.Advance(72 * time.Hour) // fire the flow's timeout
//
// LocalRuntime is intentionally not crash-durable.
type LocalRuntime struct {
	// Engine is the in-memory engine used by this runtime.
	Engine Engine

	clock *engine.VirtualTimers
}

// NewLocalRuntime constructs a LocalRuntime whose virtual clock starts at
// the current wall time.
func NewLocalRuntime() *LocalRuntime {
	return NewLocalRuntimeAt(time.Now())
}

// NewLocalRuntimeAt constructs a LocalRuntime whose virtual clock starts at
// the given instant.
func NewLocalRuntimeAt(start time.Time) *LocalRuntime {
	store := persistence.NewInMemoryStore()
	clock := engine.NewVirtualTimers(start)

	eng, err := engine.New(engine.Config{
		Persistence: persistence.Persistence{Instances: store, Entities: store},
		Timers:      clock,
	})
	if err != nil {
		// Unreachable: the config is complete by construction.
		panic(err)
	}
	return &LocalRuntime{Engine: eng, clock: clock}
}

// Now returns the current virtual time.
func (r *LocalRuntime) Now() time.Time {
	return r.clock.Now()
}

// Advance moves the virtual clock forward by d, firing every durable timer
// that comes due. Instances resumed by those timers run to their next
// suspension before Advance returns.
func (r *LocalRuntime) Advance(d time.Duration) {
	r.clock.Advance(d)
}

// Close shuts the underlying engine down.
func (r *LocalRuntime) Close() error {
	return r.Engine.Close()
}
