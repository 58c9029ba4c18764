// Package durable provides an embeddable durable orchestration engine for Go.
//
// Durable is designed for backend services that need long-running,
// crash-resilient workflows: multi-step sagas, human approval flows,
// scheduled monitors, or stateful aggregators. Orchestrations are plain Go
// functions; the engine records everything they do in an append-only history
// and re-executes them from that history after every suspension or process
// restart, so an orchestration can sleep for days and still pick up exactly
// where it left off.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine
//  2. Orchestrator
//  3. Activity
//  4. Entity
//  5. LocalRuntime
//
// # Engine
//
// The Engine owns registered code, instance records, histories and entity
// state. It provides APIs to:
//   - start orchestration instances
//   - query status and history
//   - raise external events at waiting instances
//   - terminate instances
//   - signal and read entities
//   - recover in-flight instances after a restart
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Redis
//
// # Orchestrator
//
// An orchestrator is a deterministic Go function:
//
//	func(ctx durable.OrchestrationContext) (any, error)
//
// It sequences work by calling activities, creating durable timers, waiting
// for external events and calling entities, all through its context. Because
// every decision is recorded, orchestrator code must not read the wall
// clock, generate random values or perform I/O directly; the context
// provides deterministic replacements (CurrentTime, NewGUID, activities).
//
// Tasks can be composed:
//
//	results, err := ctx.WhenAll(t1, t2, t3)   // fan-out / fan-in
//	winner, err := ctx.WhenAny(approval, timeout)
//
// # Activity
//
// An activity is an ordinary Go function where side effects belong:
//
//	func(ctx context.Context, input any) (any, error)
//
// Activities run on a worker pool outside replay and may freely use time,
// randomness and I/O. A failed activity becomes a recorded fault that the
// orchestrator can handle, for example with CallActivityWithRetry.
//
// # Entity
//
// Entities are addressable, stateful objects (think tiny durable actors).
// Each entity identity processes one operation at a time, which makes
// read-modify-write aggregation safe without locks:
//
//	counter := durable.NewEntityID("counter", "visits")
//	_ = eng.SignalEntity(ctx, counter, "add", 1)
//
// # LocalRuntime
//
// LocalRuntime bundles an in-memory engine with a manually advanced clock
// for tests and local development: timers fire when the test says so, not
// when the wall clock does.
//
// For examples, see the /examples directory or the project README.
package durable
