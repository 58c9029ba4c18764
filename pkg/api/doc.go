// Package api defines the public types of the durable orchestration engine:
// the Engine interface, the OrchestrationContext handed to orchestrator code,
// entity definitions, the history event model, the error taxonomy and the
// Observer hooks.
//
// Most users import the root durable package, which re-exports everything
// here; this package exists so the engine implementation and persistence
// backends under internal/ can share types without cycles.
package api
