package durable

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/durable/internal/engine"
	"github.com/petrijr/durable/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	OrchestrationContext = api.OrchestrationContext
	OrchestratorFunc     = api.OrchestratorFunc
	ActivityFunc         = api.ActivityFunc
	Task                 = api.Task
	Instance             = api.Instance
	InstanceFilter       = api.InstanceFilter
	HistoryEvent         = api.HistoryEvent
	Status               = api.Status
	RetryPolicy          = api.RetryPolicy
	EntityID             = api.EntityID
	EntityContext        = api.EntityContext
	EntityOp             = api.EntityOp
	EntityDefinition     = api.EntityDefinition
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common helpers.

var (
	NewEntityID          = api.NewEntityID
	ParseEntityID        = api.ParseEntityID
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	RegisterPayloadType  = api.RegisterPayloadType
)

// Re-export status values for convenience.

const (
	StatusPending    = api.StatusPending
	StatusRunning    = api.StatusRunning
	StatusCompleted  = api.StatusCompleted
	StatusFailed     = api.StatusFailed
	StatusTerminated = api.StatusTerminated
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that persists instances, histories and
// entity state in a SQLite database.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// NewRedisEngine returns an Engine that persists instances in Redis under
// the given key prefix.
func NewRedisEngine(client *redis.Client, prefix string) (Engine, error) {
	return engine.NewRedisEngine(client, prefix)
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given Observer.
func NewRedisEngineWithObserver(client *redis.Client, prefix string, obs Observer) (Engine, error) {
	return engine.NewRedisEngineWithObserver(client, prefix, obs)
}

// Convenience helpers that just forward to the underlying Engine.

// Start starts an instance of a registered orchestrator. An empty instanceID
// asks the engine to generate one.
func Start(ctx context.Context, eng Engine, orchestrator, instanceID string, input any) (string, error) {
	return eng.Start(ctx, orchestrator, instanceID, input)
}

// GetStatus fetches an instance record by ID.
func GetStatus(ctx context.Context, eng Engine, instanceID string) (*Instance, error) {
	return eng.GetStatus(ctx, instanceID)
}

// ListInstances lists orchestration instances matching the filter.
func ListInstances(ctx context.Context, eng Engine, filter InstanceFilter) ([]*Instance, error) {
	return eng.ListInstances(ctx, filter)
}

// RaiseEvent delivers a named external event to a waiting instance.
func RaiseEvent(ctx context.Context, eng Engine, instanceID, eventName string, payload any) error {
	return eng.RaiseEvent(ctx, instanceID, eventName, payload)
}

// WaitForCompletion blocks until the instance reaches a terminal status or
// ctx is done.
func WaitForCompletion(ctx context.Context, eng Engine, instanceID string) (*Instance, error) {
	return eng.WaitForCompletion(ctx, instanceID)
}

// RecoverInstances delegates to eng.RecoverInstances.
//
// It is typically called on process startup before accepting any traffic:
//
//	count, err := durable.RecoverInstances(ctx, eng)
func RecoverInstances(ctx context.Context, eng Engine) (int, error) {
	return eng.RecoverInstances(ctx)
}
