package engine

import (
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/durable/internal/persistence"
	"github.com/petrijr/durable/pkg/api"
)

// Convenience constructors for the common backend choices. They mirror the
// persistence backends one to one; anything fancier should use New with an
// explicit Config.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() *Engine {
	return NewInMemoryEngineWithObserver(nil)
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given
// Observer.
func NewInMemoryEngineWithObserver(obs api.Observer) *Engine {
	store := persistence.NewInMemoryStore()
	eng, err := New(Config{
		Persistence: persistence.Persistence{Instances: store, Entities: store},
		Observer:    obs,
	})
	if err != nil {
		// Unreachable: the config is complete by construction.
		panic(err)
	}
	return eng
}

// NewSQLiteEngine returns an Engine that persists instances, histories and
// entity state in a SQLite database.
func NewSQLiteEngine(db *sql.DB) (*Engine, error) {
	return NewSQLiteEngineWithObserver(db, nil)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given
// Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (*Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return New(Config{
		Persistence: persistence.Persistence{Instances: store, Entities: store},
		Observer:    obs,
	})
}

// NewRedisEngine returns an Engine that persists instances, histories and
// entity state in Redis under the given key prefix.
func NewRedisEngine(client *redis.Client, prefix string) (*Engine, error) {
	return NewRedisEngineWithObserver(client, prefix, nil)
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given
// Observer.
func NewRedisEngineWithObserver(client *redis.Client, prefix string, obs api.Observer) (*Engine, error) {
	store := persistence.NewRedisStore(client, prefix)
	return New(Config{
		Persistence: persistence.Persistence{Instances: store, Entities: store},
		Observer:    obs,
	})
}
