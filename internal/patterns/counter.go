package patterns

import (
	"fmt"

	"github.com/petrijr/durable/pkg/api"
)

// registerCounter wires the aggregator pattern: a counter entity that
// serializes adds from any number of concurrent clients, plus a small
// orchestrator exercising the call path.
func registerCounter(eng api.Engine) error {
	if err := eng.RegisterEntity(api.EntityDefinition{
		Name: CounterEntity,
		Ops: map[string]api.EntityOp{
			"add":    counterAdd,
			"reset":  counterReset,
			"get":    counterGet,
			"delete": counterDelete,
		},
	}); err != nil {
		return err
	}
	return eng.RegisterOrchestrator(CounterRun, counterRun)
}

func counterAdd(ctx api.EntityContext) error {
	amount, ok := toInt(ctx.Input())
	if !ok {
		return fmt.Errorf("add expects an integer amount, got %T", ctx.Input())
	}

	current := 0
	if state, ok := ctx.State(); ok {
		current, _ = toInt(state)
	}
	ctx.SetState(current + amount)
	ctx.Return(current + amount)
	return nil
}

func counterReset(ctx api.EntityContext) error {
	ctx.SetState(0)
	return nil
}

func counterGet(ctx api.EntityContext) error {
	current := 0
	if state, ok := ctx.State(); ok {
		current, _ = toInt(state)
	}
	ctx.Return(current)
	return nil
}

func counterDelete(ctx api.EntityContext) error {
	ctx.DeleteState()
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// counterRun increments a counter entity and reads it back through the
// two-way call path. Input is the counter key.
func counterRun(ctx api.OrchestrationContext) (any, error) {
	key, ok := ctx.Input().(string)
	if !ok || key == "" {
		key = "default"
	}
	id := api.NewEntityID(CounterEntity, key)

	if _, err := ctx.CallEntity(id, "add", 1); err != nil {
		return nil, err
	}
	return ctx.CallEntity(id, "get", nil)
}
