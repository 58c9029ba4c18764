package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/durable/pkg/api"
)

// TestEntitySignalsApplyInDispatchOrder floods one entity with far more
// signals than any internal buffer holds and verifies they execute strictly
// in dispatch order.
func TestEntitySignalsApplyInDispatchOrder(t *testing.T) {
	eng, _ := newTestEngine(t)

	err := eng.RegisterEntity(api.EntityDefinition{
		Name: "ledger",
		Ops: map[string]api.EntityOp{
			"append": func(ctx api.EntityContext) error {
				var entries []int
				if state, ok := ctx.State(); ok {
					entries = state.([]int)
				}
				n, ok := ctx.Input().(int)
				if !ok {
					return fmt.Errorf("append expects an int, got %T", ctx.Input())
				}
				ctx.SetState(append(entries, n))
				return nil
			},
		},
	})
	if err != nil {
		t.Fatalf("RegisterEntity failed: %v", err)
	}

	ctx := context.Background()
	id := api.NewEntityID("ledger", "l1")

	const total = 500
	for i := 0; i < total; i++ {
		if err := eng.SignalEntity(ctx, id, "append", i); err != nil {
			t.Fatalf("SignalEntity(%d) failed: %v", i, err)
		}
	}

	var entries []int
	require.Eventually(t, func() bool {
		state, err := eng.ReadEntity(ctx, id)
		if err != nil {
			return false
		}
		entries = state.([]int)
		return len(entries) == total
	}, 10*time.Second, 10*time.Millisecond)

	for i, n := range entries {
		if n != i {
			t.Fatalf("entry %d out of order: got %d", i, n)
		}
	}
}
