package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/durable/internal/persistence"
	"github.com/petrijr/durable/pkg/api"
)

// TestReplayAcrossRestartOnSQLite restarts the engine over the same SQLite
// database while an instance is suspended. The second engine must resume the
// instance from history alone: the already-completed activity is replayed
// from its recorded result, not invoked again.
func TestReplayAcrossRestartOnSQLite(t *testing.T) {
	db, err := sql.Open("sqlite", "file:restarttest?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	var activityRuns atomic.Int64

	register := func(eng *Engine) {
		err := eng.RegisterActivity("stamp", func(_ context.Context, input any) (any, error) {
			activityRuns.Add(1)
			return fmt.Sprintf("stamped %v", input), nil
		})
		if err != nil {
			t.Fatalf("RegisterActivity failed: %v", err)
		}
		err = eng.RegisterOrchestrator("ticket", func(ctx api.OrchestrationContext) (any, error) {
			stamped, err := ctx.CallActivity("stamp", ctx.Input())
			if err != nil {
				return nil, err
			}
			approval, err := ctx.WaitForEvent("resume")
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("%v / %v", stamped, approval), nil
		})
		if err != nil {
			t.Fatalf("RegisterOrchestrator failed: %v", err)
		}
	}

	newEngine := func() *Engine {
		store, err := persistence.NewSQLiteStore(db)
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		eng, err := New(Config{
			Persistence: persistence.Persistence{Instances: store, Entities: store},
			Timers:      NewVirtualTimers(testEpoch),
			Logger:      slog.New(slog.DiscardHandler),
		})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		register(eng)
		return eng
	}

	ctx := context.Background()

	eng1 := newEngine()
	id, err := eng1.Start(ctx, "ticket", "ticket-1", "form A38")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The activity completes and the instance parks on the external event.
	require.Eventually(t, func() bool {
		history, err := eng1.GetHistory(ctx, id)
		if err != nil {
			return false
		}
		for _, ev := range history {
			if ev.Type == api.EventActivityCompleted {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	eng1.Close()

	eng2 := newEngine()
	defer eng2.Close()

	// Nothing was in flight at shutdown, so recovery has no work.
	recovered, err := eng2.RecoverInstances(ctx)
	if err != nil {
		t.Fatalf("RecoverInstances failed: %v", err)
	}
	if recovered != 0 {
		t.Fatalf("expected nothing to recover, got %d", recovered)
	}

	if err := eng2.RaiseEvent(ctx, id, "resume", "approved"); err != nil {
		t.Fatalf("RaiseEvent failed: %v", err)
	}

	inst := waitTerminal(t, eng2, id)
	if inst.Status != api.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (fault: %s)", inst.Status, inst.Fault)
	}
	if inst.Output != "stamped form A38 / approved" {
		t.Fatalf("unexpected output: %v", inst.Output)
	}
	if runs := activityRuns.Load(); runs != 1 {
		t.Fatalf("activity must not re-run on replay, ran %d times", runs)
	}
}
