package durable

import (
	"context"
	"testing"
	"time"
)

// TestLocalRuntime_AdvanceFiresTimers verifies that durable timers created
// against the virtual clock fire only when Advance crosses their due time.
func TestLocalRuntime_AdvanceFiresTimers(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rt := NewLocalRuntimeAt(start)
	defer rt.Close()

	err := rt.Engine.RegisterOrchestrator("nap", func(ctx OrchestrationContext) (any, error) {
		if err := ctx.Sleep(10 * time.Minute); err != nil {
			return nil, err
		}
		return ctx.CurrentTime(), nil
	})
	if err != nil {
		t.Fatalf("RegisterOrchestrator failed: %v", err)
	}

	ctx := context.Background()
	id, err := Start(ctx, rt.Engine, "nap", "", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	inst, err := GetStatus(ctx, rt.Engine, id)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if inst.Status != StatusRunning {
		t.Fatalf("expected RUNNING before Advance, got %s", inst.Status)
	}
	if !rt.Now().Equal(start) {
		t.Fatalf("clock moved without Advance: %v", rt.Now())
	}

	rt.Advance(10 * time.Minute)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	inst, err = WaitForCompletion(waitCtx, rt.Engine, id)
	if err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	if inst.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (fault: %s)", inst.Status, inst.Fault)
	}

	woke, ok := inst.Output.(time.Time)
	if !ok {
		t.Fatalf("expected time.Time output, got %T", inst.Output)
	}
	if !woke.Equal(start.Add(10 * time.Minute)) {
		t.Fatalf("expected wake at %v, got %v", start.Add(10*time.Minute), woke)
	}
}

// TestFacadeHelpers exercises the package-level forwarding helpers against an
// in-memory engine end to end.
func TestFacadeHelpers(t *testing.T) {
	rt := NewLocalRuntime()
	defer rt.Close()

	err := rt.Engine.RegisterOrchestrator("relay", func(ctx OrchestrationContext) (any, error) {
		return ctx.WaitForEvent("go")
	})
	if err != nil {
		t.Fatalf("RegisterOrchestrator failed: %v", err)
	}

	ctx := context.Background()
	id, err := Start(ctx, rt.Engine, "relay", "relay-1", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if id != "relay-1" {
		t.Fatalf("expected the requested instance id, got %q", id)
	}

	instances, err := ListInstances(ctx, rt.Engine, InstanceFilter{Orchestrator: "relay"})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(instances) != 1 || instances[0].ID != "relay-1" {
		t.Fatalf("unexpected listing: %+v", instances)
	}

	if err := RaiseEvent(ctx, rt.Engine, id, "go", "green"); err != nil {
		t.Fatalf("RaiseEvent failed: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	inst, err := WaitForCompletion(waitCtx, rt.Engine, id)
	if err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	if inst.Status != StatusCompleted || inst.Output != "green" {
		t.Fatalf("unexpected result: %s %v", inst.Status, inst.Output)
	}

	// Nothing was interrupted, so recovery finds no work.
	recovered, err := RecoverInstances(ctx, rt.Engine)
	if err != nil {
		t.Fatalf("RecoverInstances failed: %v", err)
	}
	if recovered != 0 {
		t.Fatalf("expected nothing to recover, got %d", recovered)
	}
}
