package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petrijr/durable/internal/config"
	"github.com/petrijr/durable/pkg/api"
)

// TestOpenEngineHonorsActivityWorkers pins the configured worker pool size to
// the engine: with one worker, two fanned-out activities must never overlap.
func TestOpenEngineHonorsActivityWorkers(t *testing.T) {
	cfg := config.Default()
	cfg.ActivityWorkers = 1

	eng, cleanup, err := openEngine(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("openEngine failed: %v", err)
	}
	defer cleanup()

	var running, maxRunning atomic.Int64
	err = eng.RegisterActivity("probe-load", func(_ context.Context, _ any) (any, error) {
		cur := running.Add(1)
		defer running.Add(-1)
		for {
			seen := maxRunning.Load()
			if cur <= seen || maxRunning.CompareAndSwap(seen, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("RegisterActivity failed: %v", err)
	}
	err = eng.RegisterOrchestrator("fan", func(ctx api.OrchestrationContext) (any, error) {
		a := ctx.ScheduleActivity("probe-load", nil)
		b := ctx.ScheduleActivity("probe-load", nil)
		_, err := ctx.WhenAll(a, b)
		return nil, err
	})
	if err != nil {
		t.Fatalf("RegisterOrchestrator failed: %v", err)
	}

	ctx := context.Background()
	id, err := eng.Start(ctx, "fan", "", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	inst, err := eng.WaitForCompletion(waitCtx, id)
	if err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	if inst.Status != api.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (fault: %s)", inst.Status, inst.Fault)
	}
	if got := maxRunning.Load(); got != 1 {
		t.Fatalf("expected a single worker, saw %d activities running at once", got)
	}
}

func TestOpenEngineRejectsUnknownStorage(t *testing.T) {
	cfg := config.Default()
	cfg.Storage = "etcd"

	if _, _, err := openEngine(cfg, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatalf("expected an error for an unknown backend")
	}
}
