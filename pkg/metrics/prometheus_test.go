package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/petrijr/durable/pkg/api"
)

func TestPrometheusObserverCounts(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	obs := NewPrometheusObserver(reg)

	inst := &api.Instance{ID: "i1", Orchestrator: "orch", Status: api.StatusCompleted}
	obs.OnOrchestrationStarted(ctx, inst)
	obs.OnOrchestrationStarted(ctx, inst)
	obs.OnOrchestrationCompleted(ctx, inst)

	failed := &api.Instance{ID: "i2", Orchestrator: "orch", Status: api.StatusFailed}
	obs.OnOrchestrationFailed(ctx, failed, errors.New("boom"))

	obs.OnActivityCompleted(ctx, "i1", "work", nil, 10*time.Millisecond)
	obs.OnActivityCompleted(ctx, "i1", "work", errors.New("boom"), time.Millisecond)
	obs.OnEventRaised(ctx, "i1", "go")
	obs.OnEntityOperation(ctx, api.NewEntityID("counter", "a"), "add", nil, time.Millisecond)

	started := testutil.ToFloat64(obs.orchestrationsStarted.WithLabelValues("orch"))
	if started != 2 {
		t.Fatalf("expected 2 starts, got %v", started)
	}
	completed := testutil.ToFloat64(obs.orchestrationsEnded.WithLabelValues("orch", string(api.StatusCompleted)))
	if completed != 1 {
		t.Fatalf("expected 1 completion, got %v", completed)
	}
	ended := testutil.ToFloat64(obs.orchestrationsEnded.WithLabelValues("orch", string(api.StatusFailed)))
	if ended != 1 {
		t.Fatalf("expected 1 failure, got %v", ended)
	}
	raised := testutil.ToFloat64(obs.eventsRaised)
	if raised != 1 {
		t.Fatalf("expected 1 raised event, got %v", raised)
	}
	entityOps := testutil.ToFloat64(obs.entityOperations.WithLabelValues("counter", "add", "ok"))
	if entityOps != 1 {
		t.Fatalf("expected 1 entity operation, got %v", entityOps)
	}

	// Both outcomes land in the histogram under their own label.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "durable_activity_duration_seconds" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Fatalf("expected ok and fault series, got %d", len(mf.GetMetric()))
			}
		}
	}
	if !found {
		t.Fatalf("activity duration histogram not registered")
	}
}

func TestPrometheusObserverRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusObserver(reg)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected promauto to panic on duplicate registration")
		}
	}()
	NewPrometheusObserver(reg)
}
