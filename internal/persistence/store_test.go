package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/petrijr/durable/pkg/api"
)

var sqliteDBSeq atomic.Int64

// openTestSQLite opens a fresh shared in-memory SQLite database.
func openTestSQLite(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:storetest%d?mode=memory&cache=shared", sqliteDBSeq.Add(1))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type storePair struct {
	instances InstanceStore
	entities  EntityStateStore
}

// forEachBackend runs the conformance test against every embedded backend.
// The Redis store shares the same interface but needs a live server, so it
// is exercised separately in integration environments.
func forEachBackend(t *testing.T, test func(t *testing.T, s storePair)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		s := NewInMemoryStore()
		test(t, storePair{instances: s, entities: s})
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(openTestSQLite(t))
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		test(t, storePair{instances: s, entities: s})
	})
}

func testInstance(id string) *api.Instance {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	return &api.Instance{
		ID:           id,
		Orchestrator: "orch",
		Status:       api.StatusPending,
		Input:        map[string]any{"n": "v"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestInstanceLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s storePair) {
		if err := s.instances.CreateInstance(testInstance("i1")); err != nil {
			t.Fatalf("CreateInstance failed: %v", err)
		}
		if err := s.instances.CreateInstance(testInstance("i1")); !errors.Is(err, ErrInstanceExists) {
			t.Fatalf("expected ErrInstanceExists, got %v", err)
		}

		got, err := s.instances.GetInstance("i1")
		if err != nil {
			t.Fatalf("GetInstance failed: %v", err)
		}
		if got.Orchestrator != "orch" || got.Status != api.StatusPending {
			t.Fatalf("unexpected instance: %+v", got)
		}
		input, ok := got.Input.(map[string]any)
		if !ok || input["n"] != "v" {
			t.Fatalf("input did not round-trip: %#v", got.Input)
		}

		got.Status = api.StatusCompleted
		got.Output = "done"
		if err := s.instances.UpdateInstance(got); err != nil {
			t.Fatalf("UpdateInstance failed: %v", err)
		}
		got, err = s.instances.GetInstance("i1")
		if err != nil {
			t.Fatalf("GetInstance failed: %v", err)
		}
		if got.Status != api.StatusCompleted || got.Output != "done" {
			t.Fatalf("update did not stick: %+v", got)
		}

		if _, err := s.instances.GetInstance("nope"); !errors.Is(err, ErrInstanceNotFound) {
			t.Fatalf("expected ErrInstanceNotFound, got %v", err)
		}
		if err := s.instances.UpdateInstance(testInstance("nope")); !errors.Is(err, ErrInstanceNotFound) {
			t.Fatalf("expected ErrInstanceNotFound on update, got %v", err)
		}
	})
}

func TestListInstancesFiltering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s storePair) {
		a := testInstance("a")
		a.Orchestrator = "alpha"
		a.Status = api.StatusRunning
		b := testInstance("b")
		b.Orchestrator = "alpha"
		b.Status = api.StatusCompleted
		c := testInstance("c")
		c.Orchestrator = "beta"
		c.Status = api.StatusRunning

		for _, inst := range []*api.Instance{a, b, c} {
			if err := s.instances.CreateInstance(inst); err != nil {
				t.Fatalf("CreateInstance failed: %v", err)
			}
		}

		all, err := s.instances.ListInstances(api.InstanceFilter{})
		if err != nil {
			t.Fatalf("ListInstances failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 instances, got %d", len(all))
		}

		alphas, err := s.instances.ListInstances(api.InstanceFilter{Orchestrator: "alpha"})
		if err != nil {
			t.Fatalf("ListInstances failed: %v", err)
		}
		if len(alphas) != 2 {
			t.Fatalf("expected 2 alpha instances, got %d", len(alphas))
		}

		running, err := s.instances.ListInstances(api.InstanceFilter{Orchestrator: "alpha", Status: api.StatusRunning})
		if err != nil {
			t.Fatalf("ListInstances failed: %v", err)
		}
		if len(running) != 1 || running[0].ID != "a" {
			t.Fatalf("expected only instance a, got %+v", running)
		}
	})
}

func TestHistoryAppendOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s storePair) {
		if err := s.instances.CreateInstance(testInstance("i1")); err != nil {
			t.Fatalf("CreateInstance failed: %v", err)
		}

		at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
		events := []*api.HistoryEvent{
			{TaskID: -1, Type: api.EventOrchestrationStarted, At: at, Name: "orch"},
			{TaskID: 0, Type: api.EventActivityScheduled, At: at, Name: "work", Payload: "in"},
			{TaskID: 0, Type: api.EventActivityCompleted, At: at.Add(time.Second), Name: "work", Payload: "out"},
		}

		var lastSeq int64
		for _, ev := range events {
			if err := s.instances.AppendEvent("i1", ev); err != nil {
				t.Fatalf("AppendEvent failed: %v", err)
			}
			if ev.Sequence <= lastSeq {
				t.Fatalf("sequence not monotonically increasing: %d after %d", ev.Sequence, lastSeq)
			}
			lastSeq = ev.Sequence
		}

		history, err := s.instances.GetHistory("i1")
		if err != nil {
			t.Fatalf("GetHistory failed: %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("expected 3 events, got %d", len(history))
		}
		if history[1].Type != api.EventActivityScheduled || history[1].Payload != "in" {
			t.Fatalf("event did not round-trip: %+v", history[1])
		}
		if history[2].TaskID != 0 || history[2].Payload != "out" {
			t.Fatalf("completion did not round-trip: %+v", history[2])
		}
		if !history[2].At.Equal(at.Add(time.Second)) {
			t.Fatalf("timestamp did not round-trip: %v", history[2].At)
		}

		if err := s.instances.AppendEvent("nope", &api.HistoryEvent{Type: api.EventTimerFired}); !errors.Is(err, ErrInstanceNotFound) {
			t.Fatalf("expected ErrInstanceNotFound, got %v", err)
		}
		if _, err := s.instances.GetHistory("nope"); !errors.Is(err, ErrInstanceNotFound) {
			t.Fatalf("expected ErrInstanceNotFound, got %v", err)
		}
	})
}

func TestTimerEventKeepsFireAt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s storePair) {
		if err := s.instances.CreateInstance(testInstance("i1")); err != nil {
			t.Fatalf("CreateInstance failed: %v", err)
		}

		fireAt := time.Date(2026, 3, 7, 5, 6, 7, 123456789, time.UTC)
		ev := &api.HistoryEvent{TaskID: 1, Type: api.EventTimerCreated, At: fireAt.Add(-72 * time.Hour), FireAt: fireAt}
		if err := s.instances.AppendEvent("i1", ev); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}

		history, err := s.instances.GetHistory("i1")
		if err != nil {
			t.Fatalf("GetHistory failed: %v", err)
		}
		if !history[0].FireAt.Equal(fireAt) {
			t.Fatalf("FireAt did not round-trip: want %v, got %v", fireAt, history[0].FireAt)
		}
	})
}

func TestEntityStateStore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s storePair) {
		if _, err := s.entities.GetEntityState("counter@a"); !errors.Is(err, ErrEntityNotFound) {
			t.Fatalf("expected ErrEntityNotFound, got %v", err)
		}

		if err := s.entities.SaveEntityState("counter@a", 41); err != nil {
			t.Fatalf("SaveEntityState failed: %v", err)
		}
		if err := s.entities.SaveEntityState("counter@a", 42); err != nil {
			t.Fatalf("SaveEntityState upsert failed: %v", err)
		}

		state, err := s.entities.GetEntityState("counter@a")
		if err != nil {
			t.Fatalf("GetEntityState failed: %v", err)
		}
		if state != 42 {
			t.Fatalf("expected 42, got %v", state)
		}

		if err := s.entities.DeleteEntityState("counter@a"); err != nil {
			t.Fatalf("DeleteEntityState failed: %v", err)
		}
		if _, err := s.entities.GetEntityState("counter@a"); !errors.Is(err, ErrEntityNotFound) {
			t.Fatalf("expected ErrEntityNotFound after delete, got %v", err)
		}

		// Deleting a missing entity is not an error.
		if err := s.entities.DeleteEntityState("counter@missing"); err != nil {
			t.Fatalf("DeleteEntityState on missing entity failed: %v", err)
		}
	})
}
