package patterns

import (
	"context"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/durable/internal/engine"
	"github.com/petrijr/durable/internal/persistence"
	"github.com/petrijr/durable/pkg/api"
)

var patternEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newPatternEngine(t *testing.T) (*engine.Engine, *engine.VirtualTimers) {
	t.Helper()

	store := persistence.NewInMemoryStore()
	clock := engine.NewVirtualTimers(patternEpoch)
	eng, err := engine.New(engine.Config{
		Persistence: persistence.Persistence{Instances: store, Entities: store},
		Timers:      clock,
		Logger:      slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := Register(eng); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng, clock
}

// waitForTimers blocks until the instance has created at least n durable
// timers. Pattern orchestrators run an activity before parking on a timer,
// so the clock must not be advanced until the timer actually exists.
func waitForTimers(t *testing.T, eng *engine.Engine, id string, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		history, err := eng.GetHistory(context.Background(), id)
		if err != nil {
			return false
		}
		created := 0
		for _, ev := range history {
			if ev.Type == api.EventTimerCreated {
				created++
			}
		}
		return created >= n
	}, 2*time.Second, 10*time.Millisecond)
}

func waitDone(t *testing.T, eng *engine.Engine, id string) *api.Instance {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inst, err := eng.WaitForCompletion(ctx, id)
	if err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	return inst
}

func TestHelloSequence(t *testing.T) {
	eng, _ := newPatternEngine(t)

	id, err := eng.Start(context.Background(), HelloSequence, "", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	inst := waitDone(t, eng, id)
	if inst.Status != api.StatusCompleted {
		t.Fatalf("expected completion, got %s (%s)", inst.Status, inst.Fault)
	}
	want := []string{"Hello Tokyo!", "Hello Seattle!", "Hello London!"}
	if !reflect.DeepEqual(inst.Output, want) {
		t.Fatalf("expected %v, got %v", want, inst.Output)
	}
}

func TestFanOutFanInGathersInCallOrder(t *testing.T) {
	eng, _ := newPatternEngine(t)

	id, err := eng.Start(context.Background(), FanOutFanIn, "", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	inst := waitDone(t, eng, id)
	if inst.Status != api.StatusCompleted {
		t.Fatalf("expected completion, got %s (%s)", inst.Status, inst.Fault)
	}
	want := []string{"Hello Tokyo!", "Hello Delhi!", "Hello London!"}
	if !reflect.DeepEqual(inst.Output, want) {
		t.Fatalf("expected %v, got %v", want, inst.Output)
	}
}

func TestApprovalDecisionWins(t *testing.T) {
	eng, _ := newPatternEngine(t)
	ctx := context.Background()

	id, err := eng.Start(ctx, Approval, "", ApprovalRequest{Subject: "purchase order 42"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	decision := ApprovalDecision{Approved: true, Approver: "sam"}
	if err := eng.RaiseEvent(ctx, id, ApprovalEventName, decision); err != nil {
		t.Fatalf("RaiseEvent failed: %v", err)
	}

	inst := waitDone(t, eng, id)
	if inst.Status != api.StatusCompleted {
		t.Fatalf("expected completion, got %s (%s)", inst.Status, inst.Fault)
	}
	if inst.Output != "approved by sam" {
		t.Fatalf("unexpected output: %v", inst.Output)
	}
}

func TestApprovalTimeoutEscalates(t *testing.T) {
	eng, clock := newPatternEngine(t)

	id, err := eng.Start(context.Background(), Approval, "", ApprovalRequest{Subject: "purchase order 43"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForTimers(t, eng, id, 1)
	clock.Advance(DefaultApprovalTimeout)

	inst := waitDone(t, eng, id)
	if inst.Status != api.StatusCompleted {
		t.Fatalf("expected completion, got %s (%s)", inst.Status, inst.Fault)
	}
	if inst.Output != "escalated: no decision for purchase order 43" {
		t.Fatalf("unexpected output: %v", inst.Output)
	}
}

func TestMonitorJobSeesCompletion(t *testing.T) {
	eng, clock := newPatternEngine(t)
	ctx := context.Background()

	id, err := eng.Start(ctx, MonitorJob, "", MonitorRequest{JobID: "job-1", PollInterval: 5 * time.Second})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The first poll must observe a pending job and park on a timer before
	// the entity flips to Completed, or there is no second poll to resume.
	waitForTimers(t, eng, id, 1)
	inst, err := eng.GetStatus(ctx, id)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if inst.Status != api.StatusRunning {
		t.Fatalf("expected RUNNING between polls, got %s", inst.Status)
	}

	jobID := api.NewEntityID(JobEntity, "job-1")
	if err := eng.SignalEntity(ctx, jobID, "set", "Completed"); err != nil {
		t.Fatalf("SignalEntity failed: %v", err)
	}
	require.Eventually(t, func() bool {
		state, err := eng.ReadEntity(ctx, jobID)
		return err == nil && state == "Completed"
	}, 2*time.Second, 10*time.Millisecond)

	clock.Advance(5 * time.Second)

	inst = waitDone(t, eng, id)
	if inst.Status != api.StatusCompleted {
		t.Fatalf("expected completion, got %s (%s)", inst.Status, inst.Fault)
	}
	if inst.Output != "Completed" {
		t.Fatalf("unexpected output: %v", inst.Output)
	}
}

func TestMonitorJobExpires(t *testing.T) {
	eng, clock := newPatternEngine(t)

	id, err := eng.Start(context.Background(), MonitorJob, "", MonitorRequest{
		JobID:        "job-2",
		PollInterval: 5 * time.Second,
		Expiry:       10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Each poll ends parked on a timer; fire them one by one.
	waitForTimers(t, eng, id, 1)
	clock.Advance(5 * time.Second)
	waitForTimers(t, eng, id, 2)
	clock.Advance(5 * time.Second)

	inst := waitDone(t, eng, id)
	if inst.Status != api.StatusCompleted {
		t.Fatalf("expected completion, got %s (%s)", inst.Status, inst.Fault)
	}
	if inst.Output != "Expired" {
		t.Fatalf("unexpected output: %v", inst.Output)
	}
}

func TestCounterRunIncrementsAndReads(t *testing.T) {
	eng, _ := newPatternEngine(t)
	ctx := context.Background()

	counterID := api.NewEntityID(CounterEntity, "visits")
	if err := eng.SignalEntity(ctx, counterID, "add", 5); err != nil {
		t.Fatalf("SignalEntity failed: %v", err)
	}
	require.Eventually(t, func() bool {
		state, err := eng.ReadEntity(ctx, counterID)
		return err == nil && state == 5
	}, 2*time.Second, 10*time.Millisecond)

	id, err := eng.Start(ctx, CounterRun, "", "visits")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	inst := waitDone(t, eng, id)
	if inst.Status != api.StatusCompleted {
		t.Fatalf("expected completion, got %s (%s)", inst.Status, inst.Fault)
	}
	if inst.Output != 6 {
		t.Fatalf("expected 6, got %v", inst.Output)
	}
}

func TestCounterResetAndDelete(t *testing.T) {
	eng, _ := newPatternEngine(t)
	ctx := context.Background()

	id := api.NewEntityID(CounterEntity, "sessions")
	if err := eng.SignalEntity(ctx, id, "add", 3); err != nil {
		t.Fatalf("SignalEntity failed: %v", err)
	}
	require.Eventually(t, func() bool {
		state, err := eng.ReadEntity(ctx, id)
		return err == nil && state == 3
	}, 2*time.Second, 10*time.Millisecond)

	if err := eng.SignalEntity(ctx, id, "reset", nil); err != nil {
		t.Fatalf("SignalEntity failed: %v", err)
	}
	require.Eventually(t, func() bool {
		state, err := eng.ReadEntity(ctx, id)
		return err == nil && state == 0
	}, 2*time.Second, 10*time.Millisecond)

	if err := eng.SignalEntity(ctx, id, "delete", nil); err != nil {
		t.Fatalf("SignalEntity failed: %v", err)
	}
	require.Eventually(t, func() bool {
		_, err := eng.ReadEntity(ctx, id)
		return api.IsNotFound(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegisterTwiceFails(t *testing.T) {
	eng, _ := newPatternEngine(t)
	if err := Register(eng); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
