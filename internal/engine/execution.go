package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/durable/pkg/api"
)

// suspendSignal unwinds the orchestrator goroutine when it awaits an
// operation whose completion is not yet in history. The executor recovers it
// and reports the episode as suspended.
type suspendSignal struct{}

// replayPanic unwinds the orchestrator goroutine when re-execution diverges
// from the recorded history.
type replayPanic struct {
	err *api.ReplayMismatchError
}

type episodeOutcome int

const (
	episodeSuspended episodeOutcome = iota
	episodeCompleted
	episodeFailed
	episodeMismatch
)

type episodeResult struct {
	outcome episodeOutcome
	output  any
	err     error
}

// execution is one replay pass over an instance: the orchestrator function
// runs from the top against the recorded history, consuming recorded answers
// until it either finishes or reaches an operation with no completion yet.
// It implements api.OrchestrationContext.
type execution struct {
	instanceID string
	input      any
	history    []api.HistoryEvent

	// newEvents collects scheduling events first recorded in this episode.
	// Only these produce side effects; everything found in history has been
	// dispatched before.
	newEvents []*api.HistoryEvent

	nextTaskID int
	eventWaits map[string]int
	guidSeq    int
	guidSpace  uuid.UUID
	now        time.Time
	replaying  bool
	lastSeq    int64

	logger    *slog.Logger
	nopLogger *slog.Logger
}

var _ api.OrchestrationContext = (*execution)(nil)

func newExecution(instanceID string, input any, history []api.HistoryEvent, logger *slog.Logger) *execution {
	x := &execution{
		instanceID: instanceID,
		input:      input,
		history:    history,
		eventWaits: make(map[string]int),
		guidSpace:  uuid.NewSHA1(uuid.NameSpaceOID, []byte(instanceID)),
		logger:     logger.With(slog.String("instance_id", instanceID)),
		nopLogger:  slog.New(slog.DiscardHandler),
	}

	// Virtual time starts at the recorded start of the orchestration and
	// advances only as completions are consumed.
	for i := range history {
		if history[i].Type == api.EventOrchestrationStarted {
			x.now = history[i].At
			break
		}
	}

	if len(history) > 1 {
		x.replaying = true
		x.lastSeq = history[len(history)-1].Sequence
	}
	return x
}

// run executes the orchestrator function for one episode.
func (x *execution) run(fn api.OrchestratorFunc) (res episodeResult) {
	defer func() {
		if r := recover(); r != nil {
			switch p := r.(type) {
			case suspendSignal:
				res = episodeResult{outcome: episodeSuspended}
			case replayPanic:
				res = episodeResult{outcome: episodeMismatch, err: p.err}
			default:
				res = episodeResult{outcome: episodeFailed, err: fmt.Errorf("orchestrator panicked: %v", r)}
			}
		}
	}()

	out, err := fn(x)
	if err != nil {
		return episodeResult{outcome: episodeFailed, err: err}
	}
	return episodeResult{outcome: episodeCompleted, output: out}
}

func (x *execution) claimTaskID() int {
	id := x.nextTaskID
	x.nextTaskID++
	return id
}

// findScheduled returns the recorded scheduling event for a task ID, if this
// execution is revisiting a decision it already made in an earlier episode.
func (x *execution) findScheduled(taskID int) *api.HistoryEvent {
	for i := range x.history {
		ev := &x.history[i]
		if ev.TaskID == taskID && ev.IsScheduling() {
			return ev
		}
	}
	return nil
}

func (x *execution) record(ev *api.HistoryEvent) {
	ev.At = x.now
	x.replaying = false
	x.newEvents = append(x.newEvents, ev)
}

// consume registers that a recorded completion was handed to orchestrator
// code, advancing virtual time.
func (x *execution) consume(ev *api.HistoryEvent) {
	if ev.At.After(x.now) {
		x.now = ev.At
	}
	if ev.Sequence != 0 && ev.Sequence == x.lastSeq {
		x.replaying = false
	}
}

func (x *execution) mismatch(taskID int, recorded *api.HistoryEvent, got string) {
	panic(replayPanic{err: &api.ReplayMismatchError{
		InstanceID: x.instanceID,
		TaskID:     taskID,
		Expected:   describeScheduling(recorded),
		Got:        got,
	}})
}

func describeScheduling(ev *api.HistoryEvent) string {
	switch ev.Type {
	case api.EventActivityScheduled:
		return fmt.Sprintf("activity %q", ev.Name)
	case api.EventTimerCreated:
		return fmt.Sprintf("timer firing at %s", ev.FireAt.Format(time.RFC3339Nano))
	case api.EventEntityCalled:
		return fmt.Sprintf("entity call %s.%s", ev.Entity, ev.Name)
	case api.EventEntitySignaled:
		return fmt.Sprintf("entity signal %s.%s", ev.Entity, ev.Name)
	}
	return string(ev.Type)
}

// --- api.OrchestrationContext ---

func (x *execution) InstanceID() string { return x.instanceID }

func (x *execution) Input() any { return x.input }

func (x *execution) CurrentTime() time.Time { return x.now }

func (x *execution) IsReplaying() bool { return x.replaying }

func (x *execution) NewGUID() uuid.UUID {
	id := uuid.NewSHA1(x.guidSpace, []byte(strconv.Itoa(x.guidSeq)))
	x.guidSeq++
	return id
}

func (x *execution) Logger() *slog.Logger {
	if x.replaying {
		return x.nopLogger
	}
	return x.logger
}

func (x *execution) ScheduleActivity(name string, input any) api.Task {
	id := x.claimTaskID()
	if ev := x.findScheduled(id); ev != nil {
		if ev.Type != api.EventActivityScheduled || ev.Name != name {
			x.mismatch(id, ev, fmt.Sprintf("activity %q", name))
		}
	} else {
		x.record(&api.HistoryEvent{
			TaskID:  id,
			Type:    api.EventActivityScheduled,
			Name:    name,
			Payload: input,
		})
	}
	return &task{x: x, kind: taskActivity, id: id, name: name}
}

func (x *execution) CallActivity(name string, input any) (any, error) {
	return x.ScheduleActivity(name, input).Await()
}

func (x *execution) CallActivityWithRetry(name string, input any, policy api.RetryPolicy) (any, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	backoff := policy.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := x.CallActivity(name, input)
		if err == nil {
			return result, nil
		}
		var aerr *api.ActivityError
		if !errors.As(err, &aerr) {
			return nil, err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if backoff > 0 {
			delay := backoff
			if policy.MaxBackoff > 0 && delay > policy.MaxBackoff {
				delay = policy.MaxBackoff
			}
			if err := x.Sleep(delay); err != nil {
				return nil, err
			}
			backoff = time.Duration(float64(backoff) * multiplier)
		}
	}
	return nil, lastErr
}

func (x *execution) CreateTimer(fireAt time.Time) api.Task {
	id := x.claimTaskID()
	if ev := x.findScheduled(id); ev != nil {
		if ev.Type != api.EventTimerCreated || !ev.FireAt.Equal(fireAt) {
			x.mismatch(id, ev, fmt.Sprintf("timer firing at %s", fireAt.Format(time.RFC3339Nano)))
		}
	} else {
		x.record(&api.HistoryEvent{
			TaskID: id,
			Type:   api.EventTimerCreated,
			FireAt: fireAt,
		})
	}
	return &task{x: x, kind: taskTimer, id: id}
}

func (x *execution) CancelTimer(t api.Task) error {
	tt, ok := t.(*task)
	if !ok || tt.kind != taskTimer {
		return api.NewValidationError("CancelTimer requires a timer task")
	}

	// Already fired or canceled in a previous episode: nothing to do.
	for i := range x.history {
		ev := &x.history[i]
		if ev.TaskID == tt.id && (ev.Type == api.EventTimerFired || ev.Type == api.EventTimerCanceled) {
			return nil
		}
	}
	for _, ev := range x.newEvents {
		if ev.TaskID == tt.id && ev.Type == api.EventTimerCanceled {
			return nil
		}
	}

	x.record(&api.HistoryEvent{
		TaskID: tt.id,
		Type:   api.EventTimerCanceled,
	})
	return nil
}

func (x *execution) Sleep(d time.Duration) error {
	_, err := x.CreateTimer(x.now.Add(d)).Await()
	return err
}

func (x *execution) ExternalEvent(name string) api.Task {
	// The n-th wait for a name consumes the n-th received event of that
	// name; the pairing is fixed here, at wait creation, so it is stable
	// across replays.
	index := x.eventWaits[name]
	x.eventWaits[name]++
	return &task{x: x, kind: taskExternal, id: -1, name: name, index: index}
}

func (x *execution) WaitForEvent(name string) (any, error) {
	return x.ExternalEvent(name).Await()
}

func (x *execution) ScheduleEntityCall(id api.EntityID, operation string, input any) api.Task {
	taskID := x.claimTaskID()
	if ev := x.findScheduled(taskID); ev != nil {
		if ev.Type != api.EventEntityCalled || ev.Entity != id.String() || ev.Name != operation {
			x.mismatch(taskID, ev, fmt.Sprintf("entity call %s.%s", id.String(), operation))
		}
	} else {
		x.record(&api.HistoryEvent{
			TaskID:  taskID,
			Type:    api.EventEntityCalled,
			Name:    operation,
			Entity:  id.String(),
			Payload: input,
		})
	}
	return &task{x: x, kind: taskEntity, id: taskID, name: operation, entity: id.String()}
}

func (x *execution) CallEntity(id api.EntityID, operation string, input any) (any, error) {
	return x.ScheduleEntityCall(id, operation, input).Await()
}

func (x *execution) SignalEntity(id api.EntityID, operation string, input any) error {
	taskID := x.claimTaskID()
	if ev := x.findScheduled(taskID); ev != nil {
		if ev.Type != api.EventEntitySignaled || ev.Entity != id.String() || ev.Name != operation {
			x.mismatch(taskID, ev, fmt.Sprintf("entity signal %s.%s", id.String(), operation))
		}
		return nil
	}
	x.record(&api.HistoryEvent{
		TaskID:  taskID,
		Type:    api.EventEntitySignaled,
		Name:    operation,
		Entity:  id.String(),
		Payload: input,
	})
	return nil
}

func (x *execution) WhenAll(tasks ...api.Task) ([]any, error) {
	for _, t := range tasks {
		if !t.Done() {
			panic(suspendSignal{})
		}
	}

	results := make([]any, len(tasks))
	for i, t := range tasks {
		v, err := t.Await()
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return results, nil
}

func (x *execution) WhenAny(tasks ...api.Task) (api.Task, error) {
	if len(tasks) == 0 {
		return nil, api.NewValidationError("WhenAny requires at least one task")
	}

	var winner *task
	var winnerEv *api.HistoryEvent
	winnerSeq := int64(math.MaxInt64)
	for _, t := range tasks {
		tt, ok := t.(*task)
		if !ok {
			return nil, api.NewValidationError("WhenAny requires engine tasks")
		}
		if ev, done := tt.resolve(); done && ev.Sequence < winnerSeq {
			winnerSeq = ev.Sequence
			winner = tt
			winnerEv = ev
		}
	}

	if winner == nil {
		panic(suspendSignal{})
	}
	x.consume(winnerEv)
	return winner, nil
}

type taskKind int

const (
	taskActivity taskKind = iota
	taskTimer
	taskExternal
	taskEntity
)

// task is the api.Task implementation. It holds no state of its own beyond
// its identity; completion is always looked up in the history, so a task can
// be awaited any number of times with the same answer.
type task struct {
	x      *execution
	kind   taskKind
	id     int
	name   string
	entity string
	index  int
}

var _ api.Task = (*task)(nil)

// resolve finds the completion event for this task, if it exists yet.
func (t *task) resolve() (*api.HistoryEvent, bool) {
	history := t.x.history
	switch t.kind {
	case taskActivity:
		for i := range history {
			ev := &history[i]
			if ev.TaskID == t.id && (ev.Type == api.EventActivityCompleted || ev.Type == api.EventActivityFailed) {
				return ev, true
			}
		}
	case taskTimer:
		for i := range history {
			ev := &history[i]
			if ev.TaskID == t.id && (ev.Type == api.EventTimerFired || ev.Type == api.EventTimerCanceled) {
				return ev, true
			}
		}
		for _, ev := range t.x.newEvents {
			if ev.TaskID == t.id && ev.Type == api.EventTimerCanceled {
				return ev, true
			}
		}
	case taskEntity:
		for i := range history {
			ev := &history[i]
			if ev.TaskID == t.id && (ev.Type == api.EventEntityCompleted || ev.Type == api.EventEntityFailed) {
				return ev, true
			}
		}
	case taskExternal:
		n := 0
		for i := range history {
			ev := &history[i]
			if ev.Type == api.EventExternalEventReceived && ev.Name == t.name {
				if n == t.index {
					return ev, true
				}
				n++
			}
		}
	}
	return nil, false
}

func (t *task) Done() bool {
	_, ok := t.resolve()
	return ok
}

func (t *task) Await() (any, error) {
	ev, ok := t.resolve()
	if !ok {
		panic(suspendSignal{})
	}
	t.x.consume(ev)

	switch ev.Type {
	case api.EventActivityCompleted, api.EventEntityCompleted, api.EventExternalEventReceived:
		return ev.Payload, nil
	case api.EventActivityFailed:
		return nil, &api.ActivityError{Activity: ev.Name, Message: ev.Fault}
	case api.EventEntityFailed:
		return nil, &api.EntityError{Entity: ev.Entity, Operation: ev.Name, Message: ev.Fault}
	case api.EventTimerFired:
		return nil, nil
	case api.EventTimerCanceled:
		return nil, api.ErrTimerCanceled
	}
	return nil, fmt.Errorf("unexpected completion event type %s", ev.Type)
}
