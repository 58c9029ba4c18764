package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/durable/pkg/api"
)

// completeFunc delivers a completion event back to the engine, which appends
// it to the instance history and resumes the instance.
type completeFunc func(instanceID string, ev *api.HistoryEvent)

type activityJob struct {
	instanceID string
	taskID     int
	activity   string
	input      any
}

// dispatcher runs activity invocations on a fixed worker pool. Activities
// execute outside any instance lock; only their completion events touch the
// instance, via the complete callback.
type dispatcher struct {
	registry *registry
	timers   TimerService
	observer api.Observer
	logger   *slog.Logger
	complete completeFunc

	jobs chan activityJob
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newDispatcher(workers int, reg *registry, timers TimerService, obs api.Observer, logger *slog.Logger, complete completeFunc) *dispatcher {
	if workers <= 0 {
		workers = 4
	}
	d := &dispatcher{
		registry: reg,
		timers:   timers,
		observer: obs,
		logger:   logger,
		complete: complete,
		jobs:     make(chan activityJob, 1024),
		quit:     make(chan struct{}),
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// enqueue hands a job to the pool. When the buffer is full the handoff moves
// to a fresh goroutine so callers holding instance locks never block on the
// pool draining.
func (d *dispatcher) enqueue(job activityJob) {
	select {
	case d.jobs <- job:
	case <-d.quit:
	default:
		go func() {
			select {
			case d.jobs <- job:
			case <-d.quit:
			}
		}()
	}
}

func (d *dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.jobs:
			d.run(job)
		case <-d.quit:
			return
		}
	}
}

func (d *dispatcher) run(job activityJob) {
	started := time.Now()
	result, err := d.invoke(job)
	duration := time.Since(started)

	d.observer.OnActivityCompleted(context.Background(), job.instanceID, job.activity, err, duration)

	ev := &api.HistoryEvent{
		TaskID: job.taskID,
		At:     d.timers.Now(),
		Name:   job.activity,
	}
	if err != nil {
		ev.Type = api.EventActivityFailed
		ev.Fault = err.Error()
	} else {
		ev.Type = api.EventActivityCompleted
		ev.Payload = result
	}
	d.complete(job.instanceID, ev)
}

// invoke runs the activity function with panic containment. A panicking
// activity is recorded as a fault, never as an engine crash.
func (d *dispatcher) invoke(job activityJob) (result any, err error) {
	fn, ok := d.registry.activity(job.activity)
	if !ok {
		return nil, &api.NotFoundError{Kind: "activity", ID: job.activity}
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("activity panicked",
				slog.String("instance_id", job.instanceID),
				slog.String("activity", job.activity),
				slog.Any("panic", r),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn(context.Background(), job.input)
}

func (d *dispatcher) close() {
	d.once.Do(func() {
		close(d.quit)
	})
	d.wg.Wait()
}
