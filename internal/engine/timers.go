package engine

import (
	"container/heap"
	"sync"
	"time"
)

// FireFunc is invoked by a TimerService when a scheduled timer comes due.
type FireFunc func(instanceID string, taskID int, firedAt time.Time)

// TimerService arms and cancels durable timers on behalf of the engine. The
// engine re-arms timers from history on recovery, so implementations do not
// need their own persistence.
//
// Cancellation is edge-triggered: once Cancel returns, the timer will not
// fire, even if cancellation raced the fire tick.
type TimerService interface {
	// Now returns the service's notion of the current time.
	Now() time.Time

	// Schedule arms a timer identified by (instanceID, taskID).
	Schedule(instanceID string, taskID int, fireAt time.Time)

	// Cancel disarms a timer. Canceling an unknown or already fired timer is
	// a no-op.
	Cancel(instanceID string, taskID int)

	// CancelInstance disarms every pending timer of an instance.
	CancelInstance(instanceID string)

	// Bind sets the callback invoked when timers fire. It must be called
	// exactly once before any Schedule.
	Bind(fire FireFunc)

	// Close disarms all pending timers.
	Close()
}

type timerKey struct {
	instanceID string
	taskID     int
}

// WallTimers is the production TimerService backed by the runtime clock.
type WallTimers struct {
	mu      sync.Mutex
	fire    FireFunc
	pending map[timerKey]*time.Timer
	closed  bool
}

// NewWallTimers creates a TimerService backed by time.AfterFunc.
func NewWallTimers() *WallTimers {
	return &WallTimers{pending: make(map[timerKey]*time.Timer)}
}

func (w *WallTimers) Now() time.Time { return time.Now() }

func (w *WallTimers) Bind(fire FireFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fire = fire
}

func (w *WallTimers) Schedule(instanceID string, taskID int, fireAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	key := timerKey{instanceID, taskID}
	if _, ok := w.pending[key]; ok {
		return
	}

	d := time.Until(fireAt)
	w.pending[key] = time.AfterFunc(d, func() {
		// The pending check under the mutex is what makes cancellation
		// edge-triggered: a Cancel that won the race removed the entry
		// before this callback acquired the lock.
		w.mu.Lock()
		if _, ok := w.pending[key]; !ok {
			w.mu.Unlock()
			return
		}
		delete(w.pending, key)
		fire := w.fire
		w.mu.Unlock()

		if fire != nil {
			fire(instanceID, taskID, time.Now())
		}
	})
}

func (w *WallTimers) Cancel(instanceID string, taskID int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := timerKey{instanceID, taskID}
	if t, ok := w.pending[key]; ok {
		t.Stop()
		delete(w.pending, key)
	}
}

func (w *WallTimers) CancelInstance(instanceID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for key, t := range w.pending {
		if key.instanceID == instanceID {
			t.Stop()
			delete(w.pending, key)
		}
	}
}

func (w *WallTimers) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for key, t := range w.pending {
		t.Stop()
		delete(w.pending, key)
	}
	w.closed = true
}

type virtualTimer struct {
	key    timerKey
	fireAt time.Time
	seq    int
}

type virtualTimerHeap []*virtualTimer

func (h virtualTimerHeap) Len() int { return len(h) }
func (h virtualTimerHeap) Less(i, j int) bool {
	if !h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].fireAt.Before(h[j].fireAt)
	}
	return h[i].seq < h[j].seq
}
func (h virtualTimerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *virtualTimerHeap) Push(x any) { *h = append(*h, x.(*virtualTimer)) }
func (h *virtualTimerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// VirtualTimers is a TimerService with a manually advanced clock, intended
// for tests and deterministic local runs. Timers never fire on their own;
// they fire synchronously inside Advance, on the caller's goroutine.
type VirtualTimers struct {
	mu      sync.Mutex
	fire    FireFunc
	now     time.Time
	seq     int
	pending virtualTimerHeap
	closed  bool
}

// NewVirtualTimers creates a VirtualTimers whose clock starts at start.
func NewVirtualTimers(start time.Time) *VirtualTimers {
	return &VirtualTimers{now: start}
}

func (v *VirtualTimers) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *VirtualTimers) Bind(fire FireFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fire = fire
}

// Schedule arms the timer. A fireAt at or before the virtual clock does not
// fire inline; it fires on the next Advance, which may be Advance(0). This
// keeps Schedule safe to call while the engine holds instance locks.
func (v *VirtualTimers) Schedule(instanceID string, taskID int, fireAt time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}

	key := timerKey{instanceID, taskID}
	for _, t := range v.pending {
		if t.key == key {
			return
		}
	}

	v.seq++
	heap.Push(&v.pending, &virtualTimer{key: key, fireAt: fireAt, seq: v.seq})
}

func (v *VirtualTimers) Cancel(instanceID string, taskID int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := timerKey{instanceID, taskID}
	for i, t := range v.pending {
		if t.key == key {
			heap.Remove(&v.pending, i)
			return
		}
	}
}

func (v *VirtualTimers) CancelInstance(instanceID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	kept := v.pending[:0]
	for _, t := range v.pending {
		if t.key.instanceID != instanceID {
			kept = append(kept, t)
		}
	}
	v.pending = kept
	heap.Init(&v.pending)
}

// Advance moves the virtual clock forward by d and fires every timer that
// came due, in fire-time order. Callbacks run on the caller's goroutine with
// no internal lock held.
func (v *VirtualTimers) Advance(d time.Duration) {
	v.mu.Lock()
	v.now = v.now.Add(d)

	var due []*virtualTimer
	for v.pending.Len() > 0 && !v.pending[0].fireAt.After(v.now) {
		due = append(due, heap.Pop(&v.pending).(*virtualTimer))
	}
	fire := v.fire
	v.mu.Unlock()

	if fire == nil {
		return
	}
	for _, t := range due {
		firedAt := t.fireAt
		fire(t.key.instanceID, t.key.taskID, firedAt)
	}
}

func (v *VirtualTimers) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = nil
	v.closed = true
}
