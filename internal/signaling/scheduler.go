package signaling

import "time"

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d on its own goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type timerKind string

const (
	timerRing    timerKind = "ring"
	timerConnect timerKind = "connect"
)

// timers tracks armed callbacks per call so any transition can cancel them.
// Only the coordinator loop touches it.
type timers struct {
	sched Scheduler
	armed map[string]map[timerKind]Timer
}

func newTimers(s Scheduler) *timers {
	return &timers{sched: s, armed: make(map[string]map[timerKind]Timer)}
}

func (t *timers) arm(callID string, kind timerKind, d time.Duration, f func()) {
	t.cancel(callID, kind)
	byKind := t.armed[callID]
	if byKind == nil {
		byKind = make(map[timerKind]Timer, 2)
		t.armed[callID] = byKind
	}
	byKind[kind] = t.sched.AfterFunc(d, f)
}

func (t *timers) cancel(callID string, kind timerKind) {
	byKind := t.armed[callID]
	if tm, ok := byKind[kind]; ok {
		tm.Stop()
		delete(byKind, kind)
	}
	if len(byKind) == 0 {
		delete(t.armed, callID)
	}
}

func (t *timers) cancelAll(callID string) {
	for _, tm := range t.armed[callID] {
		tm.Stop()
	}
	delete(t.armed, callID)
}

// forget drops the bookkeeping for a timer that already fired.
func (t *timers) forget(callID string, kind timerKind) {
	byKind := t.armed[callID]
	delete(byKind, kind)
	if len(byKind) == 0 {
		delete(t.armed, callID)
	}
}

func (t *timers) stopAll() {
	for callID := range t.armed {
		t.cancelAll(callID)
	}
}

func (t *timers) pending() int {
	n := 0
	for _, byKind := range t.armed {
		n += len(byKind)
	}
	return n
}
