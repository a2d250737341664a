package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"call-signaling/internal/calls"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	msgs []Outbound
	fail bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(m Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send queue full")
	}
	f.msgs = append(f.msgs, m)
	return nil
}

// take returns and clears everything received so far.
func (f *fakeConn) take() []Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.msgs
	f.msgs = nil
	return out
}

func events(msgs []Outbound) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Event
	}
	return out
}

func only(t *testing.T, msgs []Outbound, event string) Outbound {
	t.Helper()
	if len(msgs) != 1 || msgs[0].Event != event {
		t.Fatalf("expected exactly one %s, got %v", event, events(msgs))
	}
	return msgs[0]
}

type manualTimer struct {
	s       *manualScheduler
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

// manualScheduler never fires on its own; tests fire timers explicitly.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// fire runs every pending timer armed with duration d and returns how many ran.
// With force, stopped timers run too, emulating a callback that raced its Stop.
func (s *manualScheduler) fire(d time.Duration, force bool) int {
	s.mu.Lock()
	var due []*manualTimer
	for _, t := range s.timers {
		if t.d != d || t.fired {
			continue
		}
		if t.stopped && !force {
			continue
		}
		t.fired = true
		due = append(due, t)
	}
	s.mu.Unlock()

	for _, t := range due {
		t.f()
	}
	return len(due)
}

func (s *manualScheduler) pending(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if t.d == d && !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu          sync.Mutex
	transitions []calls.Transition
}

func (r *recordingSink) RecordTransition(t calls.Transition) {
	r.mu.Lock()
	r.transitions = append(r.transitions, t)
	r.mu.Unlock()
}

func (r *recordingSink) statuses() []calls.CallStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.CallStatus, len(r.transitions))
	for i, t := range r.transitions {
		out[i] = t.To
	}
	return out
}

type recordingPresence struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (p *recordingPresence) Online(id Identity) {
	p.mu.Lock()
	p.online = append(p.online, id.ID)
	p.mu.Unlock()
}

func (p *recordingPresence) Offline(id string) {
	p.mu.Lock()
	p.offline = append(p.offline, id)
	p.mu.Unlock()
}

const (
	testRing    = 30 * time.Second
	testConnect = 2 * time.Second
)

type harness struct {
	t        *testing.T
	coord    *Coordinator
	clock    *fakeClock
	sched    *manualScheduler
	sink     *recordingSink
	presence *recordingPresence
}

func newHarness(t *testing.T, rejectBusy bool) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		sched:    &manualScheduler{},
		sink:     &recordingSink{},
		presence: &recordingPresence{},
	}
	h.coord = New(Options{
		RingTimeout:  testRing,
		ConnectDelay: testConnect,
		RejectBusy:   rejectBusy,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:          h.clock.Now,
		Scheduler:    h.sched,
		Transitions:  h.sink,
		Presence:     h.presence,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.coord.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// login opens conn connID and authenticates it as userID, discarding the
// presence traffic it produces on conn itself.
func (h *harness) login(connID, userID string) *fakeConn {
	h.t.Helper()
	c := newFakeConn(connID)
	profile := json.RawMessage(`{"id":"` + userID + `","name":"User ` + userID + `"}`)
	if err := h.coord.Handle(c, Authenticate{Identity: Identity{ID: userID, Profile: profile}}); err != nil {
		h.t.Fatalf("authenticate %s: %v", userID, err)
	}
	c.take()
	return c
}

// call places a call from caller to userID and returns the new call id.
// Anything the caller had received before is discarded.
func (h *harness) call(caller *fakeConn, userID string, ct calls.CallType) string {
	h.t.Helper()
	caller.take()
	if err := h.coord.Handle(caller, InitiateCall{ParticipantID: userID, CallType: ct}); err != nil {
		h.t.Fatalf("initiate call to %s: %v", userID, err)
	}
	msgs := caller.take()
	m := only(h.t, msgs, EventCallInitiated)
	return m.Data.(CallInitiated).CallID
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	s, err := h.coord.Snapshot()
	if err != nil {
		h.t.Fatalf("snapshot: %v", err)
	}
	return s
}
