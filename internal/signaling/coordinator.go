package signaling

import (
	"context"
	"log/slog"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/internal/metrics"
)

const (
	DefaultRingTimeout  = 30 * time.Second
	DefaultConnectDelay = 2 * time.Second
)

// TransitionSink receives a copy of every session transition. Calls come from
// the coordinator loop and must not block.
type TransitionSink interface {
	RecordTransition(t calls.Transition)
}

type Options struct {
	RingTimeout  time.Duration
	ConnectDelay time.Duration
	// RejectBusy refuses a new call when either party is already in one.
	RejectBusy bool

	Logger      *slog.Logger
	Now         func() time.Time
	Scheduler   Scheduler
	Transitions TransitionSink
	Presence    PresenceSink
}

type task struct {
	fn   func()
	done chan struct{}
}

// Coordinator owns the registry, the session store and the call timers. All
// mutations happen on the goroutine running Run, one task at a time.
type Coordinator struct {
	opts Options
	log  *slog.Logger
	now  func() time.Time

	registry *Registry
	store    *Store
	timers   *timers
	presence *presence

	tasks   chan task
	stopped chan struct{}
}

func New(opts Options) *Coordinator {
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = DefaultRingTimeout
	}
	if opts.ConnectDelay <= 0 {
		opts.ConnectDelay = DefaultConnectDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Scheduler == nil {
		opts.Scheduler = wallScheduler{}
	}

	reg := NewRegistry()
	log := opts.Logger.With("component", "signaling")
	return &Coordinator{
		opts:     opts,
		log:      log,
		now:      opts.Now,
		registry: reg,
		store:    NewStore(),
		timers:   newTimers(opts.Scheduler),
		presence: &presence{reg: reg, sink: opts.Presence, log: log},
		tasks:    make(chan task),
		stopped:  make(chan struct{}),
	}
}

// Run executes submitted tasks until ctx is cancelled. It must be called
// exactly once.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Info("coordinator started",
		"ring_timeout", c.opts.RingTimeout.String(),
		"connect_delay", c.opts.ConnectDelay.String(),
		"reject_busy", c.opts.RejectBusy,
	)
	defer func() {
		close(c.stopped)
		c.timers.stopAll()
		c.log.Info("coordinator stopped", "live_calls", c.store.Len(), "online", c.registry.Len())
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-c.tasks:
			t.fn()
			close(t.done)
		}
	}
}

// exec runs fn on the loop and waits for it. It must never be called from
// inside a task.
func (c *Coordinator) exec(fn func()) error {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case c.tasks <- t:
	case <-c.stopped:
		return ErrStopped
	}
	<-t.done
	return nil
}

// Handle applies one validated client request from conn. Request failures are
// already reported to conn as callError; the returned error mirrors them.
func (c *Coordinator) Handle(conn Conn, msg Inbound) error {
	var herr error
	if err := c.exec(func() {
		herr = c.dispatch(conn, msg)
		if herr != nil {
			c.reportError(conn, msg.Event(), herr)
		}
	}); err != nil {
		return err
	}
	return herr
}

// HandleRaw decodes a client frame and applies it. Decode failures are
// reported to conn like any other request failure.
func (c *Coordinator) HandleRaw(conn Conn, raw []byte) error {
	msg, err := DecodeInbound(raw)
	if err != nil {
		if xerr := c.exec(func() { c.reportError(conn, "decode", err) }); xerr != nil {
			return xerr
		}
		return err
	}
	return c.Handle(conn, msg)
}

// Disconnect unregisters conn and force-ends every call it was part of.
func (c *Coordinator) Disconnect(conn Conn) error {
	return c.exec(func() { c.disconnect(conn) })
}

// Snapshot is a read-only view for health and stats endpoints.
type Snapshot struct {
	OnlineUsers []string
	Calls       []calls.Session
	At          time.Time
}

func (c *Coordinator) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := c.exec(func() {
		s = Snapshot{
			OnlineUsers: c.registry.Identities(),
			Calls:       c.store.List(),
			At:          c.now(),
		}
	})
	return s, err
}

func (c *Coordinator) dispatch(conn Conn, msg Inbound) error {
	switch m := msg.(type) {
	case Authenticate:
		return c.authenticate(conn, m)
	case InitiateCall:
		return c.initiate(conn, m)
	case AcceptCall:
		return c.accept(conn, m.CallID)
	case RejectCall:
		return c.reject(conn, m.CallID)
	case EndCall:
		return c.end(conn, m.CallID)
	case Relay:
		return c.relay(conn, m)
	case ToggleMute:
		return c.toggleMute(conn, m)
	case ToggleVideo:
		return c.toggleVideo(conn, m)
	default:
		return malformed("Unsupported event")
	}
}

func (c *Coordinator) reportError(conn Conn, event string, err error) {
	kind := ErrorKind(err)
	metrics.RecordSignalingError(kind)
	c.log.Debug("request failed", "conn_id", conn.ID(), "event", event, "kind", kind, "err", err)
	deliver(c.log, conn, Outbound{Event: EventCallError, Data: ErrorNotice{Message: clientMessage(err)}})
}

// schedule arms a timer whose callback re-enters the loop. A callback that
// arrives after shutdown is dropped.
func (c *Coordinator) schedule(callID string, kind timerKind, d time.Duration, fn func(*calls.Session)) {
	c.timers.arm(callID, kind, d, func() {
		_ = c.exec(func() {
			c.timers.forget(callID, kind)
			sess, ok := c.store.Get(callID)
			if !ok {
				return
			}
			fn(sess)
		})
	})
}

func (c *Coordinator) sendTo(connID string, msg Outbound) {
	conn, ok := c.registry.Conn(connID)
	if !ok {
		return
	}
	deliver(c.log, conn, msg)
}

func (c *Coordinator) transition(sess *calls.Session, from calls.CallStatus, at time.Time) {
	metrics.RecordCallTransition(string(sess.Status), string(sess.EndReason))
	metrics.SetActiveCalls(c.store.Len())
	if c.opts.Transitions != nil {
		c.opts.Transitions.RecordTransition(calls.Transition{Session: *sess, From: from, To: sess.Status, At: at})
	}
	c.log.Info("call transition",
		"call_id", sess.ID,
		"caller_id", sess.CallerID,
		"participant_id", sess.ParticipantID,
		"from", string(from),
		"to", string(sess.Status),
	)
}
