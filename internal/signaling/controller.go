package signaling

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"call-signaling/internal/calls"
)

func newCallID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return "call_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix
}

func (c *Coordinator) authenticate(conn Conn, m Authenticate) error {
	dropped, ok := c.registry.Register(m.Identity, conn)
	if ok {
		c.presence.announceOffline(dropped.ID, conn.ID())
	}
	c.log.Info("user online", "user_id", m.Identity.ID, "conn_id", conn.ID())

	c.presence.announceOnline(m.Identity, conn.ID())
	c.presence.sendSnapshot(conn, m.Identity.ID)
	return nil
}

func (c *Coordinator) initiate(conn Conn, m InitiateCall) error {
	caller, ok := c.registry.IdentityOf(conn.ID())
	if !ok {
		return unauthorized("Authenticate before placing a call")
	}
	if m.ParticipantID == caller.ID {
		return malformed("Cannot call yourself")
	}
	target, ok := c.registry.Lookup(m.ParticipantID)
	if !ok {
		return unreachable("Participant is offline")
	}
	if c.opts.RejectBusy {
		if c.store.Busy(caller.ID) {
			return unreachable("Caller is already in a call")
		}
		if c.store.Busy(m.ParticipantID) {
			return unreachable("Participant is busy")
		}
	}
	participant, _ := c.registry.IdentityOf(target.ID())

	now := c.now()
	sess := &calls.Session{
		ID:                 newCallID(now),
		CallerID:           caller.ID,
		ParticipantID:      participant.ID,
		CallerConn:         conn.ID(),
		ParticipantConn:    target.ID(),
		CallerProfile:      caller.Profile,
		ParticipantProfile: participant.Profile,
		Type:               m.CallType,
		Status:             calls.CallStatusCalling,
		CreatedAt:          now,
	}
	if err := c.store.Create(sess); err != nil {
		// Only reachable on a random-suffix collision within the same millisecond.
		return invalidState("Could not allocate a call id, retry")
	}
	c.transition(sess, "", now)

	deliver(c.log, conn, Outbound{Event: EventCallInitiated, Data: CallInitiated{
		CallID:      sess.ID,
		Status:      sess.Status,
		Participant: Participant{ID: participant.ID, Data: participant.Profile},
	}})
	deliver(c.log, target, Outbound{Event: EventIncomingCall, Data: IncomingCall{
		CallID:    sess.ID,
		Caller:    caller.Profile,
		CallType:  sess.Type,
		CreatedAt: sess.CreatedAt,
	}})

	c.schedule(sess.ID, timerRing, c.opts.RingTimeout, func(s *calls.Session) {
		if s.Status != calls.CallStatusCalling {
			return
		}
		c.log.Info("call unanswered", "call_id", s.ID)
		c.finish(s, calls.EndReasonTimeout, "", s.CallerConn, s.ParticipantConn)
	})
	return nil
}

func (c *Coordinator) accept(conn Conn, callID string) error {
	sess, ok := c.store.Get(callID)
	if !ok {
		return notFound("Call not found")
	}
	if conn.ID() != sess.ParticipantConn {
		return unauthorized("Unauthorized to accept this call")
	}
	if sess.Status != calls.CallStatusCalling {
		return invalidState("Call is not ringing")
	}

	c.timers.cancel(sess.ID, timerRing)
	now := c.now()
	from := sess.Status
	sess.Status = calls.CallStatusAccepted
	sess.AcceptedAt = &now
	c.transition(sess, from, now)

	msg := Outbound{Event: EventCallAccepted, Data: CallAccepted{CallID: sess.ID, AcceptedAt: now, Status: sess.Status}}
	c.sendTo(sess.CallerConn, msg)
	c.sendTo(sess.ParticipantConn, msg)

	c.schedule(sess.ID, timerConnect, c.opts.ConnectDelay, func(s *calls.Session) {
		if s.Status != calls.CallStatusAccepted {
			return
		}
		at := c.now()
		s.Status = calls.CallStatusConnected
		s.ConnectedAt = &at
		c.transition(s, calls.CallStatusAccepted, at)

		msg := Outbound{Event: EventCallConnected, Data: CallConnected{CallID: s.ID, ConnectedAt: at, Status: s.Status}}
		c.sendTo(s.CallerConn, msg)
		c.sendTo(s.ParticipantConn, msg)
	})
	return nil
}

func (c *Coordinator) reject(conn Conn, callID string) error {
	sess, ok := c.store.Get(callID)
	if !ok {
		return notFound("Call not found")
	}
	if conn.ID() != sess.ParticipantConn {
		return unauthorized("Unauthorized to reject this call")
	}
	if sess.Status != calls.CallStatusCalling {
		return invalidState("Call is not ringing")
	}

	now := c.now()
	from := sess.Status
	sess.Status = calls.CallStatusRejected
	sess.RejectedAt = &now

	msg := Outbound{Event: EventCallRejected, Data: CallRejected{CallID: sess.ID, RejectedAt: now, Reason: calls.RejectReasonDeclined}}
	c.sendTo(sess.CallerConn, msg)
	c.sendTo(sess.ParticipantConn, msg)

	c.timers.cancelAll(sess.ID)
	c.store.Delete(sess.ID)
	c.transition(sess, from, now)
	return nil
}

func (c *Coordinator) end(conn Conn, callID string) error {
	sess, ok := c.store.Get(callID)
	if !ok {
		return notFound("Call not found")
	}
	who, ok := sess.IdentityFor(conn.ID())
	if !ok {
		return unauthorized("Unauthorized to end this call")
	}
	c.finish(sess, calls.EndReasonEnded, who, sess.CallerConn, sess.ParticipantConn)
	return nil
}

func (c *Coordinator) disconnect(conn Conn) {
	id, removed, stillOnline := c.registry.Unregister(conn.ID())
	if removed {
		c.log.Info("connection closed", "user_id", id.ID, "conn_id", conn.ID(), "still_online", stillOnline)
		if !stillOnline {
			c.presence.announceOffline(id.ID, conn.ID())
		}
	}

	for _, sess := range c.store.ByConn(conn.ID()) {
		other, _, _ := sess.Counterpart(conn.ID())
		who, _ := sess.IdentityFor(conn.ID())
		c.finish(sess, calls.EndReasonDisconnection, who, other)
	}
}

// finish moves sess to ended, notifies the given connections and drops it.
func (c *Coordinator) finish(sess *calls.Session, reason calls.EndReason, endedBy string, notify ...string) {
	now := c.now()
	from := sess.Status
	sess.Duration = sess.ConnectedDuration(now)
	sess.Status = calls.CallStatusEnded
	sess.EndedAt = &now
	sess.EndedBy = endedBy
	sess.EndReason = reason

	msg := Outbound{Event: EventCallEnded, Data: CallEnded{
		CallID:   sess.ID,
		EndedAt:  now,
		Duration: sess.Duration,
		EndedBy:  endedBy,
		Reason:   reason,
	}}
	for _, connID := range notify {
		c.sendTo(connID, msg)
	}

	c.timers.cancelAll(sess.ID)
	c.store.Delete(sess.ID)
	c.transition(sess, from, now)
}
