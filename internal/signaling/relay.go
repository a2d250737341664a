package signaling

import "call-signaling/internal/metrics"

// party resolves the session and the sender's place in it. label names the
// request in client-facing errors.
func (c *Coordinator) party(conn Conn, callID, label string) (from, target string, err error) {
	sess, ok := c.store.Get(callID)
	if !ok {
		return "", "", notFound("Call not found for %s", label)
	}
	from, ok = sess.IdentityFor(conn.ID())
	if !ok {
		return "", "", unauthorized("Unauthorized to send %s for this call", label)
	}
	target, _, _ = sess.Counterpart(conn.ID())
	return from, target, nil
}

// relay forwards an opaque negotiation payload to the other party. The
// payload is never parsed.
func (c *Coordinator) relay(conn Conn, r Relay) error {
	from, target, err := c.party(conn, r.CallID, r.Kind.Label())
	if err != nil {
		return err
	}
	c.sendTo(target, relayedMessage(r, from))
	metrics.RecordRelay(r.Kind.Event())
	return nil
}

func (c *Coordinator) toggleMute(conn Conn, m ToggleMute) error {
	from, target, err := c.party(conn, m.CallID, "mute toggle")
	if err != nil {
		return err
	}
	c.sendTo(target, Outbound{Event: EventParticipantMute, Data: MuteToggled{CallID: m.CallID, UserID: from, IsMuted: m.IsMuted}})
	metrics.RecordRelay(EventToggleMute)
	return nil
}

func (c *Coordinator) toggleVideo(conn Conn, m ToggleVideo) error {
	from, target, err := c.party(conn, m.CallID, "video toggle")
	if err != nil {
		return err
	}
	c.sendTo(target, Outbound{Event: EventParticipantVideo, Data: VideoToggled{CallID: m.CallID, UserID: from, IsVideoEnabled: m.IsVideoEnabled}})
	metrics.RecordRelay(EventToggleVideo)
	return nil
}
