package signaling

import (
	"log/slog"

	"call-signaling/internal/metrics"
)

// PresenceSink mirrors online/offline changes outside the process. Calls come
// from the coordinator loop and must not block.
type PresenceSink interface {
	Online(id Identity)
	Offline(identityID string)
}

type presence struct {
	reg  *Registry
	sink PresenceSink
	log  *slog.Logger
}

// announceOnline tells every other online connection that id came online.
func (p *presence) announceOnline(id Identity, except string) {
	msg := Outbound{Event: EventUserOnline, Data: UserOnline{UserID: id.ID, UserData: id.Profile}}
	p.broadcast(msg, except)
	if p.sink != nil {
		p.sink.Online(id)
	}
	metrics.SetOnlineUsers(p.reg.Len())
}

func (p *presence) announceOffline(identityID, except string) {
	msg := Outbound{Event: EventUserOffline, Data: UserOffline{UserID: identityID}}
	p.broadcast(msg, except)
	if p.sink != nil {
		p.sink.Offline(identityID)
	}
	metrics.SetOnlineUsers(p.reg.Len())
}

// sendSnapshot delivers the sorted online list, minus self, to a fresh connection.
func (p *presence) sendSnapshot(conn Conn, self string) {
	all := p.reg.Identities()
	others := make([]string, 0, len(all))
	for _, id := range all {
		if id != self {
			others = append(others, id)
		}
	}
	deliver(p.log, conn, Outbound{Event: EventOnlineUsers, Data: others})
}

func (p *presence) broadcast(msg Outbound, except string) {
	p.reg.each(func(_ string, c Conn) {
		if c.ID() == except {
			return
		}
		deliver(p.log, c, msg)
	})
}

// deliver is best effort: a failed send is counted and logged, never retried.
func deliver(log *slog.Logger, c Conn, msg Outbound) {
	if err := c.Send(msg); err != nil {
		metrics.RecordDroppedMessage(msg.Event)
		log.Debug("outbound dropped", "conn_id", c.ID(), "event", msg.Event, "err", err)
	}
}
