package calls

import (
	"encoding/json"
	"time"
)

// Session is one in-flight call between two identities.
//
// Lifetime invariant: a Session lives in the coordinator store only while its
// Status is non-terminal (calling, accepted, connected). Terminal sessions are
// dropped right after both parties have been notified.
//
// CallerConn and ParticipantConn are frozen at creation. Authorization always
// compares the acting connection against these fields, never against a fresh
// registry lookup, so a reconnect under the same identity cannot take over a call.
type Session struct {
	ID string `json:"id"`

	CallerID      string `json:"callerId"`
	ParticipantID string `json:"participantId"`

	CallerConn      string `json:"-"`
	ParticipantConn string `json:"-"`

	CallerProfile      json.RawMessage `json:"-"`
	ParticipantProfile json.RawMessage `json:"-"`

	Type   CallType   `json:"callType"`
	Status CallStatus `json:"status"`

	CreatedAt   time.Time  `json:"createdAt"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
	RejectedAt  *time.Time `json:"rejectedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`

	// Duration is the connected time in whole seconds; zero if the call never connected.
	Duration int `json:"duration"`

	EndedBy   string    `json:"endedBy,omitempty"`
	EndReason EndReason `json:"endReason,omitempty"`
}

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

type CallStatus string

const (
	CallStatusCalling   CallStatus = "calling"
	CallStatusAccepted  CallStatus = "accepted"
	CallStatusConnected CallStatus = "connected"
	CallStatusRejected  CallStatus = "rejected"
	CallStatusEnded     CallStatus = "ended"
)

// Terminal reports whether no further transition is possible from s.
func (s CallStatus) Terminal() bool {
	return s == CallStatusRejected || s == CallStatusEnded
}

type EndReason string

const (
	EndReasonEnded         EndReason = "ended"
	EndReasonTimeout       EndReason = "timeout"
	EndReasonDisconnection EndReason = "disconnection"
)

// RejectReasonDeclined is the only rejection reason the participant can produce.
const RejectReasonDeclined = "declined"

// HasParty reports whether connID is one of the two frozen connections.
func (s *Session) HasParty(connID string) bool {
	return connID != "" && (connID == s.CallerConn || connID == s.ParticipantConn)
}

// Counterpart returns the connection and identity on the other side of connID.
// ok is false when connID is not a party to the call.
func (s *Session) Counterpart(connID string) (conn, identity string, ok bool) {
	switch connID {
	case "":
		return "", "", false
	case s.CallerConn:
		return s.ParticipantConn, s.ParticipantID, true
	case s.ParticipantConn:
		return s.CallerConn, s.CallerID, true
	default:
		return "", "", false
	}
}

// IdentityFor returns the identity bound to connID within this call.
func (s *Session) IdentityFor(connID string) (string, bool) {
	switch connID {
	case "":
		return "", false
	case s.CallerConn:
		return s.CallerID, true
	case s.ParticipantConn:
		return s.ParticipantID, true
	default:
		return "", false
	}
}

// ConnectedDuration computes whole seconds between ConnectedAt and end.
// A call that never reached connected has zero duration.
func (s *Session) ConnectedDuration(end time.Time) int {
	if s.ConnectedAt == nil {
		return 0
	}
	d := end.Sub(*s.ConnectedAt)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

// Transition describes one lifecycle step of a Session. It is a value copy and
// safe to hand to asynchronous consumers (audit, metrics).
type Transition struct {
	Session Session
	From    CallStatus
	To      CallStatus
	At      time.Time
}
