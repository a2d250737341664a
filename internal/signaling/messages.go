package signaling

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"call-signaling/internal/calls"
)

// Inbound event names.
const (
	EventAuthenticate = "authenticate"
	EventInitiateCall = "initiateCall"
	EventAcceptCall   = "acceptCall"
	EventRejectCall   = "rejectCall"
	EventEndCall      = "endCall"
	EventWebRTCOffer  = "webrtcOffer"
	EventWebRTCAnswer = "webrtcAnswer"
	EventICECandidate = "iceCandidate"
	EventToggleMute   = "toggleMute"
	EventToggleVideo  = "toggleVideo"
)

// Outbound-only event names. Relay events reuse the inbound names.
const (
	EventOnlineUsers      = "onlineUsers"
	EventUserOnline       = "userOnline"
	EventUserOffline      = "userOffline"
	EventCallInitiated    = "callInitiated"
	EventIncomingCall     = "incomingCall"
	EventCallAccepted     = "callAccepted"
	EventCallConnected    = "callConnected"
	EventCallRejected     = "callRejected"
	EventCallEnded        = "callEnded"
	EventParticipantMute  = "participantMuteToggle"
	EventParticipantVideo = "participantVideoToggle"
	EventCallError        = "callError"
)

// Inbound is the closed set of client requests. Values are produced by
// DecodeInbound and are already validated.
type Inbound interface {
	Event() string
	inbound()
}

type Authenticate struct {
	Identity Identity
}

type InitiateCall struct {
	ParticipantID string
	CallType      calls.CallType
}

type AcceptCall struct{ CallID string }

type RejectCall struct{ CallID string }

type EndCall struct{ CallID string }

// Relay is an opaque WebRTC negotiation payload addressed to the other party.
type Relay struct {
	Kind    RelayKind
	CallID  string
	Payload json.RawMessage
}

type ToggleMute struct {
	CallID  string
	IsMuted bool
}

type ToggleVideo struct {
	CallID         string
	IsVideoEnabled bool
}

func (Authenticate) Event() string { return EventAuthenticate }
func (InitiateCall) Event() string { return EventInitiateCall }
func (AcceptCall) Event() string   { return EventAcceptCall }
func (RejectCall) Event() string   { return EventRejectCall }
func (EndCall) Event() string      { return EventEndCall }
func (r Relay) Event() string      { return r.Kind.Event() }
func (ToggleMute) Event() string   { return EventToggleMute }
func (ToggleVideo) Event() string  { return EventToggleVideo }

func (Authenticate) inbound() {}
func (InitiateCall) inbound() {}
func (AcceptCall) inbound()   {}
func (RejectCall) inbound()   {}
func (EndCall) inbound()      {}
func (Relay) inbound()        {}
func (ToggleMute) inbound()   {}
func (ToggleVideo) inbound()  {}

type RelayKind int

const (
	RelayOffer RelayKind = iota + 1
	RelayAnswer
	RelayCandidate
)

func (k RelayKind) Event() string {
	switch k {
	case RelayOffer:
		return EventWebRTCOffer
	case RelayAnswer:
		return EventWebRTCAnswer
	case RelayCandidate:
		return EventICECandidate
	default:
		return ""
	}
}

// Label is the human-readable name used in callError messages.
func (k RelayKind) Label() string {
	switch k {
	case RelayOffer:
		return "WebRTC offer"
	case RelayAnswer:
		return "WebRTC answer"
	case RelayCandidate:
		return "ICE candidate"
	default:
		return "signal"
	}
}

func (k RelayKind) field() string {
	switch k {
	case RelayOffer:
		return "offer"
	case RelayAnswer:
		return "answer"
	default:
		return "candidate"
	}
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeInbound parses one client frame. Every failure is a *CallError of
// kind ErrMalformed so it can be reported back verbatim.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed("Invalid message format")
	}

	switch env.Event {
	case EventAuthenticate:
		return decodeAuthenticate(env.Data)
	case EventInitiateCall:
		return decodeInitiate(env.Data)
	case EventAcceptCall:
		id, err := decodeCallRef(env.Event, env.Data)
		return AcceptCall{CallID: id}, err
	case EventRejectCall:
		id, err := decodeCallRef(env.Event, env.Data)
		return RejectCall{CallID: id}, err
	case EventEndCall:
		id, err := decodeCallRef(env.Event, env.Data)
		return EndCall{CallID: id}, err
	case EventWebRTCOffer:
		return decodeRelay(RelayOffer, env.Data)
	case EventWebRTCAnswer:
		return decodeRelay(RelayAnswer, env.Data)
	case EventICECandidate:
		return decodeRelay(RelayCandidate, env.Data)
	case EventToggleMute:
		var p struct {
			CallID  json.RawMessage `json:"callId"`
			IsMuted *bool           `json:"isMuted"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, malformed("Invalid %s payload", env.Event)
		}
		id, ok := decodeID(p.CallID)
		if !ok || p.IsMuted == nil {
			return nil, malformed("%s requires callId and isMuted", env.Event)
		}
		return ToggleMute{CallID: id, IsMuted: *p.IsMuted}, nil
	case EventToggleVideo:
		var p struct {
			CallID         json.RawMessage `json:"callId"`
			IsVideoEnabled *bool           `json:"isVideoEnabled"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, malformed("Invalid %s payload", env.Event)
		}
		id, ok := decodeID(p.CallID)
		if !ok || p.IsVideoEnabled == nil {
			return nil, malformed("%s requires callId and isVideoEnabled", env.Event)
		}
		return ToggleVideo{CallID: id, IsVideoEnabled: *p.IsVideoEnabled}, nil
	case "":
		return nil, malformed("Missing event name")
	default:
		return nil, malformed("Unknown event %q", env.Event)
	}
}

func decodeAuthenticate(data json.RawMessage) (Inbound, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, malformed("authenticate requires a user object")
	}
	var p struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, malformed("Invalid authenticate payload")
	}
	id, ok := decodeID(p.ID)
	if !ok {
		return nil, malformed("authenticate requires a user id")
	}
	profile := make(json.RawMessage, len(trimmed))
	copy(profile, trimmed)
	return Authenticate{Identity: Identity{ID: id, Profile: profile}}, nil
}

func decodeInitiate(data json.RawMessage) (Inbound, error) {
	var p struct {
		ParticipantID json.RawMessage `json:"participantId"`
		CallType      string          `json:"callType"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, malformed("Invalid initiateCall payload")
	}
	id, ok := decodeID(p.ParticipantID)
	if !ok {
		return nil, malformed("initiateCall requires participantId")
	}
	ct := calls.CallType(strings.ToLower(strings.TrimSpace(p.CallType)))
	if ct == "" {
		ct = calls.CallTypeVoice
	}
	if !ct.Valid() {
		return nil, malformed("Unsupported call type %q", p.CallType)
	}
	return InitiateCall{ParticipantID: id, CallType: ct}, nil
}

// decodeCallRef accepts either a bare callId string or {"callId": "..."}.
func decodeCallRef(event string, data json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var p struct {
			CallID json.RawMessage `json:"callId"`
		}
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return "", malformed("Invalid %s payload", event)
		}
		trimmed = p.CallID
	}
	id, ok := decodeID(trimmed)
	if !ok {
		return "", malformed("%s requires callId", event)
	}
	return id, nil
}

func decodeRelay(kind RelayKind, data json.RawMessage) (Inbound, error) {
	var p map[string]json.RawMessage
	if err := json.Unmarshal(data, &p); err != nil || p == nil {
		return nil, malformed("Invalid %s payload", kind.Event())
	}
	id, ok := decodeID(p["callId"])
	if !ok {
		return nil, malformed("%s requires callId", kind.Event())
	}
	payload := bytes.TrimSpace(p[kind.field()])
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, malformed("%s requires %s", kind.Event(), kind.field())
	}
	return Relay{Kind: kind, CallID: id, Payload: json.RawMessage(payload)}, nil
}

// decodeID accepts a JSON string or number and returns it as a non-empty string.
func decodeID(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), n.String() != ""
	}
	return "", false
}

// Outbound is one server frame: {"event": ..., "data": ...}.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type UserOnline struct {
	UserID   string          `json:"userId"`
	UserData json.RawMessage `json:"userData,omitempty"`
}

type UserOffline struct {
	UserID string `json:"userId"`
}

type Participant struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

type CallInitiated struct {
	CallID      string           `json:"callId"`
	Status      calls.CallStatus `json:"status"`
	Participant Participant      `json:"participant"`
}

type IncomingCall struct {
	CallID    string          `json:"callId"`
	Caller    json.RawMessage `json:"caller"`
	CallType  calls.CallType  `json:"callType"`
	CreatedAt time.Time       `json:"createdAt"`
}

type CallAccepted struct {
	CallID     string           `json:"callId"`
	AcceptedAt time.Time        `json:"acceptedAt"`
	Status     calls.CallStatus `json:"status"`
}

type CallConnected struct {
	CallID      string           `json:"callId"`
	ConnectedAt time.Time        `json:"connectedAt"`
	Status      calls.CallStatus `json:"status"`
}

type CallRejected struct {
	CallID     string    `json:"callId"`
	RejectedAt time.Time `json:"rejectedAt"`
	Reason     string    `json:"reason"`
}

type CallEnded struct {
	CallID   string          `json:"callId"`
	EndedAt  time.Time       `json:"endedAt"`
	Duration int             `json:"duration"`
	EndedBy  string          `json:"endedBy,omitempty"`
	Reason   calls.EndReason `json:"reason"`
}

type OfferRelayed struct {
	CallID string          `json:"callId"`
	Offer  json.RawMessage `json:"offer"`
	From   string          `json:"from"`
}

type AnswerRelayed struct {
	CallID string          `json:"callId"`
	Answer json.RawMessage `json:"answer"`
	From   string          `json:"from"`
}

type CandidateRelayed struct {
	CallID    string          `json:"callId"`
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

type MuteToggled struct {
	CallID  string `json:"callId"`
	UserID  string `json:"userId"`
	IsMuted bool   `json:"isMuted"`
}

type VideoToggled struct {
	CallID         string `json:"callId"`
	UserID         string `json:"userId"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
}

type ErrorNotice struct {
	Message string `json:"message"`
}

func relayedMessage(r Relay, from string) Outbound {
	var data any
	switch r.Kind {
	case RelayOffer:
		data = OfferRelayed{CallID: r.CallID, Offer: r.Payload, From: from}
	case RelayAnswer:
		data = AnswerRelayed{CallID: r.CallID, Answer: r.Payload, From: from}
	default:
		data = CandidateRelayed{CallID: r.CallID, Candidate: r.Payload, From: from}
	}
	return Outbound{Event: r.Kind.Event(), Data: data}
}
