package audit

import "time"

// Event is one append-only record of a call lifecycle step.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id and type are required.
// - Recording is best-effort; signaling never waits on it.
//
// Storage (Postgres): table call_events, INSERT-only, indexed by occurred_at
// and call_id. See internal/db/migrations.
type Event struct {
	ID     string    `json:"id" db:"id"`
	CallID string    `json:"call_id" db:"call_id"`
	Type   EventType `json:"type" db:"type"`

	CallerID      string `json:"caller_id" db:"caller_id"`
	ParticipantID string `json:"participant_id" db:"participant_id"`
	CallType      string `json:"call_type" db:"call_type"`

	// ActorUserID is who ended the call, when known.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	// Reason is the end reason for call_ended and "declined" for call_rejected.
	Reason          string `json:"reason,omitempty" db:"reason"`
	DurationSeconds int    `json:"duration_seconds" db:"duration_seconds"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallInitiated EventType = "call_initiated"
	EventTypeCallAccepted  EventType = "call_accepted"
	EventTypeCallConnected EventType = "call_connected"
	EventTypeCallRejected  EventType = "call_rejected"
	EventTypeCallEnded     EventType = "call_ended"
)
