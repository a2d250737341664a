package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"call-signaling/internal/calls"
)

// Repository is the persistence contract for call events. It is append-only:
// there is no Update or Delete.
type Repository interface {
	Append(ctx context.Context, events ...Event) error
}

// Service validates and stamps events before they reach the repository.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, events ...Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if len(events) == 0 {
		return nil
	}

	now := s.clock().UTC()
	stamped := make([]Event, len(events))
	for i, e := range events {
		if e.CallID == "" || e.Type == "" {
			return ErrInvalidEvent
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.OccurredAt.IsZero() {
			e.OccurredAt = e.CreatedAt
		}
		stamped[i] = e
	}
	return s.repo.Append(ctx, stamped...)
}

// FromTransition maps a session transition to its audit event.
func FromTransition(t calls.Transition) (Event, bool) {
	var typ EventType
	switch t.To {
	case calls.CallStatusCalling:
		typ = EventTypeCallInitiated
	case calls.CallStatusAccepted:
		typ = EventTypeCallAccepted
	case calls.CallStatusConnected:
		typ = EventTypeCallConnected
	case calls.CallStatusRejected:
		typ = EventTypeCallRejected
	case calls.CallStatusEnded:
		typ = EventTypeCallEnded
	default:
		return Event{}, false
	}

	s := t.Session
	e := Event{
		CallID:        s.ID,
		Type:          typ,
		CallerID:      s.CallerID,
		ParticipantID: s.ParticipantID,
		CallType:      string(s.Type),
		OccurredAt:    t.At.UTC(),
	}
	switch typ {
	case EventTypeCallRejected:
		e.ActorUserID = s.ParticipantID
		e.Reason = calls.RejectReasonDeclined
	case EventTypeCallEnded:
		e.ActorUserID = s.EndedBy
		e.Reason = string(s.EndReason)
		e.DurationSeconds = s.Duration
	}
	return e, true
}
