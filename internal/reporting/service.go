package reporting

import (
	"context"
	"errors"
	"time"

	"call-signaling/internal/audit"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository reads the append-only call event history.
type Repository interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]audit.Event, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// CallsSummary aggregates lifecycle events in the range. A call is attempted
// when its call_initiated event falls in the range; later steps are counted by
// their own event time, so a call that straddles the boundary is counted on
// both sides for the steps it took there.
func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.CallType != "" && req.CallType != "voice" && req.CallType != "video" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	events, err := s.repo.ListEvents(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Range: req.Range, CallType: req.CallType, EndedByReason: map[string]int{}}
	connectedEnded := 0
	for _, e := range events {
		if req.CallType != "" && e.CallType != req.CallType {
			continue
		}
		switch e.Type {
		case audit.EventTypeCallInitiated:
			out.AttemptedCalls++
			switch e.CallType {
			case "voice":
				out.VoiceCalls++
			case "video":
				out.VideoCalls++
			}
		case audit.EventTypeCallAccepted:
			out.AcceptedCalls++
		case audit.EventTypeCallConnected:
			out.ConnectedCalls++
		case audit.EventTypeCallRejected:
			out.RejectedCalls++
		case audit.EventTypeCallEnded:
			out.EndedCalls++
			out.EndedByReason[e.Reason]++
			if e.DurationSeconds > 0 {
				out.TotalDurationSeconds += e.DurationSeconds
				connectedEnded++
			}
		}
	}
	if connectedEnded > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / connectedEnded
	}
	if out.AttemptedCalls > 0 {
		out.ConnectionRate = float64(out.ConnectedCalls) / float64(out.AttemptedCalls)
	}
	return out, nil
}
