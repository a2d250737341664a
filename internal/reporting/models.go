package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest asks for aggregated call history over [From, To).
type CallsSummaryRequest struct {
	Range TimeRange `json:"range"`
	// CallType narrows the report to voice or video; empty means both.
	CallType string `json:"call_type,omitempty"`
}

type CallsSummary struct {
	Range    TimeRange `json:"range"`
	CallType string    `json:"call_type,omitempty"`

	AttemptedCalls int `json:"attempted_calls"`
	AcceptedCalls  int `json:"accepted_calls"`
	ConnectedCalls int `json:"connected_calls"`
	RejectedCalls  int `json:"rejected_calls"`
	EndedCalls     int `json:"ended_calls"`

	// EndedByReason counts ended calls per reason (ended, timeout, disconnection).
	EndedByReason map[string]int `json:"ended_by_reason"`

	VoiceCalls int `json:"voice_calls"`
	VideoCalls int `json:"video_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	ConnectionRate float64 `json:"connection_rate"`
}
