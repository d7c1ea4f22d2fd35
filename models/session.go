package models

import "time"

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

type EndReason string

const (
	EndReasonManual  EndReason = "manual"
	EndReasonTimeout EndReason = "timeout"
)

// Session is the lifecycle record for the editor source. The sessionId is
// supplied by the producer (one per editor instance).
type Session struct {
	ID            string        `json:"session_id"`
	StartTime     time.Time     `json:"start_time"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	EndTime       *time.Time    `json:"end_time,omitempty"`
	Status        SessionStatus `json:"status"`
	EndReason     EndReason     `json:"end_reason,omitempty"`
}

// Ended reports whether the session has reached its terminal state.
func (s *Session) Ended() bool {
	return s.Status == SessionEnded
}

// Duration returns (endTime ?? now) - startTime.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}
