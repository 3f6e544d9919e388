package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionIdle       SessionStatus = "idle"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleting SessionStatus = "completing"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

// Active reports whether a new session must be refused.
func (s SessionStatus) Active() bool {
	return s == SessionInProgress || s == SessionCompleting
}

// SessionState is one study session. Generation identifies the session instance
// so timers and queued settlements from an earlier session can be told apart.
type SessionState struct {
	Status          SessionStatus `json:"status"`
	Generation      uuid.UUID     `json:"generation"`
	StartTime       time.Time     `json:"start_time"`
	DurationMinutes int           `json:"duration_minutes"`
}

func (s *SessionState) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

func (s *SessionState) Deadline() time.Time {
	return s.StartTime.Add(s.Duration())
}

// SessionDescriptor is what Start hands to the scheduler and returns to callers.
type SessionDescriptor struct {
	UserID          uuid.UUID `json:"user_id"`
	Generation      uuid.UUID `json:"generation"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Deadline        time.Time `json:"deadline"`
}

// SessionStatusView is the read model served by the status endpoint.
type SessionStatusView struct {
	Status                SessionStatus `json:"status"`
	Generation            *uuid.UUID    `json:"generation,omitempty"`
	StartTime             *time.Time    `json:"start_time,omitempty"`
	DurationMinutes       int           `json:"duration_minutes,omitempty"`
	ElapsedSeconds        int           `json:"elapsed_seconds"`
	RemainingSeconds      int           `json:"remaining_seconds"`
	CompletedSessionCount int           `json:"completed_session_count"`
	BadgesIssued          []Tier        `json:"badges_issued"`
}

// Outcome of a settlement run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Tier is a badge rank unlocked by cumulative completed sessions.
type Tier string

const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)
