package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// UserRecord is the durable per-user state the session core reads and mutates.
// Address is assigned by onboarding and never changed here.
type UserRecord struct {
	ID                    uuid.UUID     `json:"id"`
	Address               string        `json:"address"`
	Session               *SessionState `json:"session,omitempty"`
	CompletedSessionCount int           `json:"completed_session_count"`
	BadgesIssued          []Tier        `json:"badges_issued"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// Status returns the current session status; a record without a session is idle.
func (u *UserRecord) Status() SessionStatus {
	if u.Session == nil {
		return SessionIdle
	}
	return u.Session.Status
}

// HasBadge reports whether the tier is in the local issued cache.
func (u *UserRecord) HasBadge(tier Tier) bool {
	return slices.Contains(u.BadgesIssued, tier)
}

// MarkBadge adds tier to the issued cache if it is not there yet.
func (u *UserRecord) MarkBadge(tier Tier) {
	if !u.HasBadge(tier) {
		u.BadgesIssued = append(u.BadgesIssued, tier)
	}
}

// Clone returns a deep copy so cached records are never mutated in place.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	c := *u
	if u.Session != nil {
		s := *u.Session
		c.Session = &s
	}
	c.BadgesIssued = slices.Clone(u.BadgesIssued)
	return &c
}
