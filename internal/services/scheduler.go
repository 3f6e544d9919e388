package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"studyrewards-backend/internal/logger"
	"studyrewards-backend/internal/models"
)

// scheduleHandler receives timer events for a session generation.
type scheduleHandler interface {
	onInterim(ctx context.Context, userID, generation uuid.UUID)
	onElapsed(ctx context.Context, userID, generation uuid.UUID)
}

type armedSession struct {
	generation uuid.UUID
	timers     []clockwork.Timer
}

// SessionScheduler owns the deferred callbacks of every armed session in this
// process. At most one generation is armed per user; a callback whose
// generation is no longer armed discards itself.
type SessionScheduler struct {
	clock   clockwork.Clock
	cadence time.Duration
	handler scheduleHandler

	mu    sync.Mutex
	armed map[uuid.UUID]*armedSession

	logger zerolog.Logger
}

func NewSessionScheduler(clock clockwork.Clock, cadenceMinutes int) *SessionScheduler {
	return &SessionScheduler{
		clock:   clock,
		cadence: time.Duration(cadenceMinutes) * time.Minute,
		armed:   make(map[uuid.UUID]*armedSession),
		logger:  logger.WithComponent("scheduler"),
	}
}

func (s *SessionScheduler) bind(h scheduleHandler) {
	s.handler = h
}

// CadenceFor shortens the configured cadence for short sessions so at least
// one interim boundary falls before the deadline.
func (s *SessionScheduler) CadenceFor(duration time.Duration) time.Duration {
	if s.cadence < duration {
		return s.cadence
	}
	return duration / 2
}

// InterimOffsets lists the interim boundaries, relative to the start, that fall
// strictly before the deadline.
func (s *SessionScheduler) InterimOffsets(duration time.Duration) []time.Duration {
	cadence := s.CadenceFor(duration)
	if cadence <= 0 {
		return nil
	}
	var offsets []time.Duration
	for at := cadence; at < duration; at += cadence {
		offsets = append(offsets, at)
	}
	return offsets
}

// Arm registers the interim and elapsed callbacks for desc, replacing any
// generation previously armed for the same user. Boundaries already in the
// past are skipped; a past deadline fires elapsed immediately.
func (s *SessionScheduler) Arm(desc models.SessionDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disarmLocked(desc.UserID)

	now := s.clock.Now()
	duration := desc.Deadline.Sub(desc.StartTime)
	userID, generation := desc.UserID, desc.Generation

	armed := &armedSession{generation: generation}
	for _, offset := range s.InterimOffsets(duration) {
		at := desc.StartTime.Add(offset)
		if !at.After(now) {
			continue
		}
		armed.timers = append(armed.timers, s.clock.AfterFunc(at.Sub(now), func() {
			s.fireInterim(userID, generation)
		}))
	}
	armed.timers = append(armed.timers, s.clock.AfterFunc(max(desc.Deadline.Sub(now), 0), func() {
		s.fireElapsed(userID, generation)
	}))

	s.armed[userID] = armed
	armedSessions.Set(float64(len(s.armed)))

	s.logger.Debug().
		Str(logger.FieldUserID, userID.String()).
		Str(logger.FieldGeneration, generation.String()).
		Int("timers", len(armed.timers)).
		Time("deadline", desc.Deadline).
		Msg("session armed")
}

// Disarm invalidates generation for the user and stops its timers. It is a
// no-op when a different generation is armed.
func (s *SessionScheduler) Disarm(userID, generation uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	armed, ok := s.armed[userID]
	if !ok || armed.generation != generation {
		return
	}
	s.disarmLocked(userID)
}

// IsArmed reports whether generation is the live timer set for the user.
func (s *SessionScheduler) IsArmed(userID, generation uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	armed, ok := s.armed[userID]
	return ok && armed.generation == generation
}

// Stop disarms every session. Persisted sessions are re-armed by recovery on
// the next start.
func (s *SessionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userID := range s.armed {
		s.disarmLocked(userID)
	}
}

func (s *SessionScheduler) disarmLocked(userID uuid.UUID) {
	armed, ok := s.armed[userID]
	if !ok {
		return
	}
	for _, t := range armed.timers {
		t.Stop()
	}
	delete(s.armed, userID)
	armedSessions.Set(float64(len(s.armed)))
}

func (s *SessionScheduler) fireInterim(userID, generation uuid.UUID) {
	if !s.IsArmed(userID, generation) {
		return
	}
	s.handler.onInterim(context.Background(), userID, generation)
}

// fireElapsed consumes the timer set: elapsed is delivered at most once per generation.
func (s *SessionScheduler) fireElapsed(userID, generation uuid.UUID) {
	s.mu.Lock()
	armed, ok := s.armed[userID]
	if !ok || armed.generation != generation {
		s.mu.Unlock()
		return
	}
	delete(s.armed, userID)
	armedSessions.Set(float64(len(s.armed)))
	s.mu.Unlock()

	s.handler.onElapsed(context.Background(), userID, generation)
}
