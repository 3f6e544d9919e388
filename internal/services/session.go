package services

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"studyrewards-backend/internal/logger"
	"studyrewards-backend/internal/models"
)

// SessionService is the per-user session state machine. Every mutation of a
// user's record goes through the user's lock, re-reads the record and checks
// the session generation before writing.
type SessionService struct {
	store      UserStore
	scheduler  *SessionScheduler
	dispatcher SettlementDispatcher
	settlement *SettlementCoordinator
	badges     *BadgeEvaluator
	notifier   Notifier
	clock      clockwork.Clock
	durations  []int
	locks      *userLocks
	encourage  func() string
	logger     zerolog.Logger
}

// NewSessionService binds the service to scheduler as its timer handler.
func NewSessionService(
	store UserStore,
	scheduler *SessionScheduler,
	dispatcher SettlementDispatcher,
	settlement *SettlementCoordinator,
	badges *BadgeEvaluator,
	notifier Notifier,
	clock clockwork.Clock,
	durations []int,
) *SessionService {
	s := &SessionService{
		store:      store,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		settlement: settlement,
		badges:     badges,
		notifier:   notifier,
		clock:      clock,
		durations:  slices.Clone(durations),
		locks:      newUserLocks(),
		encourage:  randomEncouragement,
		logger:     logger.WithComponent("sessions"),
	}
	scheduler.bind(s)
	return s
}

// DurationOptions returns the allowed session lengths in minutes.
func (s *SessionService) DurationOptions() []int {
	return slices.Clone(s.durations)
}

// Start opens a new session for the user and arms its timers.
func (s *SessionService) Start(ctx context.Context, userID uuid.UUID, durationMinutes int) (*models.SessionDescriptor, error) {
	if !slices.Contains(s.durations, durationMinutes) {
		return nil, ErrInvalidDuration
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	user, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.Status().Active() {
		return nil, ErrSessionAlreadyActive
	}

	prev := user.Status()
	now := s.clock.Now().UTC()
	user.Session = &models.SessionState{
		Status:          models.SessionInProgress,
		Generation:      uuid.New(),
		StartTime:       now,
		DurationMinutes: durationMinutes,
	}
	user.UpdatedAt = now
	if err := s.store.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	desc := descriptorFor(user)
	s.scheduler.Arm(desc)

	sessionsStartedTotal.WithLabelValues(strconv.Itoa(durationMinutes)).Inc()
	s.logTransition(userID, desc.Generation, prev, models.SessionInProgress)
	s.notifier.Notify(ctx, userID, msgSessionStarted(durationMinutes))

	return &desc, nil
}

// Cancel ends an in-progress session without reward. The record is reset to
// idle and the session's timers are invalidated.
func (s *SessionService) Cancel(ctx context.Context, userID uuid.UUID) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	user, err := s.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user.Status() != models.SessionInProgress {
		return ErrNoActiveSession
	}

	generation := user.Session.Generation
	user.Session = nil
	user.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.Save(ctx, user); err != nil {
		return fmt.Errorf("save cancellation: %w", err)
	}

	s.scheduler.Disarm(userID, generation)

	sessionsCancelledTotal.Inc()
	s.logTransition(userID, generation, models.SessionInProgress, models.SessionCancelled)
	s.logTransition(userID, generation, models.SessionCancelled, models.SessionIdle)
	s.notifier.Notify(ctx, userID, msgSessionCancelled())
	return nil
}

// Status builds the read model for the user's current session.
func (s *SessionService) Status(ctx context.Context, userID uuid.UUID) (*models.SessionStatusView, error) {
	user, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	view := &models.SessionStatusView{
		Status:                user.Status(),
		CompletedSessionCount: user.CompletedSessionCount,
		BadgesIssued:          slices.Clone(user.BadgesIssued),
	}
	if view.BadgesIssued == nil {
		view.BadgesIssued = []models.Tier{}
	}

	sess := user.Session
	if sess == nil {
		return view, nil
	}
	generation, start := sess.Generation, sess.StartTime
	view.Generation = &generation
	view.StartTime = &start
	view.DurationMinutes = sess.DurationMinutes

	elapsed := sess.Duration()
	if sess.Status == models.SessionInProgress {
		elapsed = min(max(s.clock.Since(sess.StartTime), 0), sess.Duration())
	}
	view.ElapsedSeconds = int(elapsed / time.Second)
	view.RemainingSeconds = int((sess.Duration() - elapsed) / time.Second)
	return view, nil
}

// onInterim notifies under the user lock, so it cannot interleave with Cancel.
func (s *SessionService) onInterim(ctx context.Context, userID, generation uuid.UUID) {
	unlock := s.locks.lock(userID)
	defer unlock()

	user, err := s.store.Get(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str(logger.FieldUserID, userID.String()).Msg("interim: failed to load user")
		return
	}
	if !sessionMatches(user, models.SessionInProgress, generation) {
		return
	}
	s.notifier.Notify(ctx, userID, s.encourage())
}

func (s *SessionService) onElapsed(ctx context.Context, userID, generation uuid.UUID) {
	ok, err := s.markCompleting(ctx, userID, generation)
	if err != nil {
		s.logger.Error().Err(err).
			Str(logger.FieldUserID, userID.String()).
			Str(logger.FieldGeneration, generation.String()).
			Msg("failed to mark session completing")
		return
	}
	if !ok {
		return
	}
	s.dispatch(ctx, userID, generation)
}

// markCompleting moves an in-progress session of the given generation to
// completing. It reports false when the session was cancelled or replaced.
func (s *SessionService) markCompleting(ctx context.Context, userID, generation uuid.UUID) (bool, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	user, err := s.store.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	if !sessionMatches(user, models.SessionInProgress, generation) {
		return false, nil
	}

	user.Session.Status = models.SessionCompleting
	user.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.Save(ctx, user); err != nil {
		return false, fmt.Errorf("save completing: %w", err)
	}

	s.logTransition(userID, generation, models.SessionInProgress, models.SessionCompleting)
	return true, nil
}

func (s *SessionService) dispatch(ctx context.Context, userID, generation uuid.UUID) {
	job := models.SettlementJob{
		UserID:     userID,
		Generation: generation,
		EnqueuedAt: s.clock.Now().UTC(),
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		s.logger.Error().Err(err).
			Str(logger.FieldUserID, userID.String()).
			Str(logger.FieldGeneration, generation.String()).
			Msg("failed to dispatch settlement, recovery will retry")
	}
}

// Settle runs the settlement pipeline for one completing session and resolves
// it to completed or idle. Jobs for a session that is no longer completing
// under the same generation are ignored, so redelivery is harmless.
func (s *SessionService) Settle(ctx context.Context, job models.SettlementJob) error {
	user, err := s.store.Get(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !sessionMatches(user, models.SessionCompleting, job.Generation) {
		s.logger.Debug().
			Str(logger.FieldUserID, job.UserID.String()).
			Str(logger.FieldGeneration, job.Generation.String()).
			Msg("stale settlement job ignored")
		return nil
	}

	settleErr := s.runSettlement(ctx, user)
	settlementsTotal.WithLabelValues(settlementResult(settleErr)).Inc()

	outcome := models.OutcomeSuccess
	if settleErr != nil {
		outcome = models.OutcomeFailure
	}

	final, err := s.finalize(ctx, job.UserID, job.Generation, outcome)
	if err != nil {
		return err
	}
	if final == nil {
		return nil
	}

	if settleErr != nil {
		s.notifier.Notify(ctx, job.UserID, msgSettlementFailed(settleErr))
		return nil
	}

	s.notifier.Notify(ctx, job.UserID, msgSettled(s.settlement.RewardAmount(), final.CompletedSessionCount))
	s.evaluateBadges(ctx, final)
	return nil
}

// runSettlement turns a panic in the pipeline into a settlement failure so the
// session still reaches a terminal state.
func (s *SessionService) runSettlement(ctx context.Context, user *models.UserRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str(logger.FieldUserID, user.ID.String()).
				Interface("panic", r).
				Msg("settlement pipeline panicked")
			err = settlementErr(ErrSettlementFailed, fmt.Errorf("panic: %v", r))
		}
	}()
	return s.settlement.Settle(ctx, user)
}

// finalize applies the settlement outcome. It returns nil without error when
// the session already left completing for that generation.
func (s *SessionService) finalize(ctx context.Context, userID, generation uuid.UUID, outcome models.Outcome) (*models.UserRecord, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	user, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !sessionMatches(user, models.SessionCompleting, generation) {
		return nil, nil
	}

	next := models.SessionIdle
	switch outcome {
	case models.OutcomeSuccess:
		user.Session.Status = models.SessionCompleted
		user.CompletedSessionCount++
		next = models.SessionCompleted
	default:
		user.Session = nil
	}
	user.UpdatedAt = s.clock.Now().UTC()

	if err := s.store.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("save %s outcome: %w", outcome, err)
	}

	s.logTransition(userID, generation, models.SessionCompleting, next)
	return user, nil
}

// evaluateBadges never changes the session outcome. A tier found issued or
// freshly minted is written to the local cache under the user lock.
func (s *SessionService) evaluateBadges(ctx context.Context, user *models.UserRecord) {
	result, err := s.badges.Evaluate(ctx, user)
	if err != nil {
		s.logger.Warn().Err(err).
			Str(logger.FieldUserID, user.ID.String()).
			Str(logger.FieldTier, string(result.Tier)).
			Msg("badge evaluation failed")
		s.notifier.Notify(ctx, user.ID, msgBadgeFailed(result.Tier))
		return
	}
	uncached := result.AlreadyIssued && !user.HasBadge(result.Tier)
	if !result.Minted && !uncached {
		return
	}

	if err := s.recordBadge(ctx, user.ID, result.Tier); err != nil {
		s.logger.Warn().Err(err).
			Str(logger.FieldUserID, user.ID.String()).
			Str(logger.FieldTier, string(result.Tier)).
			Msg("failed to cache issued badge")
	}
	if result.Minted {
		s.notifier.Notify(ctx, user.ID, msgBadgeMinted(result.Tier))
	}
}

func (s *SessionService) recordBadge(ctx context.Context, userID uuid.UUID, tier models.Tier) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	user, err := s.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user.HasBadge(tier) {
		return nil
	}
	user.MarkBadge(tier)
	user.UpdatedAt = s.clock.Now().UTC()
	return s.store.Save(ctx, user)
}

func (s *SessionService) logTransition(userID, generation uuid.UUID, from, to models.SessionStatus) {
	s.logger.Info().
		Str(logger.FieldEvent, "session_transition").
		Str(logger.FieldUserID, userID.String()).
		Str(logger.FieldGeneration, generation.String()).
		Str(logger.FieldOldState, string(from)).
		Str(logger.FieldNewState, string(to)).
		Msg("session state changed")
}

func sessionMatches(user *models.UserRecord, status models.SessionStatus, generation uuid.UUID) bool {
	return user.Session != nil && user.Session.Status == status && user.Session.Generation == generation
}

func descriptorFor(user *models.UserRecord) models.SessionDescriptor {
	return models.SessionDescriptor{
		UserID:          user.ID,
		Generation:      user.Session.Generation,
		StartTime:       user.Session.StartTime,
		DurationMinutes: user.Session.DurationMinutes,
		Deadline:        user.Session.Deadline(),
	}
}

// userLocks is a keyed mutex. Entries are dropped once no goroutine holds or
// waits on them.
type userLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[uuid.UUID]*userLock)}
}

func (l *userLocks) lock(userID uuid.UUID) func() {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
