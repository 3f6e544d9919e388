package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"studyrewards-backend/internal/logger"
	"studyrewards-backend/internal/models"
)

const (
	// settlementGracePeriod is how long a completing session may wait for its
	// queued settlement before the sweeper dispatches it again.
	settlementGracePeriod = 10 * time.Minute
	sweepTimeout          = 2 * time.Minute
)

// SweepReport counts what one recovery pass did.
type SweepReport struct {
	Rearmed      int
	Redispatched int
}

// RecoverySweeper restores timers and settlements lost to a restart. It runs
// once on Start and then on the configured cron schedule.
type RecoverySweeper struct {
	lister   SessionLister
	sessions *SessionService
	grace    time.Duration
	cron     *cron.Cron
	logger   zerolog.Logger
}

func NewRecoverySweeper(lister SessionLister, sessions *SessionService, schedule string) (*RecoverySweeper, error) {
	r := &RecoverySweeper{
		lister:   lister,
		sessions: sessions,
		grace:    settlementGracePeriod,
		logger:   logger.WithComponent("recovery"),
	}
	r.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := r.cron.AddFunc(schedule, r.runScheduled); err != nil {
		return nil, fmt.Errorf("invalid recovery schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *RecoverySweeper) Start(ctx context.Context) {
	r.Sweep(ctx)
	r.cron.Start()
	r.logger.Info().Msg("recovery sweeper started")
}

// Stop waits for a running sweep to finish.
func (r *RecoverySweeper) Stop() {
	<-r.cron.Stop().Done()
}

func (r *RecoverySweeper) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	r.Sweep(ctx)
}

// Sweep re-arms in-progress sessions that have no timers in this process and
// re-dispatches completing sessions whose settlement has not resolved within
// the grace period.
func (r *RecoverySweeper) Sweep(ctx context.Context) SweepReport {
	var report SweepReport
	now := r.sessions.clock.Now()

	inProgress, err := r.lister.ListByStatus(ctx, models.SessionInProgress)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list in-progress sessions")
	}
	for _, user := range inProgress {
		rearmed, err := r.sessions.rearm(ctx, user)
		if err != nil {
			r.logger.Warn().Err(err).Str(logger.FieldUserID, user.ID.String()).Msg("failed to re-arm session")
			continue
		}
		if rearmed {
			report.Rearmed++
		}
	}

	completing, err := r.lister.ListByStatus(ctx, models.SessionCompleting)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list completing sessions")
	}
	for _, user := range completing {
		if user.Session == nil || !settlementOverdue(user.UpdatedAt, r.grace, now) {
			continue
		}
		r.sessions.dispatch(ctx, user.ID, user.Session.Generation)
		report.Redispatched++
	}

	if report.Rearmed > 0 || report.Redispatched > 0 {
		r.logger.Info().
			Int("rearmed", report.Rearmed).
			Int("redispatched", report.Redispatched).
			Msg("recovery sweep restored sessions")
	}
	return report
}

func settlementOverdue(updatedAt time.Time, grace time.Duration, now time.Time) bool {
	if updatedAt.IsZero() {
		return true
	}
	return !now.Before(updatedAt.Add(grace))
}

// rearm arms timers for an in-progress session that this process is not
// tracking. A deadline already in the past fires elapsed immediately.
func (s *SessionService) rearm(ctx context.Context, listed *models.UserRecord) (bool, error) {
	if listed.Session == nil {
		return false, nil
	}
	generation := listed.Session.Generation
	if s.scheduler.IsArmed(listed.ID, generation) {
		return false, nil
	}

	unlock := s.locks.lock(listed.ID)
	defer unlock()

	user, err := s.store.Get(ctx, listed.ID)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	if !sessionMatches(user, models.SessionInProgress, generation) || s.scheduler.IsArmed(user.ID, generation) {
		return false, nil
	}

	s.scheduler.Arm(descriptorFor(user))
	return true, nil
}
