package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"studyrewards-backend/internal/logger"
	"studyrewards-backend/internal/models"
)

type tierThreshold struct {
	tier  models.Tier
	count int
}

// BadgeResult describes what one evaluation did.
type BadgeResult struct {
	Tier          models.Tier
	Qualified     bool
	AlreadyIssued bool
	Minted        bool
	TxHash        string
}

// BadgeEvaluator maps completed-session counts to badge tiers and mints the
// highest qualifying tier through the ledger at most once.
type BadgeEvaluator struct {
	ledger     Ledger
	thresholds []tierThreshold // highest count first
	logger     zerolog.Logger
}

func NewBadgeEvaluator(ledger Ledger, thresholds map[models.Tier]int) *BadgeEvaluator {
	ts := make([]tierThreshold, 0, len(thresholds))
	for tier, count := range thresholds {
		ts = append(ts, tierThreshold{tier: tier, count: count})
	}
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].count == ts[j].count {
			return ts[i].tier > ts[j].tier
		}
		return ts[i].count > ts[j].count
	})

	return &BadgeEvaluator{
		ledger:     ledger,
		thresholds: ts,
		logger:     logger.WithComponent("badges"),
	}
}

// TierFor returns the highest tier whose threshold count is met.
func (e *BadgeEvaluator) TierFor(count int) (models.Tier, bool) {
	for _, t := range e.thresholds {
		if count >= t.count {
			return t.tier, true
		}
	}
	return "", false
}

// Evaluate attempts the single highest qualifying tier for user. Lower tiers
// passed over since the last evaluation are not backfilled. The caller owns
// persisting result.Tier into user.BadgesIssued when AlreadyIssued or Minted.
func (e *BadgeEvaluator) Evaluate(ctx context.Context, user *models.UserRecord) (BadgeResult, error) {
	tier, ok := e.TierFor(user.CompletedSessionCount)
	if !ok {
		return BadgeResult{}, nil
	}
	result := BadgeResult{Tier: tier, Qualified: true}

	if user.HasBadge(tier) {
		result.AlreadyIssued = true
		return result, nil
	}

	log := e.logger.With().
		Str(logger.FieldUserID, user.ID.String()).
		Str(logger.FieldTier, string(tier)).
		Logger()

	issued, err := e.ledger.HasBadge(ctx, user.Address, tier)
	if err != nil {
		badgeMintsTotal.WithLabelValues(string(tier), "check_failed").Inc()
		return result, fmt.Errorf("%w: check %s: %v", ErrBadgeIssuanceFailed, tier, err)
	}
	if issued {
		log.Info().Msg("badge already issued on ledger")
		result.AlreadyIssued = true
		return result, nil
	}

	if _, err := e.ledger.RecordAttempt(ctx, user.Address, int64(user.CompletedSessionCount)); err != nil {
		badgeMintsTotal.WithLabelValues(string(tier), "record_failed").Inc()
		return result, fmt.Errorf("%w: record attempt for %s: %v", ErrBadgeIssuanceFailed, tier, err)
	}

	txHash, err := e.ledger.MintBadge(ctx, user.Address, tier)
	if err != nil {
		badgeMintsTotal.WithLabelValues(string(tier), "mint_failed").Inc()
		return result, fmt.Errorf("%w: mint %s: %v", ErrBadgeIssuanceFailed, tier, err)
	}

	badgeMintsTotal.WithLabelValues(string(tier), "minted").Inc()
	log.Info().Str(logger.FieldTxHash, txHash).Msg("badge minted")

	result.Minted = true
	result.TxHash = txHash
	return result, nil
}
