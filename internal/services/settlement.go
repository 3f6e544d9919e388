package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"studyrewards-backend/internal/logger"
	"studyrewards-backend/internal/models"
)

// SettlementCoordinator runs the ledger protocol for one completed session:
// preflight, registration check, a single registration repair, reward transfer.
// It never touches session state; the caller finalizes based on the result.
type SettlementCoordinator struct {
	ledger       Ledger
	notifier     Notifier
	rewardAmount int64
	balanceFloor int64
	logger       zerolog.Logger
}

func NewSettlementCoordinator(ledger Ledger, notifier Notifier, rewardAmount, balanceFloor int64) *SettlementCoordinator {
	return &SettlementCoordinator{
		ledger:       ledger,
		notifier:     notifier,
		rewardAmount: rewardAmount,
		balanceFloor: balanceFloor,
		logger:       logger.WithComponent("settlement"),
	}
}

func (c *SettlementCoordinator) RewardAmount() int64 {
	return c.rewardAmount
}

// Settle returns nil when the reward transfer is confirmed, otherwise a
// *SettlementError whose Kind is one of the operational error sentinels.
func (c *SettlementCoordinator) Settle(ctx context.Context, user *models.UserRecord) error {
	log := c.logger.With().Str(logger.FieldUserID, user.ID.String()).Logger()
	if user.Session != nil {
		log = log.With().Str(logger.FieldGeneration, user.Session.Generation.String()).Logger()
	}

	c.notifier.Notify(ctx, user.ID, msgSettling())

	balance, err := c.ledger.OperatingBalance(ctx)
	if err != nil {
		log.Error().Err(err).Msg("operating balance check failed")
		return settlementErr(ErrSettlementFailed, err)
	}
	if balance < c.balanceFloor {
		log.Error().Int64("balance", balance).Int64("floor", c.balanceFloor).Msg("operating balance below floor")
		return settlementErr(ErrInsufficientOperatingFunds, nil)
	}

	address := strings.TrimSpace(user.Address)
	if address == "" {
		log.Warn().Msg("user has no ledger address")
		return settlementErr(ErrRegistrationUnrecoverable, nil)
	}

	if err := c.ensureRegistered(ctx, log, user, address); err != nil {
		return err
	}

	c.notifier.Notify(ctx, user.ID, msgTransferring(c.rewardAmount))

	txHash, err := c.ledger.TransferReward(ctx, address, c.rewardAmount)
	if err != nil {
		log.Error().Err(err).Msg("reward transfer failed")
		return settlementErr(ErrSettlementFailed, err)
	}

	log.Info().Str(logger.FieldTxHash, txHash).Int64("amount", c.rewardAmount).Msg("reward transferred")
	return nil
}

// ensureRegistered treats a failed check the same as "not registered" and
// makes exactly one repair attempt before giving up.
func (c *SettlementCoordinator) ensureRegistered(ctx context.Context, log zerolog.Logger, user *models.UserRecord, address string) error {
	registered, err := c.ledger.IsRegistered(ctx, address)
	if err == nil && registered {
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("registration check failed, attempting repair")
	} else {
		log.Info().Msg("address not registered, attempting repair")
	}

	c.notifier.Notify(ctx, user.ID, msgRepairingRegistration())

	if txHash, regErr := c.ledger.Register(ctx, address); regErr != nil {
		log.Warn().Err(regErr).Msg("re-registration failed")
	} else {
		log.Info().Str(logger.FieldTxHash, txHash).Msg("re-registration confirmed")
	}

	registered, err = c.ledger.IsRegistered(ctx, address)
	if err != nil || !registered {
		registrationRepairsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("registration unrecoverable")
		return settlementErr(ErrRegistrationUnrecoverable, err)
	}

	registrationRepairsTotal.WithLabelValues("repaired").Inc()
	return nil
}
