package services

import (
	"context"

	"github.com/google/uuid"

	"studyrewards-backend/internal/models"
)

// UserStore is the durable per-user record store. Get returns
// repository.ErrUserNotFound when the user has not been onboarded.
type UserStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.UserRecord, error)
	Save(ctx context.Context, user *models.UserRecord) error
}

// SessionLister finds records by session status; used by recovery only.
type SessionLister interface {
	ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.UserRecord, error)
}

// Ledger is the external system of record for addresses, rewards and badges.
// Write methods block until the transaction is confirmed or the bounded wait
// expires, and return the transaction hash.
type Ledger interface {
	OperatingBalance(ctx context.Context) (int64, error)
	IsRegistered(ctx context.Context, address string) (bool, error)
	Register(ctx context.Context, address string) (string, error)
	TransferReward(ctx context.Context, address string, amount int64) (string, error)
	HasBadge(ctx context.Context, address string, tier models.Tier) (bool, error)
	RecordAttempt(ctx context.Context, address string, score int64) (string, error)
	MintBadge(ctx context.Context, address string, tier models.Tier) (string, error)
}

// Notifier delivers a chat message to a user. It is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, text string)
}

// SettlementDispatcher hands a settlement job to whatever runs it.
type SettlementDispatcher interface {
	Dispatch(ctx context.Context, job models.SettlementJob) error
}
