package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"studyrewards-backend/internal/logger"
	"studyrewards-backend/internal/models"
)

const notifyTimeout = 3 * time.Second

// UserUpdatesChannel is the pub/sub channel the WebSocket hub subscribes to.
func UserUpdatesChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user_updates:%s", userID.String())
}

// RedisNotifier publishes chat messages to the user's update channel.
type RedisNotifier struct {
	redis  *redis.Client
	now    func() time.Time
	logger zerolog.Logger
}

func NewRedisNotifier(redisClient *redis.Client) *RedisNotifier {
	return &RedisNotifier{
		redis:  redisClient,
		now:    time.Now,
		logger: logger.WithComponent("notifier"),
	}
}

// Notify never blocks settlement for longer than notifyTimeout and never fails.
func (n *RedisNotifier) Notify(ctx context.Context, userID uuid.UUID, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	data, err := json.Marshal(models.WSMessage{
		Type: "session_update",
		Payload: models.SessionUpdate{
			UserID: userID,
			Text:   text,
			SentAt: n.now().UTC(),
		},
	})
	if err != nil {
		n.logger.Error().Err(err).Str(logger.FieldUserID, userID.String()).Msg("failed to encode notification")
		return
	}

	if err := n.redis.Publish(ctx, UserUpdatesChannel(userID), data).Err(); err != nil {
		n.logger.Warn().Err(err).Str(logger.FieldUserID, userID.String()).Msg("failed to publish notification")
	}
}
