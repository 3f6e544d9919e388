package services

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"studyrewards-backend/internal/models"
)

var encouragements = []string{
	"Keep going, you're doing great! 💪",
	"Stay focused, every minute counts.",
	"Nice streak! Your future self says thanks.",
	"Deep breath, eyes on the page. You've got this.",
	"Halfway heroes finish strong. Keep at it!",
	"Small steps, big progress. Don't stop now.",
}

func randomEncouragement() string {
	return encouragements[rand.IntN(len(encouragements))]
}

func msgSessionStarted(minutes int) string {
	return fmt.Sprintf("⏱ Study session started: %d minutes. I'll check in on you along the way.", minutes)
}

func msgSessionCancelled() string {
	return "Study session cancelled. Start a new one whenever you're ready."
}

func msgSettling() string {
	return "🎉 Session complete! Settling your reward on-chain..."
}

func msgRepairingRegistration() string {
	return "Your wallet registration needs a refresh, fixing it now..."
}

func msgTransferring(amount int64) string {
	return fmt.Sprintf("Sending %d reward tokens to your wallet...", amount)
}

func msgSettled(amount int64, count int) string {
	return fmt.Sprintf("✅ Reward of %d tokens sent! Completed sessions: %d.", amount, count)
}

func msgSettlementFailed(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientOperatingFunds):
		return "⚠️ The reward pool is temporarily low, so this session could not be rewarded. Please start a new session later."
	case errors.Is(err, ErrRegistrationUnrecoverable):
		return "⚠️ Your wallet could not be registered on the ledger. Please check your wallet and start a new session to try again."
	default:
		return "⚠️ The reward transfer failed. Please start a new session to try again."
	}
}

func msgBadgeMinted(tier models.Tier) string {
	return fmt.Sprintf("🏅 Milestone reached! Your %s badge has been minted.", tier)
}

func msgBadgeFailed(tier models.Tier) string {
	return fmt.Sprintf("Your %s badge could not be minted right now. Your session still counts and we'll retry on your next completion.", tier)
}
