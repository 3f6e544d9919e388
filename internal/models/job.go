package models

import (
	"time"

	"github.com/google/uuid"
)

// SettlementJob is queued when a session enters Completing.
type SettlementJob struct {
	UserID     uuid.UUID `json:"user_id"`
	Generation uuid.UUID `json:"generation"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"` // "session_update"
	Payload interface{} `json:"payload"`
}

type SessionUpdate struct {
	UserID uuid.UUID `json:"user_id"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
