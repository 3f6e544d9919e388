package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studyrewards-backend/internal/models"
)

// UserRepo is the durable tier of the user store.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `id, address, session, completed_session_count, badges_issued, updated_at`

// Create onboards a user with a ledger address and no session.
func (r *UserRepo) Create(ctx context.Context, id uuid.UUID, address string) (*models.UserRecord, error) {
	query := `
		INSERT INTO study_users (id, address)
		VALUES ($1, $2)
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, id, address))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (r *UserRepo) Get(ctx context.Context, id uuid.UUID) (*models.UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM study_users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	return user, nil
}

// Save upserts the mutable part of the record. The address is written only
// when the row is created.
func (r *UserRepo) Save(ctx context.Context, user *models.UserRecord) error {
	session, err := encodeSession(user.Session)
	if err != nil {
		return err
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = time.Now().UTC()
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO study_users (id, address, session, completed_session_count, badges_issued, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET session = EXCLUDED.session,
			completed_session_count = EXCLUDED.completed_session_count,
			badges_issued = EXCLUDED.badges_issued,
			updated_at = EXCLUDED.updated_at
	`, user.ID, user.Address, session, user.CompletedSessionCount, tierStrings(user.BadgesIssued), user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", user.ID, err)
	}
	return nil
}

// ListByStatus returns every user whose session is in the given status.
func (r *UserRepo) ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.UserRecord, error) {
	query := `SELECT ` + userColumns + `
		FROM study_users
		WHERE session->>'status' = $1
		ORDER BY updated_at`

	rows, err := r.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s sessions: %w", status, err)
	}
	defer rows.Close()

	var users []*models.UserRecord
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (*models.UserRecord, error) {
	var (
		user    models.UserRecord
		session []byte
		badges  []string
	)
	if err := row.Scan(&user.ID, &user.Address, &session, &user.CompletedSessionCount, &badges, &user.UpdatedAt); err != nil {
		return nil, err
	}

	decoded, err := decodeSession(session)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", user.ID, err)
	}
	user.Session = decoded
	user.BadgesIssued = tiers(badges)
	return &user, nil
}

// encodeSession maps a nil session to SQL NULL.
func encodeSession(s *models.SessionState) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, nil
}

func decodeSession(data []byte) (*models.SessionState, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var s models.SessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

func tierStrings(ts []models.Tier) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

func tiers(ss []string) []models.Tier {
	out := make([]models.Tier, len(ss))
	for i, s := range ss {
		out[i] = models.Tier(s)
	}
	return out
}
