package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reward-bot/internal/model"
)

// ErrMembershipNotFound is returned when a user has never held premium.
var ErrMembershipNotFound = errors.New("premium membership not found")

const membershipColumns = `user_id, is_active, started_at, expires_at, total_chat_points_earned, updated_at`

// PremiumRepository persists premium memberships. Rows are never deleted.
type PremiumRepository struct {
	pool *pgxpool.Pool
}

// NewPremiumRepository creates a new PremiumRepository instance.
func NewPremiumRepository(pool *pgxpool.Pool) *PremiumRepository {
	return &PremiumRepository{pool: pool}
}

func scanMembership(row pgx.Row) (*model.PremiumMembership, error) {
	var m model.PremiumMembership
	err := row.Scan(
		&m.UserID,
		&m.IsActive,
		&m.StartedAt,
		&m.ExpiresAt,
		&m.TotalChatPointsEarned,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByUserID returns the user's membership or ErrMembershipNotFound.
func (r *PremiumRepository) GetByUserID(ctx context.Context, userID int64) (*model.PremiumMembership, error) {
	const query = `SELECT ` + membershipColumns + ` FROM premium_memberships WHERE user_id = $1`

	m, err := scanMembership(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// Upsert writes the membership window, keeping total_chat_points_earned intact on conflict.
func (r *PremiumRepository) Upsert(ctx context.Context, userID int64, active bool, startedAt, expiresAt time.Time) (*model.PremiumMembership, error) {
	const query = `
		INSERT INTO premium_memberships (user_id, is_active, started_at, expires_at, total_chat_points_earned, updated_at)
		VALUES ($1, $2, $3, $4, 0, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET is_active = EXCLUDED.is_active,
		    started_at = EXCLUDED.started_at,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = NOW()
		RETURNING ` + membershipColumns

	m, err := scanMembership(r.pool.QueryRow(ctx, query, userID, active, startedAt, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert membership: %w", err)
	}
	return m, nil
}

// SetActive flips is_active without touching the window.
func (r *PremiumRepository) SetActive(ctx context.Context, userID int64, active bool) error {
	const query = `
		UPDATE premium_memberships
		SET is_active = $2, updated_at = NOW()
		WHERE user_id = $1
	`

	result, err := r.pool.Exec(ctx, query, userID, active)
	if err != nil {
		return fmt.Errorf("failed to set membership state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// AddChatPoints increments the monotonic chat points accumulator.
func (r *PremiumRepository) AddChatPoints(ctx context.Context, userID int64, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("chat points accumulator cannot decrease (amount %d)", amount)
	}

	const query = `
		UPDATE premium_memberships
		SET total_chat_points_earned = total_chat_points_earned + $2, updated_at = NOW()
		WHERE user_id = $1
	`

	result, err := r.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to add chat points: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}
