package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PreferenceRepository stores per-user key/value preferences.
type PreferenceRepository struct {
	pool *pgxpool.Pool
}

// NewPreferenceRepository creates a new PreferenceRepository instance.
func NewPreferenceRepository(pool *pgxpool.Pool) *PreferenceRepository {
	return &PreferenceRepository{pool: pool}
}

// GetBool returns the stored flag, or def when the key was never written.
func (r *PreferenceRepository) GetBool(ctx context.Context, userID int64, key string, def bool) (bool, error) {
	const query = `SELECT pref_value FROM user_preferences WHERE user_id = $1 AND pref_key = $2`

	var raw string
	err := r.pool.QueryRow(ctx, query, userID, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return def, nil
		}
		return def, fmt.Errorf("failed to get preference: %w", err)
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, nil
	}
	return v, nil
}

// SetBool writes the flag.
func (r *PreferenceRepository) SetBool(ctx context.Context, userID int64, key string, value bool) error {
	const query = `
		INSERT INTO user_preferences (user_id, pref_key, pref_value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, pref_key) DO UPDATE
		SET pref_value = EXCLUDED.pref_value, updated_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, userID, key, strconv.FormatBool(value)); err != nil {
		return fmt.Errorf("failed to set preference: %w", err)
	}
	return nil
}
