package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"reward-bot/internal/model"
)

// ErrSpinExists is returned when a spin record for (user, day) is already stored.
var ErrSpinExists = errors.New("spin already recorded for this day")

const uniqueViolation = "23505"

const spinColumns = `id, user_id, spin_date::text, points_won, created_at`

// SpinRepository persists daily spin records.
type SpinRepository struct {
	pool *pgxpool.Pool
}

// NewSpinRepository creates a new SpinRepository instance.
func NewSpinRepository(pool *pgxpool.Pool) *SpinRepository {
	return &SpinRepository{pool: pool}
}

func scanSpin(row pgx.Row) (*model.SpinRecord, error) {
	var rec model.SpinRecord
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.SpinDate,
		&rec.PointsWon,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListForDate returns the user's spin records for a spin date (YYYY-MM-DD).
func (r *SpinRepository) ListForDate(ctx context.Context, userID int64, spinDate string) ([]*model.SpinRecord, error) {
	const query = `
		SELECT ` + spinColumns + `
		FROM spin_records
		WHERE user_id = $1 AND spin_date = $2::date
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, userID, spinDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list spins: %w", err)
	}
	defer rows.Close()

	var records []*model.SpinRecord
	for rows.Next() {
		rec, err := scanSpin(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan spin: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spins: %w", err)
	}
	return records, nil
}

// Create inserts the spin record. A duplicate (user, day) yields ErrSpinExists.
func (r *SpinRepository) Create(ctx context.Context, userID int64, spinDate string, pointsWon int64) (*model.SpinRecord, error) {
	const query = `
		INSERT INTO spin_records (user_id, spin_date, points_won, created_at)
		VALUES ($1, $2::date, $3, NOW())
		RETURNING ` + spinColumns

	rec, err := scanSpin(r.pool.QueryRow(ctx, query, userID, spinDate, pointsWon))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrSpinExists
		}
		return nil, fmt.Errorf("failed to create spin: %w", err)
	}
	return rec, nil
}
