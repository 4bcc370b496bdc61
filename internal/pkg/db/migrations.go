package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Execer is the subset of pgxpool.Pool used to apply migrations.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type migration struct {
	name string
	sql  string
}

// migrations are applied in order and must stay idempotent.
var migrations = []migration{
	{
		name: "users",
		sql: `
		CREATE TABLE IF NOT EXISTS users (
			telegram_id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			points BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_points ON users(points DESC);
	`,
	},
	{
		name: "point_transactions",
		sql: `
		CREATE TABLE IF NOT EXISTS point_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(telegram_id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			transaction_type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_point_tx_user_time ON point_transactions(user_id, created_at DESC);
	`,
	},
	{
		name: "premium_memberships",
		sql: `
		CREATE TABLE IF NOT EXISTS premium_memberships (
			user_id BIGINT PRIMARY KEY REFERENCES users(telegram_id) ON DELETE CASCADE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			started_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			total_chat_points_earned BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`,
	},
	{
		// The unique key is the only guard against racing double spins.
		name: "spin_records",
		sql: `
		CREATE TABLE IF NOT EXISTS spin_records (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(telegram_id) ON DELETE CASCADE,
			spin_date DATE NOT NULL,
			points_won BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_spin_records_user_date UNIQUE (user_id, spin_date)
		);
	`,
	},
	{
		// Chat point bumps do not notify; only window and activation changes do.
		name: "premium_membership_notify",
		sql: `
		CREATE OR REPLACE FUNCTION notify_premium_membership_change() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('premium_membership_changes', NEW.user_id::text);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS trg_premium_membership_change ON premium_memberships;
		CREATE TRIGGER trg_premium_membership_change
			AFTER INSERT OR UPDATE OF is_active, expires_at ON premium_memberships
			FOR EACH ROW EXECUTE FUNCTION notify_premium_membership_change();
	`,
	},
	{
		name: "user_preferences",
		sql: `
		CREATE TABLE IF NOT EXISTS user_preferences (
			user_id BIGINT NOT NULL,
			pref_key VARCHAR(100) NOT NULL,
			pref_value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, pref_key)
		);
	`,
	},
}

// Migrate applies the schema.
func Migrate(ctx context.Context, conn Execer) error {
	log.Info().Msg("Running database migrations...")
	for i, m := range migrations {
		if _, err := conn.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("name", m.name).Msg("Migration applied")
	}
	log.Info().Msg("All migrations completed successfully")
	return nil
}
