// Package model defines the data models for the reward bot.
package model

import (
	"strconv"
	"time"
)

// User represents a Telegram user account holding a points balance.
type User struct {
	TelegramID int64     `db:"telegram_id"`
	Username   string    `db:"username"`
	Points     int64     `db:"points"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// DisplayName returns the username, or the numeric id when the user has none.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return formatID(u.TelegramID)
}

// Transaction is an append-only points ledger entry.
type Transaction struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"transaction_type"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// PremiumMembership is the one-to-one premium entitlement of a user.
type PremiumMembership struct {
	UserID                int64     `db:"user_id"`
	IsActive              bool      `db:"is_active"`
	StartedAt             time.Time `db:"started_at"`
	ExpiresAt             time.Time `db:"expires_at"`
	TotalChatPointsEarned int64     `db:"total_chat_points_earned"`
	UpdatedAt             time.Time `db:"updated_at"`
}

// ActiveAt reports whether the membership grants premium at the given instant.
// Expiry is strict: a membership expiring exactly at now is no longer active.
func (m *PremiumMembership) ActiveAt(now time.Time) bool {
	if m == nil {
		return false
	}
	return m.IsActive && m.ExpiresAt.After(now)
}

// SpinRecord is the single daily spin of a user. At most one per (user, spin_date).
type SpinRecord struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	SpinDate  string    `db:"spin_date"`
	PointsWon int64     `db:"points_won"`
	CreatedAt time.Time `db:"created_at"`
}

// SpinDateLayout is the calendar-day key used for spin_records.spin_date.
const SpinDateLayout = "2006-01-02"

// Transaction types for categorizing points changes.
const (
	TxTypeChatReward = "chat_reward" // Premium chat-time accrual
	TxTypeSpin       = "spin"        // Daily spin payout
	TxTypeAdminAdd   = "admin_add"   // Admin added points
)

// Preference keys stored in user_preferences.
const (
	PrefChatRewardNotifications = "chat_reward_notifications"
)

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
