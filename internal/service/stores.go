package service

import (
	"context"
	"time"

	"reward-bot/internal/model"
)

// UserStore is the user persistence used by services. Implemented by repository.UserRepository.
type UserStore interface {
	GetByID(ctx context.Context, telegramID int64) (*model.User, error)
	GetOrCreate(ctx context.Context, telegramID int64, username string) (*model.User, bool, error)
	AddPoints(ctx context.Context, telegramID int64, amount int64) (*model.User, error)
	GetTopUsers(ctx context.Context, limit int) ([]*model.User, error)
	UpdateUsername(ctx context.Context, telegramID int64, username string) error
}

// LedgerStore appends and reads point transactions. Implemented by repository.TransactionRepository.
type LedgerStore interface {
	Create(ctx context.Context, userID int64, amount int64, txType string, description *string) (*model.Transaction, error)
	GetByUserID(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error)
	SumByTypeSince(ctx context.Context, userID int64, txType string, since time.Time) (int64, error)
}

// MembershipStore persists premium memberships. Implemented by repository.PremiumRepository.
type MembershipStore interface {
	GetByUserID(ctx context.Context, userID int64) (*model.PremiumMembership, error)
	Upsert(ctx context.Context, userID int64, active bool, startedAt, expiresAt time.Time) (*model.PremiumMembership, error)
	SetActive(ctx context.Context, userID int64, active bool) error
	AddChatPoints(ctx context.Context, userID int64, amount int64) error
}

// SpinStore persists daily spin records. Implemented by repository.SpinRepository.
type SpinStore interface {
	ListForDate(ctx context.Context, userID int64, spinDate string) ([]*model.SpinRecord, error)
	Create(ctx context.Context, userID int64, spinDate string, pointsWon int64) (*model.SpinRecord, error)
}

// PreferenceStore reads and writes per-user flags. Implemented by repository.PreferenceRepository.
type PreferenceStore interface {
	GetBool(ctx context.Context, userID int64, key string, def bool) (bool, error)
	SetBool(ctx context.Context, userID int64, key string, value bool) error
}
