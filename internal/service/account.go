// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reward-bot/internal/model"
	"reward-bot/internal/repository"
)

var (
	// ErrInvalidAmount is returned for non-positive manual point adjustments.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrUserNotAuthenticated is returned when an operation arrives without a user id.
	ErrUserNotAuthenticated = errors.New("no current user")
)

// AccountService handles user accounts and their points balance.
type AccountService struct {
	users  UserStore
	ledger LedgerStore
	prefs  PreferenceStore
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(users UserStore, ledger LedgerStore, prefs PreferenceStore) *AccountService {
	return &AccountService{
		users:  users,
		ledger: ledger,
		prefs:  prefs,
	}
}

// EnsureUser ensures a user exists, creating one if necessary.
// Returns the user and whether it was newly created.
func (s *AccountService) EnsureUser(ctx context.Context, telegramID int64, username string) (*model.User, bool, error) {
	user, created, err := s.users.GetOrCreate(ctx, telegramID, username)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure user: %w", err)
	}

	if !created && username != "" && user.Username != username {
		if err := s.users.UpdateUsername(ctx, telegramID, username); err != nil {
			log.Warn().Err(err).Int64("user_id", telegramID).Msg("Failed to refresh username")
		}
		user.Username = username
	}

	return user, created, nil
}

// GetUser retrieves a user by their Telegram ID.
func (s *AccountService) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.users.GetByID(ctx, telegramID)
}

// GetPoints returns the user's balance. A failed or empty lookup reads as zero.
func (s *AccountService) GetPoints(ctx context.Context, telegramID int64) int64 {
	user, err := s.users.GetByID(ctx, telegramID)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			log.Warn().Err(err).Int64("user_id", telegramID).Msg("Failed to read points, showing zero")
		}
		return 0
	}
	return user.Points
}

// Award adds amount to the user's points and appends a ledger entry.
// The two writes are independent: a ledger failure is logged and the credited points stay.
func (s *AccountService) Award(ctx context.Context, telegramID int64, amount int64, txType string, description string) (*model.User, error) {
	user, err := s.users.AddPoints(ctx, telegramID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to add points: %w", err)
	}

	var desc *string
	if description != "" {
		desc = &description
	}
	if _, err := s.ledger.Create(ctx, telegramID, amount, txType, desc); err != nil {
		log.Error().Err(err).
			Int64("user_id", telegramID).
			Int64("amount", amount).
			Str("type", txType).
			Msg("Points credited but ledger append failed")
	}

	return user, nil
}

// AdminAdd credits points on behalf of an admin.
func (s *AccountService) AdminAdd(ctx context.Context, adminID, targetID int64, amount int64) (*model.User, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, _, err := s.EnsureUser(ctx, targetID, ""); err != nil {
		return nil, err
	}
	return s.Award(ctx, targetID, amount, model.TxTypeAdminAdd, fmt.Sprintf("admin %d", adminID))
}

// History returns the user's latest ledger entries.
func (s *AccountService) History(ctx context.Context, telegramID int64, limit int) ([]*model.Transaction, error) {
	txs, err := s.ledger.GetByUserID(ctx, telegramID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return txs, nil
}

// EarnedToday totals the user's entries of txType since midnight in loc. A failed read counts as zero.
func (s *AccountService) EarnedToday(ctx context.Context, telegramID int64, txType string, now time.Time, loc *time.Location) int64 {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	total, err := s.ledger.SumByTypeSince(ctx, telegramID, txType, midnight)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", telegramID).Str("type", txType).Msg("Failed to sum today's earnings")
		return 0
	}
	return total
}

// RewardNotificationsEnabled reads the chat reward notification flag. Defaults to on.
func (s *AccountService) RewardNotificationsEnabled(ctx context.Context, telegramID int64) bool {
	on, err := s.prefs.GetBool(ctx, telegramID, model.PrefChatRewardNotifications, true)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", telegramID).Msg("Failed to read notification preference")
	}
	return on
}

// ToggleRewardNotifications flips the flag and returns the new value.
func (s *AccountService) ToggleRewardNotifications(ctx context.Context, telegramID int64) (bool, error) {
	on := !s.RewardNotificationsEnabled(ctx, telegramID)
	if err := s.prefs.SetBool(ctx, telegramID, model.PrefChatRewardNotifications, on); err != nil {
		return !on, err
	}
	return on, nil
}
