package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reward-bot/internal/model"
	"reward-bot/internal/pkg/cache"
	"reward-bot/internal/repository"
)

// ErrInvalidDuration is returned when a premium grant is not a positive number of months.
var ErrInvalidDuration = errors.New("premium duration must be at least one month")

// PremiumService owns premium membership state and a short-lived cache of memberships.
// The cache holds the row, not the flag, so expiry is evaluated against the clock on every read.
type PremiumService struct {
	store MembershipStore
	users UserStore
	cache *cache.TTL[int64, *model.PremiumMembership]
	now   func() time.Time
}

// NewPremiumService creates a PremiumService. A nil now uses time.Now.
func NewPremiumService(store MembershipStore, users UserStore, cacheTTL time.Duration, now func() time.Time) *PremiumService {
	if now == nil {
		now = time.Now
	}
	return &PremiumService{
		store: store,
		users: users,
		cache: cache.NewTTL[int64, *model.PremiumMembership](cacheTTL, now),
		now:   now,
	}
}

// IsPremium reports whether the user holds an active membership right now.
// Lookup failures read as not premium.
func (s *PremiumService) IsPremium(ctx context.Context, userID int64) bool {
	if userID == 0 {
		return false
	}
	if m, ok := s.cache.Get(userID); ok {
		return m.ActiveAt(s.now())
	}

	var snapshot *model.PremiumMembership
	m, err := s.store.GetByUserID(ctx, userID)
	switch {
	case err == nil:
		row := *m
		snapshot = &row
	case !errors.Is(err, repository.ErrMembershipNotFound):
		log.Warn().Err(err).Int64("user_id", userID).Msg("Premium lookup failed, treating as not premium")
		return false
	}

	s.cache.Set(userID, snapshot)
	return snapshot.ActiveAt(s.now())
}

// IsVerified reports whether the user carries the verification badge.
func (s *PremiumService) IsVerified(ctx context.Context, userID int64) bool {
	return s.IsPremium(ctx, userID)
}

// Membership returns the stored membership, or nil when the user never had one.
func (s *PremiumService) Membership(ctx context.Context, userID int64) (*model.PremiumMembership, error) {
	m, err := s.store.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrMembershipNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
	return m, nil
}

// ExtendedExpiry computes the new expiry of a grant: max(now, current expiry) + months.
// A nil current membership starts from now.
func ExtendedExpiry(current *model.PremiumMembership, now time.Time, months int) time.Time {
	base := now
	if current != nil && current.ExpiresAt.After(now) {
		base = current.ExpiresAt
	}
	return base.AddDate(0, months, 0)
}

// Grant creates or extends a membership by months and activates it.
func (s *PremiumService) Grant(ctx context.Context, userID int64, months int) (*model.PremiumMembership, error) {
	if months <= 0 {
		return nil, ErrInvalidDuration
	}
	if _, _, err := s.users.GetOrCreate(ctx, userID, ""); err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	current, err := s.Membership(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	startedAt := now
	if current != nil {
		startedAt = current.StartedAt
	}
	expiresAt := ExtendedExpiry(current, now, months)

	m, err := s.store.Upsert(ctx, userID, true, startedAt, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to grant premium: %w", err)
	}
	s.cache.Invalidate(userID)

	log.Info().
		Int64("user_id", userID).
		Int("months", months).
		Time("expires_at", m.ExpiresAt).
		Msg("Premium granted")

	return m, nil
}

// Revoke deactivates the membership, keeping the row.
func (s *PremiumService) Revoke(ctx context.Context, userID int64) error {
	if err := s.store.SetActive(ctx, userID, false); err != nil {
		return fmt.Errorf("failed to revoke premium: %w", err)
	}
	s.cache.Invalidate(userID)
	return nil
}

// AddChatPoints bumps the membership's chat points accumulator.
func (s *PremiumService) AddChatPoints(ctx context.Context, userID int64, amount int64) error {
	return s.store.AddChatPoints(ctx, userID, amount)
}

// Invalidate drops the cached membership for userID.
func (s *PremiumService) Invalidate(userID int64) {
	s.cache.Invalidate(userID)
}

// Refresh drops the cached flag after an external membership change and
// re-reads it. It returns whether the user is premium now.
func (s *PremiumService) Refresh(ctx context.Context, userID int64) bool {
	s.cache.Invalidate(userID)
	return s.IsPremium(ctx, userID)
}
