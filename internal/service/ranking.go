package service

import (
	"context"
	"fmt"
	"time"

	"reward-bot/internal/model"
)

// OnlineChecker answers presence questions. Implemented by presence.Tracker.
type OnlineChecker interface {
	IsOnline(userID int64) bool
	LastActive(userID int64) (time.Time, bool)
}

// BadgeChecker answers whether a user carries the verification badge. Implemented by PremiumService.
type BadgeChecker interface {
	IsVerified(ctx context.Context, userID int64) bool
}

// LeaderboardEntry is one ranked user with the badges shown next to them.
type LeaderboardEntry struct {
	Rank       int
	User       *model.User
	Online     bool
	Verified   bool
	LastActive *time.Time
}

// RankingService handles the points leaderboard.
type RankingService struct {
	users    UserStore
	presence OnlineChecker
	badges   BadgeChecker
}

// NewRankingService creates a new RankingService instance.
func NewRankingService(users UserStore, presence OnlineChecker, badges BadgeChecker) *RankingService {
	return &RankingService{
		users:    users,
		presence: presence,
		badges:   badges,
	}
}

// Leaderboard returns the top users by points with online and verification badges.
func (s *RankingService) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	users, err := s.users.GetTopUsers(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(users))
	for i, u := range users {
		e := LeaderboardEntry{Rank: i + 1, User: u}
		if s.presence != nil {
			e.Online = s.presence.IsOnline(u.TelegramID)
			if at, ok := s.presence.LastActive(u.TelegramID); ok {
				e.LastActive = &at
			}
		}
		if s.badges != nil {
			e.Verified = s.badges.IsVerified(ctx, u.TelegramID)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
