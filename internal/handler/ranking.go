package handler

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"reward-bot/internal/service"
)

const (
	leaderboardSize = 10
	onlineListLimit = 20
)

// OnlineRoster lists who is currently online. Implemented by presence.Tracker.
type OnlineRoster interface {
	OnlineUserIDs() []int64
	OnlineCount() int
}

// RankingHandler handles the leaderboard and online roster commands.
type RankingHandler struct {
	rankingService *service.RankingService
	accountService *service.AccountService
	roster         OnlineRoster
}

// NewRankingHandler creates a new RankingHandler.
func NewRankingHandler(rankingService *service.RankingService, accountService *service.AccountService, roster OnlineRoster) *RankingHandler {
	return &RankingHandler{
		rankingService: rankingService,
		accountService: accountService,
		roster:         roster,
	}
}

// HandleTop handles the /top command.
func (h *RankingHandler) HandleTop(c tele.Context) error {
	ctx := context.Background()

	entries, err := h.rankingService.Leaderboard(ctx, leaderboardSize)
	if err != nil {
		return c.Reply("❌ 获取排行榜失败，请稍后重试")
	}
	return c.Reply(formatLeaderboard(entries))
}

// HandleOnline handles the /online command.
func (h *RankingHandler) HandleOnline(c tele.Context) error {
	ctx := context.Background()

	ids := h.roster.OnlineUserIDs()
	if len(ids) == 0 {
		return c.Reply("🌙 当前没有成员在线")
	}

	names := make([]string, 0, min(len(ids), onlineListLimit))
	for _, id := range ids {
		if len(names) == onlineListLimit {
			break
		}
		name := fmt.Sprintf("%d", id)
		if u, err := h.accountService.GetUser(ctx, id); err == nil {
			name = u.DisplayName()
		}
		names = append(names, "🟢 "+name)
	}

	return c.Reply(formatOnline(len(ids), h.roster.OnlineCount(), names))
}

func formatOnline(users, connections int, names []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👥 在线成员: %d 人 (%d 个连接)\n%s\n", users, connections, divider)
	b.WriteString(strings.Join(names, "\n"))
	if users > len(names) {
		fmt.Fprintf(&b, "\n... 以及另外 %d 人", users-len(names))
	}
	return b.String()
}
