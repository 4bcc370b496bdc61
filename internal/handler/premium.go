package handler

import (
	"context"
	"time"

	tele "gopkg.in/telebot.v3"

	"reward-bot/internal/service"
)

// SessionViewer exposes live accrual sessions. Implemented by service.ChatRewardEngine.
type SessionViewer interface {
	Snapshot(userID int64) (service.SessionSnapshot, bool)
}

// PremiumHandler handles the /premium status command.
type PremiumHandler struct {
	premiumService *service.PremiumService
	sessions       SessionViewer
	loc            *time.Location
}

// NewPremiumHandler creates a new PremiumHandler.
func NewPremiumHandler(premiumService *service.PremiumService, sessions SessionViewer, loc *time.Location) *PremiumHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &PremiumHandler{
		premiumService: premiumService,
		sessions:       sessions,
		loc:            loc,
	}
}

// HandlePremium handles the /premium command.
func (h *PremiumHandler) HandlePremium(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	m, err := h.premiumService.Membership(ctx, sender.ID)
	if err != nil {
		return c.Reply("❌ 获取会员信息失败，请稍后重试")
	}

	var snap *service.SessionSnapshot
	if s, ok := h.sessions.Snapshot(sender.ID); ok {
		snap = &s
	}
	return c.Reply(formatPremiumStatus(m, time.Now(), h.loc, snap))
}
