package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"reward-bot/internal/repository"
	"reward-bot/internal/service"
)

const (
	usageAdminAdd      = "❌ 用法: /admin_add <用户ID> <积分>"
	usageGrantPremium  = "❌ 用法: /grant_premium <用户ID> <月数>"
	usageRevokePremium = "❌ 用法: /revoke_premium <用户ID>"
)

// SessionStopper ends live accrual sessions. Implemented by service.ChatRewardEngine.
type SessionStopper interface {
	Leave(userID int64)
}

// AdminHandler handles admin-related commands.
type AdminHandler struct {
	accountService *service.AccountService
	premiumService *service.PremiumService
	sessions       SessionStopper
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(accountService *service.AccountService, premiumService *service.PremiumService, sessions SessionStopper) *AdminHandler {
	return &AdminHandler{
		accountService: accountService,
		premiumService: premiumService,
		sessions:       sessions,
	}
}

// HandleAdminAdd handles the /admin_add command.
// Format: /admin_add <user_id> <amount>
func (h *AdminHandler) HandleAdminAdd(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	targetID, amount, err := parseIDAndAmount(c.Args(), usageAdminAdd)
	if err != nil {
		return c.Reply(err.Error())
	}
	if amount <= 0 {
		return c.Reply("❌ 积分必须大于 0")
	}

	user, err := h.accountService.AdminAdd(ctx, sender.ID, targetID, amount)
	if err != nil {
		return c.Reply("❌ 操作失败，请稍后重试")
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Int64("target_id", targetID).
		Int64("amount", amount).
		Str("operation", "admin_add").
		Msg("Admin operation executed")

	return c.Reply(fmt.Sprintf(
		"✅ 操作成功\n\n"+
			"👤 用户: %s (ID: %d)\n"+
			"➕ 添加: %d 积分\n"+
			"💰 当前积分: %d",
		user.DisplayName(), targetID, amount, user.Points,
	))
}

// HandleGrantPremium handles the /grant_premium command.
// Format: /grant_premium <user_id> <months>
func (h *AdminHandler) HandleGrantPremium(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	targetID, months, err := parseIDAndAmount(c.Args(), usageGrantPremium)
	if err != nil {
		return c.Reply(err.Error())
	}
	if months <= 0 || months > 120 {
		return c.Reply("❌ 月数必须在 1 到 120 之间")
	}

	m, err := h.premiumService.Grant(ctx, targetID, int(months))
	if err != nil {
		return c.Reply("❌ 操作失败，请稍后重试")
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Int64("target_id", targetID).
		Int64("months", months).
		Str("operation", "grant_premium").
		Msg("Admin operation executed")

	return c.Reply(fmt.Sprintf(
		"✅ 已为用户 %d 开通高级会员 %d 个月\n📅 到期: %s",
		targetID, months, m.ExpiresAt.Format("2006-01-02 15:04"),
	))
}

// HandleRevokePremium handles the /revoke_premium command and ends any live accrual session.
// Format: /revoke_premium <user_id>
func (h *AdminHandler) HandleRevokePremium(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	targetID, err := parseID(c.Args(), usageRevokePremium)
	if err != nil {
		return c.Reply(err.Error())
	}

	if err := h.premiumService.Revoke(ctx, targetID); err != nil {
		if errors.Is(err, repository.ErrMembershipNotFound) {
			return c.Reply("❌ 该用户不是高级会员")
		}
		return c.Reply("❌ 操作失败，请稍后重试")
	}
	h.sessions.Leave(targetID)

	log.Info().
		Int64("admin_id", sender.ID).
		Int64("target_id", targetID).
		Str("operation", "revoke_premium").
		Msg("Admin operation executed")

	return c.Reply(fmt.Sprintf("✅ 已取消用户 %d 的高级会员", targetID))
}
