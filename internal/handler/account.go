// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v3"

	"reward-bot/internal/model"
	"reward-bot/internal/service"
)

const historyLimit = 10

// AccountHandler handles account-related commands.
type AccountHandler struct {
	accountService *service.AccountService
	loc            *time.Location
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountService *service.AccountService, loc *time.Location) *AccountHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AccountHandler{
		accountService: accountService,
		loc:            loc,
	}
}

// HandleStart handles the /start command.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	username := senderName(sender)
	user, created, err := h.accountService.EnsureUser(ctx, sender.ID, username)
	if err != nil {
		return c.Reply("❌ 创建账户失败，请稍后重试")
	}

	if created {
		return c.Reply(fmt.Sprintf(
			"🎉 欢迎 @%s！\n\n"+
				"您的账户已创建\n\n"+
				"可用命令:\n"+
				"/balance - 查看积分\n"+
				"/spin - 每日转盘\n"+
				"/premium - 高级会员状态\n"+
				"/top - 积分榜\n"+
				"/online - 在线成员\n"+
				"/history - 积分记录\n"+
				"/mute - 开关聊天奖励通知",
			username,
		))
	}

	return c.Reply(fmt.Sprintf(
		"👋 欢迎回来 @%s！\n\n"+
			"当前积分: %d",
		username, user.Points,
	))
}

// HandleBalance handles the /balance command.
// Shows the balance together with today's chat reward earnings.
func (h *AccountHandler) HandleBalance(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	points := h.accountService.GetPoints(ctx, sender.ID)
	today := h.accountService.EarnedToday(ctx, sender.ID, model.TxTypeChatReward, time.Now(), h.loc)

	return c.Reply(fmt.Sprintf(
		"💰 @%s 的积分\n\n"+
			"当前积分: %d\n"+
			"今日聊天奖励: +%d",
		senderName(sender), points, today,
	))
}

// HandleHistory handles the /history command.
func (h *AccountHandler) HandleHistory(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	txs, err := h.accountService.History(ctx, sender.ID, historyLimit)
	if err != nil {
		return c.Reply("❌ 获取记录失败，请稍后重试")
	}
	return c.Reply(formatHistory(txs, h.loc))
}

// HandleMute handles the /mute command, toggling chat reward notifications.
func (h *AccountHandler) HandleMute(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	on, err := h.accountService.ToggleRewardNotifications(ctx, sender.ID)
	if err != nil {
		return c.Reply("❌ 设置失败，请稍后重试")
	}
	if on {
		return c.Reply("🔔 聊天奖励通知已开启")
	}
	return c.Reply("🔕 聊天奖励通知已关闭")
}
