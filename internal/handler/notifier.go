package handler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"reward-bot/internal/service"
)

// Sender delivers bot messages. *tele.Bot satisfies it.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// NotificationSettings reads the per-user notification switch. Implemented by service.AccountService.
type NotificationSettings interface {
	RewardNotificationsEnabled(ctx context.Context, telegramID int64) bool
}

// ChatRewardNotifier tells premium users about each chat reward in a private message.
type ChatRewardNotifier struct {
	sender   Sender
	settings NotificationSettings
	cleaner  *MessageCleaner
}

// NewChatRewardNotifier creates a notifier. cleaner may be nil.
func NewChatRewardNotifier(sender Sender, settings NotificationSettings, cleaner *MessageCleaner) *ChatRewardNotifier {
	return &ChatRewardNotifier{
		sender:   sender,
		settings: settings,
		cleaner:  cleaner,
	}
}

// NotifyChatReward implements service.RewardNotifier.
func (n *ChatRewardNotifier) NotifyChatReward(ctx context.Context, r service.ChatReward) {
	if !n.settings.RewardNotificationsEnabled(ctx, r.UserID) {
		return
	}

	msg, err := n.sender.Send(&tele.User{ID: r.UserID}, formatChatReward(r), tele.Silent)
	if err != nil {
		log.Warn().Err(err).
			Int64("user_id", r.UserID).
			Int64("conversation_id", r.ConversationID).
			Msg("Failed to send chat reward notification")
		return
	}
	if n.cleaner != nil {
		n.cleaner.Track(msg)
	}
}

func formatChatReward(r service.ChatReward) string {
	return fmt.Sprintf(
		"💎 聊天奖励 +%d 积分\n"+
			"⏱ 本次已聊 %d 分钟，累计 +%d\n"+
			"💰 当前积分: %d\n"+
			"发送 /mute 关闭通知",
		r.Points, r.ElapsedMinutes, r.TotalPointsEarned, r.Balance,
	)
}
