package handler

import (
	"context"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"
)

// ActivityRecorder feeds chat activity into reward accrual. Implemented by service.ChatRewardEngine.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, userID, conversationID int64)
	Leave(userID int64)
}

// PresenceAnnouncer publishes a user's presence. Implemented by presence.Announcer.
type PresenceAnnouncer interface {
	Touch(ctx context.Context, userID int64) error
	Leave(ctx context.Context, userID int64) error
}

// ActivityHandler turns group messages into presence and accrual activity.
type ActivityHandler struct {
	ctx       context.Context
	rewards   ActivityRecorder
	announcer PresenceAnnouncer
}

// NewActivityHandler creates a new ActivityHandler bound to the bot's lifetime ctx.
func NewActivityHandler(ctx context.Context, rewards ActivityRecorder, announcer PresenceAnnouncer) *ActivityHandler {
	return &ActivityHandler{
		ctx:       ctx,
		rewards:   rewards,
		announcer: announcer,
	}
}

// HandleText handles plain text messages in group chats.
func (h *ActivityHandler) HandleText(c tele.Context) error {
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || sender.IsBot || chat == nil || chat.Type == tele.ChatPrivate {
		return nil
	}

	if err := h.announcer.Touch(h.ctx, sender.ID); err != nil {
		log.Warn().Err(err).Int64("user_id", sender.ID).Msg("Failed to announce presence")
	}
	h.rewards.RecordActivity(h.ctx, sender.ID, chat.ID)
	return nil
}

// HandleUserLeft ends accrual and presence for a member leaving the group.
func (h *ActivityHandler) HandleUserLeft(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.UserLeft == nil {
		return nil
	}
	userID := msg.UserLeft.ID

	h.rewards.Leave(userID)
	if err := h.announcer.Leave(h.ctx, userID); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to withdraw presence")
	}
	return nil
}
