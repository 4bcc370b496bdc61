package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"reward-bot/internal/service"
)

// Spinner resolves daily spins. Implemented by service.SpinService.
type Spinner interface {
	Status(ctx context.Context, userID int64) service.SpinStatus
	Spin(ctx context.Context, userID int64, username string) (*service.SpinResult, error)
	Location() *time.Location
}

// Messenger sends and edits chat messages. Implemented by *tele.Bot.
type Messenger interface {
	Sender
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// SpinHandler handles the daily spin command.
type SpinHandler struct {
	ctx     context.Context
	spins   Spinner
	bot     Messenger
	cleaner *MessageCleaner
	delay   time.Duration
	now     func() time.Time
}

// NewSpinHandler creates a new SpinHandler. The animation wait ends early when ctx is cancelled.
func NewSpinHandler(ctx context.Context, spins Spinner, bot Messenger, cleaner *MessageCleaner, delay time.Duration) *SpinHandler {
	return &SpinHandler{
		ctx:     ctx,
		spins:   spins,
		bot:     bot,
		cleaner: cleaner,
		delay:   delay,
		now:     time.Now,
	}
}

// HandleSpin handles the /spin command.
// Shows a spinning message, resolves the spin, waits for the animation and edits in the result.
func (h *SpinHandler) HandleSpin(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	username := senderName(sender)

	status := h.spins.Status(h.ctx, sender.ID)
	if !status.CanSpin {
		return h.reply(c, spinErrorMessage(service.ErrAlreadySpun, status.NextSpinAt.Sub(h.now())))
	}

	spinning, err := h.bot.Send(c.Chat(), "🎡 @"+username+" 的转盘旋转中...")
	if err != nil {
		log.Warn().Err(err).Int64("user_id", sender.ID).Msg("Failed to send spinning message")
		spinning = nil
	}
	h.track(spinning)

	res, spinErr := h.spins.Spin(h.ctx, sender.ID, username)

	select {
	case <-h.ctx.Done():
		return nil
	case <-time.After(h.delay):
	}

	var text string
	if spinErr != nil {
		next := service.NextMidnight(h.now(), h.spins.Location()).Sub(h.now())
		text = spinErrorMessage(spinErr, next)
	} else {
		text = formatSpinResult(username, res)
	}

	if spinning != nil {
		if _, err := h.bot.Edit(spinning, text); err == nil {
			return nil
		}
	}
	return h.reply(c, text)
}

func (h *SpinHandler) reply(c tele.Context, text string) error {
	msg, err := h.bot.Send(c.Chat(), text, &tele.SendOptions{ReplyTo: c.Message()})
	if err != nil {
		return err
	}
	h.track(msg)
	return nil
}

func (h *SpinHandler) track(msg *tele.Message) {
	if h.cleaner != nil && msg != nil {
		h.cleaner.Track(msg)
	}
}
