// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"reward-bot/internal/config"
	"reward-bot/internal/handler"
	"reward-bot/internal/pkg/ratelimit"
	"reward-bot/internal/presence"
	"reward-bot/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot     *tele.Bot
	cfg     *config.Config
	private *PrivateUsers
	limiter *ratelimit.Keyed
	cleaner *handler.MessageCleaner

	ctx    context.Context
	cancel context.CancelFunc

	// Handlers
	accountHandler  *handler.AccountHandler
	adminHandler    *handler.AdminHandler
	rankingHandler  *handler.RankingHandler
	premiumHandler  *handler.PremiumHandler
	spinHandler     *handler.SpinHandler
	activityHandler *handler.ActivityHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config         *config.Config
	AccountService *service.AccountService
	PremiumService *service.PremiumService
	SpinService    *service.SpinService
	RankingService *service.RankingService
	RewardEngine   *service.ChatRewardEngine
	Announcer      *presence.Announcer
	Tracker        *presence.Tracker
}

// New creates a new Bot instance and attaches the chat reward notifier to the engine.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("Handler returned error")
		},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	loc := deps.Config.Spin.Location()

	b := &Bot{
		bot:     teleBot,
		cfg:     deps.Config,
		private: NewPrivateUsers(),
		limiter: ratelimit.New(deps.Config.Bot.CommandsPerSecond, deps.Config.Bot.CommandBurst, 10*time.Minute),
		cleaner: handler.NewMessageCleaner(teleBot, nil),
		ctx:     ctx,
		cancel:  cancel,
	}

	// Initialize handlers
	b.accountHandler = handler.NewAccountHandler(deps.AccountService, loc)
	b.adminHandler = handler.NewAdminHandler(deps.AccountService, deps.PremiumService, deps.RewardEngine)
	b.rankingHandler = handler.NewRankingHandler(deps.RankingService, deps.AccountService, deps.Tracker)
	b.premiumHandler = handler.NewPremiumHandler(deps.PremiumService, deps.RewardEngine, loc)
	b.spinHandler = handler.NewSpinHandler(ctx, deps.SpinService, teleBot, b.cleaner, deps.Config.Spin.AnimationDelay)
	b.activityHandler = handler.NewActivityHandler(ctx, deps.RewardEngine, deps.Announcer)

	deps.RewardEngine.SetNotifier(handler.NewChatRewardNotifier(teleBot, deps.AccountService, b.cleaner))

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg, b.private))
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command and event handlers.
func (b *Bot) registerHandlers() {
	commands := b.bot.Group()
	commands.Use(ThrottleMiddleware(b.limiter))

	// Account handlers
	commands.Handle("/start", b.accountHandler.HandleStart)
	commands.Handle("/balance", b.accountHandler.HandleBalance)
	commands.Handle("/history", b.accountHandler.HandleHistory)
	commands.Handle("/mute", b.accountHandler.HandleMute)

	// Ranking and presence
	commands.Handle("/top", b.rankingHandler.HandleTop)
	commands.Handle("/online", b.rankingHandler.HandleOnline)

	// Premium and spin
	commands.Handle("/premium", b.premiumHandler.HandlePremium)
	commands.Handle("/spin", b.spinHandler.HandleSpin)

	// Admin handlers (with admin middleware)
	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/admin_add", b.adminHandler.HandleAdminAdd)
	adminGroup.Handle("/grant_premium", b.adminHandler.HandleGrantPremium)
	adminGroup.Handle("/revoke_premium", b.adminHandler.HandleRevokePremium)

	// Chat activity drives presence and reward accrual; not throttled.
	b.bot.Handle(tele.OnText, b.activityHandler.HandleText)
	b.bot.Handle(tele.OnUserLeft, b.activityHandler.HandleUserLeft)
}

// Start starts the message cleaner and blocks polling updates until Stop.
func (b *Bot) Start() {
	log.Info().Msg("Starting bot...")

	b.limiter.Start()
	go b.cleaner.Run(b.ctx)
	log.Info().Dur("delete_after", handler.MessageDeleteInterval).Msg("Message cleaner started")

	b.bot.Start()
}

// Stop stops polling and cancels in-flight handler waits.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.cancel()
	b.limiter.Stop()
	b.bot.Stop()
}

// GetBot returns the underlying telebot instance.
func (b *Bot) GetBot() *tele.Bot {
	return b.bot
}
