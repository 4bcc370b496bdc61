// Package main is the entry point for the chat reward bot.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"reward-bot/internal/bot"
	"reward-bot/internal/config"
	"reward-bot/internal/httpapi"
	"reward-bot/internal/pkg/db"
	"reward-bot/internal/pkg/lock"
	"reward-bot/internal/pkg/logger"
	"reward-bot/internal/pkg/ratelimit"
	"reward-bot/internal/presence"
	"reward-bot/internal/realtime"
	"reward-bot/internal/repository"
	"reward-bot/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init(cfg.Log.Level, cfg.Log.Env)
	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(dbPool.Pool)
	txRepo := repository.NewTransactionRepository(dbPool.Pool)
	premiumRepo := repository.NewPremiumRepository(dbPool.Pool)
	spinRepo := repository.NewSpinRepository(dbPool.Pool)
	prefRepo := repository.NewPreferenceRepository(dbPool.Pool)

	// Presence channel
	channel, closeChannel := openPresenceChannel(ctx, cfg)
	defer closeChannel()

	tracker := presence.NewTracker(channel)
	announcer := presence.NewAnnouncer(channel, cfg.Presence.IdleTimeout, time.Now)

	// Initialize services
	loc := cfg.Spin.Location()
	accountService := service.NewAccountService(userRepo, txRepo, prefRepo)
	premiumService := service.NewPremiumService(premiumRepo, userRepo, cfg.Premium.CacheTTL, time.Now)
	rankingService := service.NewRankingService(userRepo, tracker, premiumService)
	spinService := service.NewSpinService(userRepo, txRepo, spinRepo, lock.NewUserLock(), service.SpinPolicy{
		DailyCap:      cfg.Spin.DailyCap,
		PerSpinAmount: cfg.Spin.PerSpinAmount,
		Segments:      cfg.Spin.Segments,
		WinningFrom:   cfg.Spin.WinningFrom,
		WinningTo:     cfg.Spin.WinningTo,
	}, loc)

	engine := service.NewChatRewardEngine(service.RewardConfig{
		PointsPerMinute: cfg.Rewards.PointsPerMinute,
		TickInterval:    cfg.Rewards.TickInterval,
		IdleTimeout:     cfg.Rewards.IdleTimeout,
	}, premiumService, userRepo, txRepo)

	telegramBot, err := bot.New(&bot.Dependencies{
		Config:         cfg,
		AccountService: accountService,
		PremiumService: premiumService,
		SpinService:    spinService,
		RankingService: rankingService,
		RewardEngine:   engine,
		Announcer:      announcer,
		Tracker:        tracker,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}

	// Background loops
	go func() {
		if err := tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Presence tracker stopped")
		}
	}()
	go announcer.Run(ctx, engine.Leave)
	go func() {
		repository.NewMembershipListener(dbPool.Pool).Run(ctx, func(userID int64) {
			if !premiumService.Refresh(ctx, userID) {
				engine.Leave(userID)
			}
		})
	}()

	// Operations HTTP server
	var httpServer *http.Server
	var httpLimiter *ratelimit.Keyed
	if cfg.HTTP.Enabled {
		httpLimiter = ratelimit.New(20, 40, 2*time.Minute)
		httpLimiter.Start()
		httpServer = &http.Server{
			Addr: cfg.HTTP.Addr,
			Handler: httpapi.SetupRouter(httpapi.Dependencies{
				DB:          dbPool,
				Accounts:    accountService,
				Memberships: premiumService,
				Spins:       spinService,
				Presence:    tracker,
				Sessions:    engine,
				Limiter:     httpLimiter,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("HTTP server failed")
			}
		}()
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Msg("Bot is starting...")
		telegramBot.Start()
	}()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown
	telegramBot.Stop()
	engine.Shutdown()
	cancel()

	if httpServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown")
		}
		stop()
		httpLimiter.Stop()
	}
	log.Info().Msg("Bot stopped gracefully")
}

// openPresenceChannel connects the configured presence backend. The returned
// func withdraws this process's presences and releases the connection.
func openPresenceChannel(ctx context.Context, cfg *config.Config) (realtime.Channel, func()) {
	if cfg.Presence.Backend == "memory" {
		ch := realtime.NewMemoryChannel(cfg.Presence.Channel)
		log.Info().Str("channel", cfg.Presence.Channel).Msg("Using in-process presence channel")
		return ch, func() { _ = ch.Close() }
	}

	client, err := realtime.NewRedisClient(ctx, cfg.Redis.RedisURL())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	ch := realtime.NewRedisChannel(client, cfg.Presence.Channel, realtime.WithLiveness(cfg.Presence.Liveness))
	log.Info().Str("channel", cfg.Presence.Channel).Msg("Using Redis presence channel")
	return ch, func() {
		if err := ch.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to withdraw presences")
		}
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
}
