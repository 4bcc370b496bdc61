package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"reward-bot/internal/metrics"
	"reward-bot/internal/model"
)

// Ticker abstracts time.Ticker so tests can drive accrual ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }

// RewardConfig holds the accrual policy.
type RewardConfig struct {
	PointsPerMinute int64
	TickInterval    time.Duration
	// IdleTimeout ends a session whose user has been silent this long. Zero disables it.
	IdleTimeout time.Duration
}

// ChatReward is one credited accrual tick, surfaced to the user.
type ChatReward struct {
	UserID            int64
	ConversationID    int64
	Points            int64
	ElapsedMinutes    int64
	TotalPointsEarned int64
	Balance           int64
}

// RewardNotifier surfaces credited ticks. It runs on the session goroutine and
// must not call back into ChatRewardEngine.Leave for the same user.
type RewardNotifier interface {
	NotifyChatReward(ctx context.Context, reward ChatReward)
}

// PremiumGate is the premium state the engine needs. Implemented by PremiumService.
type PremiumGate interface {
	IsPremium(ctx context.Context, userID int64) bool
	AddChatPoints(ctx context.Context, userID int64, amount int64) error
}

// SessionSnapshot is a read-only view of a live accrual session.
type SessionSnapshot struct {
	UserID            int64
	ConversationID    int64
	StartedAt         time.Time
	LastActivity      time.Time
	ElapsedMinutes    int64
	TotalPointsEarned int64
}

// WithinActivityWindow reports whether activity at last still counts at now:
// the slack is twice the tick interval so a delayed tick does not starve a chatter.
func WithinActivityWindow(now, last time.Time, interval time.Duration) bool {
	return now.Sub(last) <= 2*interval
}

type rewardSession struct {
	userID         int64
	conversationID int64
	startedAt      time.Time
	cancel         context.CancelFunc
	done           chan struct{}

	mu             sync.Mutex
	lastActivity   time.Time
	elapsedMinutes int64
	totalPoints    int64
}

func (s *rewardSession) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

func (s *rewardSession) lastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *rewardSession) credit(points int64) (elapsed, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsedMinutes++
	s.totalPoints += points
	return s.elapsedMinutes, s.totalPoints
}

func (s *rewardSession) snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		UserID:            s.userID,
		ConversationID:    s.conversationID,
		StartedAt:         s.startedAt,
		LastActivity:      s.lastActivity,
		ElapsedMinutes:    s.elapsedMinutes,
		TotalPointsEarned: s.totalPoints,
	}
}

// stop cancels the session and waits for its goroutine to exit.
func (s *rewardSession) stop() {
	s.cancel()
	<-s.done
}

// pointsAdder is the slice of UserStore the engine writes to.
type pointsAdder interface {
	AddPoints(ctx context.Context, telegramID int64, amount int64) (*model.User, error)
}

// ChatRewardEngine credits premium users for each minute of active chatting.
// Each user has at most one session, bound to one conversation. Every session
// owns a ticker goroutine that is cancelled when the session ends.
type ChatRewardEngine struct {
	cfg      RewardConfig
	premium  PremiumGate
	users    pointsAdder
	ledger   LedgerStore
	notifier RewardNotifier

	now       func() time.Time
	newTicker func(time.Duration) Ticker
	observe   func(userID int64, result string)

	mu       sync.Mutex
	sessions map[int64]*rewardSession
	closed   bool
	wg       sync.WaitGroup
}

// EngineOption customizes a ChatRewardEngine.
type EngineOption func(*ChatRewardEngine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *ChatRewardEngine) { e.now = now }
}

// WithTicker replaces the ticker factory.
func WithTicker(factory func(time.Duration) Ticker) EngineOption {
	return func(e *ChatRewardEngine) { e.newTicker = factory }
}

// WithTickObserver is called after every tick with its metrics result label.
func WithTickObserver(fn func(userID int64, result string)) EngineOption {
	return func(e *ChatRewardEngine) { e.observe = fn }
}

// WithNotifier sets the user-facing notifier.
func WithNotifier(n RewardNotifier) EngineOption {
	return func(e *ChatRewardEngine) { e.notifier = n }
}

// SetNotifier replaces the notifier after construction, for transports that
// are built after the engine.
func (e *ChatRewardEngine) SetNotifier(n RewardNotifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifier = n
}

// NewChatRewardEngine creates an engine with no live sessions.
func NewChatRewardEngine(cfg RewardConfig, premium PremiumGate, users pointsAdder, ledger LedgerStore, opts ...EngineOption) *ChatRewardEngine {
	e := &ChatRewardEngine{
		cfg:       cfg,
		premium:   premium,
		users:     users,
		ledger:    ledger,
		now:       time.Now,
		newTicker: newRealTicker,
		sessions:  make(map[int64]*rewardSession),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecordActivity marks the user as active in conversationID, starting a session
// if needed. Moving to another conversation ends the old session and starts
// counting from zero. Unknown users, missing conversations and non-premium
// users never get a session.
func (e *ChatRewardEngine) RecordActivity(ctx context.Context, userID, conversationID int64) {
	if userID == 0 || conversationID == 0 {
		return
	}
	now := e.now()

	e.mu.Lock()
	s, ok := e.sessions[userID]
	e.mu.Unlock()
	if ok && s.conversationID == conversationID {
		s.touch(now)
		return
	}

	if !e.premium.IsPremium(ctx, userID) {
		e.Leave(userID)
		return
	}
	e.start(userID, conversationID, now)
}

func (e *ChatRewardEngine) start(userID, conversationID int64, now time.Time) {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		old, ok := e.sessions[userID]
		if !ok {
			ctx, cancel := context.WithCancel(context.Background())
			s := &rewardSession{
				userID:         userID,
				conversationID: conversationID,
				startedAt:      now,
				lastActivity:   now,
				cancel:         cancel,
				done:           make(chan struct{}),
			}
			e.sessions[userID] = s
			e.wg.Add(1)
			e.mu.Unlock()

			metrics.ChatRewardSessions.Inc()
			log.Debug().
				Int64("user_id", userID).
				Int64("conversation_id", conversationID).
				Msg("Chat reward session started")
			go e.run(ctx, s)
			return
		}
		if old.conversationID == conversationID {
			e.mu.Unlock()
			old.touch(now)
			return
		}
		delete(e.sessions, userID)
		e.mu.Unlock()
		old.stop()
	}
}

// Leave ends the user's session and waits until its timer goroutine has exited.
// No tick is credited for the partial minute.
func (e *ChatRewardEngine) Leave(userID int64) {
	e.mu.Lock()
	s, ok := e.sessions[userID]
	if ok {
		delete(e.sessions, userID)
	}
	e.mu.Unlock()
	if ok {
		s.stop()
	}
}

// Snapshot returns the user's live session, if any.
func (e *ChatRewardEngine) Snapshot(userID int64) (SessionSnapshot, bool) {
	e.mu.Lock()
	s, ok := e.sessions[userID]
	e.mu.Unlock()
	if !ok {
		return SessionSnapshot{}, false
	}
	return s.snapshot(), true
}

// ActiveSessions returns the number of live sessions.
func (e *ChatRewardEngine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Shutdown ends every session, waits for their goroutines and refuses new ones.
func (e *ChatRewardEngine) Shutdown() {
	e.mu.Lock()
	e.closed = true
	sessions := make([]*rewardSession, 0, len(e.sessions))
	for id, s := range e.sessions {
		sessions = append(sessions, s)
		delete(e.sessions, id)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
	}
	e.wg.Wait()
	log.Info().Int("sessions", len(sessions)).Msg("Chat reward engine stopped")
}

func (e *ChatRewardEngine) run(ctx context.Context, s *rewardSession) {
	defer e.wg.Done()
	defer close(s.done)
	defer metrics.ChatRewardSessions.Dec()

	ticker := e.newTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			// select picks randomly when both are ready; cancellation wins.
			if ctx.Err() != nil {
				return
			}
			result := e.tick(ctx, s)
			metrics.ChatRewardTicks.WithLabelValues(result).Inc()
			if e.observe != nil {
				e.observe(s.userID, result)
			}
			if result == metrics.TickEnded {
				e.detach(s)
				return
			}
		}
	}
}

func (e *ChatRewardEngine) detach(s *rewardSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions[s.userID] == s {
		delete(e.sessions, s.userID)
	}
	log.Debug().
		Int64("user_id", s.userID).
		Int64("conversation_id", s.conversationID).
		Msg("Chat reward session ended")
}

func (e *ChatRewardEngine) tick(ctx context.Context, s *rewardSession) string {
	now := e.now()
	last := s.lastActivityAt()

	if !e.premium.IsPremium(ctx, s.userID) {
		return metrics.TickEnded
	}
	if e.cfg.IdleTimeout > 0 && now.Sub(last) > e.cfg.IdleTimeout {
		return metrics.TickEnded
	}
	if !WithinActivityWindow(now, last, e.cfg.TickInterval) {
		return metrics.TickInactive
	}

	points := e.cfg.PointsPerMinute
	user, err := e.users.AddPoints(ctx, s.userID, points)
	if err != nil {
		log.Error().Err(err).
			Int64("user_id", s.userID).
			Int64("conversation_id", s.conversationID).
			Msg("Chat reward tick skipped: points write failed")
		return metrics.TickFailed
	}

	if err := e.premium.AddChatPoints(ctx, s.userID, points); err != nil {
		log.Error().Err(err).Int64("user_id", s.userID).Msg("Chat points accumulator write failed")
	}
	desc := fmt.Sprintf("chat reward in %d", s.conversationID)
	if _, err := e.ledger.Create(ctx, s.userID, points, model.TxTypeChatReward, &desc); err != nil {
		log.Error().Err(err).Int64("user_id", s.userID).Msg("Chat reward ledger append failed")
	}

	elapsed, total := s.credit(points)
	metrics.ChatRewardPoints.Add(float64(points))

	e.mu.Lock()
	notifier := e.notifier
	e.mu.Unlock()
	if notifier != nil {
		notifier.NotifyChatReward(ctx, ChatReward{
			UserID:            s.userID,
			ConversationID:    s.conversationID,
			Points:            points,
			ElapsedMinutes:    elapsed,
			TotalPointsEarned: total,
			Balance:           user.Points,
		})
	}
	return metrics.TickAwarded
}
