package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"reward-bot/internal/metrics"
	"reward-bot/internal/model"
	"reward-bot/internal/pkg/lock"
	"reward-bot/internal/repository"
)

// Errors for the daily spin
var (
	ErrAlreadySpun     = errors.New("already spun today")
	ErrSpinNotRecorded = errors.New("spin could not be recorded")
)

// SpinOutcome classifies a resolved spin.
type SpinOutcome string

const (
	OutcomeWon        SpinOutcome = "won"
	OutcomeLost       SpinOutcome = "lost"
	OutcomeCapReached SpinOutcome = "cap_reached"
)

// SpinPolicy holds the wheel layout and payout limits.
type SpinPolicy struct {
	DailyCap      int64
	PerSpinAmount int64
	Segments      int
	WinningFrom   int
	WinningTo     int
}

// DefaultSpinPolicy is 15 segments, 1-5 winning, 5 points per win, 5 points per day.
var DefaultSpinPolicy = SpinPolicy{
	DailyCap:      5,
	PerSpinAmount: 5,
	Segments:      15,
	WinningFrom:   1,
	WinningTo:     5,
}

// IsWinning reports whether segment lies in the winning range.
func (p SpinPolicy) IsWinning(segment int) bool {
	return segment >= p.WinningFrom && segment <= p.WinningTo
}

// Payout computes the points for segment given what the user already won today.
// A winning segment pays min(remaining, PerSpinAmount) where remaining = max(0, DailyCap-todaysSum).
func (p SpinPolicy) Payout(segment int, todaysSum int64) (int64, SpinOutcome) {
	if !p.IsWinning(segment) {
		return 0, OutcomeLost
	}
	remaining := max(0, p.DailyCap-todaysSum)
	points := min(remaining, p.PerSpinAmount)
	if points <= 0 {
		return 0, OutcomeCapReached
	}
	return points, OutcomeWon
}

// Wheel picks the landing segment in [1, segments].
type Wheel interface {
	Land(segments int) int
}

type randWheel struct{}

func (randWheel) Land(segments int) int {
	return rand.Intn(segments) + 1
}

// SpinStatus is the user's position in the daily spin state machine.
type SpinStatus struct {
	CanSpin     bool
	TodayRecord *model.SpinRecord
	NextSpinAt  time.Time
}

// SpinResult is a resolved spin.
type SpinResult struct {
	Segment    int
	PointsWon  int64
	Outcome    SpinOutcome
	Record     *model.SpinRecord
	Credited   bool
	NewBalance int64
}

// SpinService runs the once-per-day spin.
type SpinService struct {
	users  UserStore
	ledger LedgerStore
	spins  SpinStore
	locks  *lock.UserLock
	wheel  Wheel
	policy SpinPolicy
	loc    *time.Location
	now    func() time.Time
}

// SpinOption customizes a SpinService.
type SpinOption func(*SpinService)

// WithWheel replaces the random wheel.
func WithWheel(w Wheel) SpinOption {
	return func(s *SpinService) { s.wheel = w }
}

// WithSpinClock replaces time.Now.
func WithSpinClock(now func() time.Time) SpinOption {
	return func(s *SpinService) { s.now = now }
}

// NewSpinService creates a new SpinService. Days roll over at midnight in loc.
func NewSpinService(users UserStore, ledger LedgerStore, spins SpinStore, locks *lock.UserLock, policy SpinPolicy, loc *time.Location, opts ...SpinOption) *SpinService {
	if loc == nil {
		loc = time.UTC
	}
	if locks == nil {
		locks = lock.NewUserLock()
	}
	s := &SpinService{
		users:  users,
		ledger: ledger,
		spins:  spins,
		locks:  locks,
		wheel:  randWheel{},
		policy: policy,
		loc:    loc,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the configured policy.
func (s *SpinService) Policy() SpinPolicy {
	return s.policy
}

// Location returns the timezone days roll over in.
func (s *SpinService) Location() *time.Location {
	return s.loc
}

// SpinDate returns the calendar date key for t in the service timezone.
func (s *SpinService) SpinDate(t time.Time) string {
	return t.In(s.loc).Format(model.SpinDateLayout)
}

// NextMidnight returns the start of the day after t in loc.
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// todays returns today's records and their summed payout. A failed read counts as no records.
func (s *SpinService) todays(ctx context.Context, userID int64, date string) ([]*model.SpinRecord, int64) {
	records, err := s.spins.ListForDate(ctx, userID, date)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Str("date", date).Msg("Failed to read spin records, assuming none")
		return nil, 0
	}
	var sum int64
	for _, r := range records {
		sum += r.PointsWon
	}
	return records, sum
}

// Status reports whether the user may spin today and when the next spin opens.
func (s *SpinService) Status(ctx context.Context, userID int64) SpinStatus {
	now := s.now()
	status := SpinStatus{
		CanSpin:    true,
		NextSpinAt: NextMidnight(now, s.loc),
	}
	records, _ := s.todays(ctx, userID, s.SpinDate(now))
	if len(records) > 0 {
		status.CanSpin = false
		status.TodayRecord = records[0]
	}
	return status
}

// Spin resolves today's spin for the user. A second spin on the same day
// returns ErrAlreadySpun without touching points. If the record cannot be
// stored the spin is void and ErrSpinNotRecorded is returned.
func (s *SpinService) Spin(ctx context.Context, userID int64, username string) (*SpinResult, error) {
	if userID == 0 {
		return nil, ErrUserNotAuthenticated
	}

	var result *SpinResult
	err := s.locks.WithLockContext(ctx, userID, func() error {
		if _, _, err := s.users.GetOrCreate(ctx, userID, username); err != nil {
			return fmt.Errorf("failed to ensure user: %w", err)
		}

		date := s.SpinDate(s.now())
		records, todaysSum := s.todays(ctx, userID, date)
		if len(records) > 0 {
			return ErrAlreadySpun
		}

		segment := s.wheel.Land(s.policy.Segments)
		points, outcome := s.policy.Payout(segment, todaysSum)

		record, err := s.spins.Create(ctx, userID, date, points)
		if err != nil {
			if errors.Is(err, repository.ErrSpinExists) {
				return ErrAlreadySpun
			}
			log.Error().Err(err).Int64("user_id", userID).Str("date", date).Msg("Failed to record spin")
			return ErrSpinNotRecorded
		}

		result = &SpinResult{
			Segment:   segment,
			PointsWon: points,
			Outcome:   outcome,
			Record:    record,
		}
		if points > 0 {
			s.credit(ctx, userID, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SpinsTotal.WithLabelValues(string(result.Outcome)).Inc()
	log.Info().
		Int64("user_id", userID).
		Int("segment", result.Segment).
		Int64("points", result.PointsWon).
		Str("outcome", string(result.Outcome)).
		Msg("Daily spin resolved")
	return result, nil
}

// credit appends the ledger entry and adds the payout. The spin record is already
// stored, so failures here are logged and leave Credited false.
func (s *SpinService) credit(ctx context.Context, userID int64, result *SpinResult) {
	desc := fmt.Sprintf("daily spin segment %d", result.Segment)
	if _, err := s.ledger.Create(ctx, userID, result.PointsWon, model.TxTypeSpin, &desc); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Spin ledger append failed")
	}
	user, err := s.users.AddPoints(ctx, userID, result.PointsWon)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Int64("points", result.PointsWon).Msg("Spin payout not credited")
		return
	}
	result.Credited = true
	result.NewBalance = user.Points
}
