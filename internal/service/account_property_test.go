package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"reward-bot/internal/model"
)

func newAccountHarness() (*AccountService, *fakeUsers, *fakeLedger, *fakePrefs) {
	users := newFakeUsers()
	ledger := &fakeLedger{}
	prefs := &fakePrefs{}
	return NewAccountService(users, ledger, prefs), users, ledger, prefs
}

// TestAwardLedgerConsistencyProperty checks that for any sequence of awards the
// balance equals the ledger total when no write fails.
func TestAwardLedgerConsistencyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		svc, users, ledger, _ := newAccountHarness()
		ctx := context.Background()
		if _, _, err := svc.EnsureUser(ctx, 1, "alice"); err != nil {
			t.Fatalf("ensure user: %v", err)
		}

		amounts := rapid.SliceOfN(rapid.Int64Range(1, 1000), 0, 30).Draw(t, "amounts")
		txType := rapid.SampledFrom([]string{model.TxTypeChatReward, model.TxTypeSpin, model.TxTypeAdminAdd}).Draw(t, "txType")

		var want int64
		for _, a := range amounts {
			if _, err := svc.Award(ctx, 1, a, txType, ""); err != nil {
				t.Fatalf("award: %v", err)
			}
			want += a
		}

		if got := users.points(1); got != want {
			t.Fatalf("balance %d, want %d", got, want)
		}
		if got := ledger.sum(1, txType); got != want {
			t.Fatalf("ledger %d, want %d", got, want)
		}
	})
}

func TestAccountService_EnsureUserRefreshesUsername(t *testing.T) {
	svc, users, _, _ := newAccountHarness()
	ctx := context.Background()

	_, created, err := svc.EnsureUser(ctx, 1, "alice")
	require.NoError(t, err)
	assert.True(t, created)

	u, created, err := svc.EnsureUser(ctx, 1, "alice_new")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "alice_new", u.Username)

	stored, err := users.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice_new", stored.Username)
}

func TestAccountService_GetPointsDefaultsToZero(t *testing.T) {
	svc, users, _, _ := newAccountHarness()
	ctx := context.Background()

	assert.Equal(t, int64(0), svc.GetPoints(ctx, 42))

	_, _, _ = users.GetOrCreate(ctx, 1, "")
	_, _ = users.AddPoints(ctx, 1, 7)
	assert.Equal(t, int64(7), svc.GetPoints(ctx, 1))

	users.failReads = true
	assert.Equal(t, int64(0), svc.GetPoints(ctx, 1))
}

func TestAccountService_AwardSurvivesLedgerFailure(t *testing.T) {
	svc, users, ledger, _ := newAccountHarness()
	ctx := context.Background()
	_, _, _ = users.GetOrCreate(ctx, 1, "")
	ledger.fail = true

	u, err := svc.Award(ctx, 1, 3, model.TxTypeSpin, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(3), u.Points)
	assert.Empty(t, ledger.entries)
}

func TestAccountService_AdminAdd(t *testing.T) {
	svc, users, ledger, _ := newAccountHarness()
	ctx := context.Background()

	_, err := svc.AdminAdd(ctx, 99, 5, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	u, err := svc.AdminAdd(ctx, 99, 5, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(20), u.Points)
	assert.Equal(t, int64(20), users.points(5))
	assert.Equal(t, int64(20), ledger.sum(5, model.TxTypeAdminAdd))

	history, err := svc.History(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].Description)
	assert.Equal(t, "admin 99", *history[0].Description)
}

func TestAccountService_ToggleRewardNotifications(t *testing.T) {
	svc, _, _, prefs := newAccountHarness()
	ctx := context.Background()

	assert.True(t, svc.RewardNotificationsEnabled(ctx, 1))

	on, err := svc.ToggleRewardNotifications(ctx, 1)
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, svc.RewardNotificationsEnabled(ctx, 1))

	on, err = svc.ToggleRewardNotifications(ctx, 1)
	require.NoError(t, err)
	assert.True(t, on)

	prefs.fail = true
	assert.True(t, svc.RewardNotificationsEnabled(ctx, 1), "unreadable preference falls back to on")
	_, err = svc.ToggleRewardNotifications(ctx, 1)
	assert.Error(t, err)
}

func TestAccountService_EarnedToday(t *testing.T) {
	svc, users, ledger, _ := newAccountHarness()
	ctx := context.Background()
	_, _, _ = users.GetOrCreate(ctx, 1, "")

	_, err := svc.Award(ctx, 1, 2, model.TxTypeChatReward, "")
	require.NoError(t, err)
	_, err = svc.Award(ctx, 1, 5, model.TxTypeSpin, "")
	require.NoError(t, err)

	assert.Equal(t, int64(2), svc.EarnedToday(ctx, 1, model.TxTypeChatReward, time.Now(), time.UTC))

	ledger.fail = true
	assert.Equal(t, int64(0), svc.EarnedToday(ctx, 1, model.TxTypeChatReward, time.Now(), time.UTC))
}
