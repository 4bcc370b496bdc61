// Package repository tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"reward-bot/internal/model"
	"reward-bot/internal/pkg/db"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB creates a PostgreSQL container, applies the schema and returns a pool.
// Skips the test if Docker is not available.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// ============================================================================
// UserRepository Tests
// ============================================================================

func TestUserRepository_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	user, err := repo.Create(ctx, 12345, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), user.TelegramID)
	assert.Equal(t, int64(0), user.Points)
	assert.False(t, user.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = repo.GetByID(ctx, 99999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_GetOrCreate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	_, created, err := repo.GetOrCreate(ctx, 12345, "alice")
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = repo.GetOrCreate(ctx, 12345, "alice")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestUserRepository_AddPoints(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, 12345, "alice")
	require.NoError(t, err)

	user, err := repo.AddPoints(ctx, 12345, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), user.Points)

	_, err = repo.AddPoints(ctx, 99999, 1)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_AddPointsConcurrent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, 1, "alice")
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, _ = repo.AddPoints(ctx, 1, 1)
		}()
	}
	wg.Wait()

	user, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), user.Points, "increments must not be lost")
}

func TestUserRepository_GetTopUsers(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	for i, pts := range []int64{30, 10, 20} {
		id := int64(i + 1)
		_, err := repo.Create(ctx, id, "")
		require.NoError(t, err)
		_, err = repo.AddPoints(ctx, id, pts)
		require.NoError(t, err)
	}

	top, err := repo.GetTopUsers(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(30), top[0].Points)
	assert.Equal(t, int64(20), top[1].Points)
}

// ============================================================================
// TransactionRepository Tests
// ============================================================================

func TestTransactionRepository_CreateAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	userRepo := NewUserRepository(pool)
	txRepo := NewTransactionRepository(pool)
	ctx := context.Background()

	_, err := userRepo.Create(ctx, 1, "alice")
	require.NoError(t, err)

	desc := "chat reward"
	_, err = txRepo.Create(ctx, 1, 1, model.TxTypeChatReward, &desc)
	require.NoError(t, err)
	_, err = txRepo.Create(ctx, 1, 5, model.TxTypeSpin, nil)
	require.NoError(t, err)

	txs, err := txRepo.GetByUserID(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, model.TxTypeSpin, txs[0].Type)
	assert.Nil(t, txs[0].Description)

	sum, err := txRepo.SumByTypeSince(ctx, 1, model.TxTypeChatReward, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum)
}

// ============================================================================
// PremiumRepository Tests
// ============================================================================

func TestPremiumRepository_UpsertAndChatPoints(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	userRepo := NewUserRepository(pool)
	repo := NewPremiumRepository(pool)
	ctx := context.Background()

	_, err := userRepo.Create(ctx, 1, "alice")
	require.NoError(t, err)

	_, err = repo.GetByUserID(ctx, 1)
	assert.ErrorIs(t, err, ErrMembershipNotFound)

	start := time.Now().UTC().Truncate(time.Second)
	m, err := repo.Upsert(ctx, 1, true, start, start.AddDate(0, 3, 0))
	require.NoError(t, err)
	assert.True(t, m.IsActive)

	require.NoError(t, repo.AddChatPoints(ctx, 1, 3))

	// Extending keeps the accumulator.
	m, err = repo.Upsert(ctx, 1, true, start, start.AddDate(0, 6, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.TotalChatPointsEarned)
	assert.True(t, m.ExpiresAt.Equal(start.AddDate(0, 6, 0)))

	require.NoError(t, repo.SetActive(ctx, 1, false))
	m, err = repo.GetByUserID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, m.IsActive)

	assert.Error(t, repo.AddChatPoints(ctx, 1, -1))
	assert.ErrorIs(t, repo.AddChatPoints(ctx, 2, 1), ErrMembershipNotFound)
}

func TestMembershipListener_ReceivesChanges(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	userRepo := NewUserRepository(pool)
	repo := NewPremiumRepository(pool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := userRepo.Create(ctx, 7, "alice")
	require.NoError(t, err)

	changes := make(chan int64, 8)
	listener := NewMembershipListener(pool)
	done := make(chan struct{})
	go func() {
		listener.Run(ctx, func(id int64) { changes <- id })
		close(done)
	}()

	next := func() int64 {
		select {
		case id := <-changes:
			return id
		case <-time.After(10 * time.Second):
			t.Fatal("no membership notification")
			return 0
		}
	}

	// LISTEN is issued asynchronously; keep upserting until the first notification lands.
	start := time.Now().UTC().Truncate(time.Second)
	require.Eventually(t, func() bool {
		if _, err := repo.Upsert(ctx, 7, true, start, start.AddDate(0, 1, 0)); err != nil {
			return false
		}
		select {
		case id := <-changes:
			return id == 7
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)

	// Drain duplicates from the retry loop.
	time.Sleep(300 * time.Millisecond)
	for len(changes) > 0 {
		<-changes
	}

	require.NoError(t, repo.AddChatPoints(ctx, 7, 1))
	require.NoError(t, repo.SetActive(ctx, 7, false))
	assert.Equal(t, int64(7), next(), "deactivation notifies")
	select {
	case id := <-changes:
		t.Fatalf("unexpected extra notification for %d", id)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
}

// ============================================================================
// SpinRepository Tests
// ============================================================================

func TestSpinRepository_UniquePerDay(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	userRepo := NewUserRepository(pool)
	repo := NewSpinRepository(pool)
	ctx := context.Background()

	_, err := userRepo.Create(ctx, 1, "alice")
	require.NoError(t, err)

	rec, err := repo.Create(ctx, 1, "2026-10-19", 5)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19", rec.SpinDate)

	_, err = repo.Create(ctx, 1, "2026-10-19", 5)
	assert.ErrorIs(t, err, ErrSpinExists)

	_, err = repo.Create(ctx, 1, "2026-10-20", 0)
	require.NoError(t, err)

	recs, err := repo.ListForDate(ctx, 1, "2026-10-19")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(5), recs[0].PointsWon)
}

func TestSpinRepository_RacingInsertsOnlyOneWins(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	userRepo := NewUserRepository(pool)
	repo := NewSpinRepository(pool)
	ctx := context.Background()

	_, err := userRepo.Create(ctx, 1, "alice")
	require.NoError(t, err)

	const attempts = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			if _, err := repo.Create(ctx, 1, "2026-10-19", 5); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
}

// ============================================================================
// PreferenceRepository Tests
// ============================================================================

func TestPreferenceRepository_Bool(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPreferenceRepository(pool)
	ctx := context.Background()

	v, err := repo.GetBool(ctx, 1, model.PrefChatRewardNotifications, true)
	require.NoError(t, err)
	assert.True(t, v)

	require.NoError(t, repo.SetBool(ctx, 1, model.PrefChatRewardNotifications, false))
	v, err = repo.GetBool(ctx, 1, model.PrefChatRewardNotifications, true)
	require.NoError(t, err)
	assert.False(t, v)
}
