package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"reward-bot/internal/model"
	"reward-bot/internal/repository"
)

var errStoreDown = errors.New("store unavailable")

// fakeUsers is an in-memory UserStore.
type fakeUsers struct {
	mu         sync.Mutex
	users      map[int64]*model.User
	failAdd    bool
	failReads  bool
	addPointsN int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[int64]*model.User)}
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return nil, errStoreDown
	}
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetOrCreate(_ context.Context, id int64, username string) (*model.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, false, nil
	}
	u := &model.User{TelegramID: id, Username: username, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.users[id] = u
	cp := *u
	return &cp, true, nil
}

func (f *fakeUsers) AddPoints(_ context.Context, id int64, amount int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd {
		return nil, errStoreDown
	}
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	u.Points += amount
	f.addPointsN++
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetTopUsers(_ context.Context, limit int) ([]*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.User, 0, len(f.users))
	for _, u := range f.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].TelegramID < out[j].TelegramID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeUsers) UpdateUsername(_ context.Context, id int64, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.Username = username
	}
	return nil
}

func (f *fakeUsers) points(id int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u.Points
	}
	return 0
}

func (f *fakeUsers) setFailAdd(v bool) {
	f.mu.Lock()
	f.failAdd = v
	f.mu.Unlock()
}

// fakeLedger is an in-memory LedgerStore.
type fakeLedger struct {
	mu      sync.Mutex
	entries []*model.Transaction
	fail    bool
}

func (f *fakeLedger) Create(_ context.Context, userID int64, amount int64, txType string, description *string) (*model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errStoreDown
	}
	tx := &model.Transaction{
		ID:          int64(len(f.entries) + 1),
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		CreatedAt:   time.Now(),
	}
	f.entries = append(f.entries, tx)
	return tx, nil
}

func (f *fakeLedger) GetByUserID(_ context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Transaction
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if f.entries[i].UserID == userID {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

func (f *fakeLedger) SumByTypeSince(_ context.Context, userID int64, txType string, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errStoreDown
	}
	var total int64
	for _, e := range f.entries {
		if e.UserID == userID && e.Type == txType && !e.CreatedAt.Before(since) {
			total += e.Amount
		}
	}
	return total, nil
}

func (f *fakeLedger) sum(userID int64, txType string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, e := range f.entries {
		if e.UserID == userID && e.Type == txType {
			total += e.Amount
		}
	}
	return total
}

// fakeMemberships is an in-memory MembershipStore.
type fakeMemberships struct {
	mu       sync.Mutex
	rows     map[int64]*model.PremiumMembership
	failGets bool
}

func newFakeMemberships() *fakeMemberships {
	return &fakeMemberships{rows: make(map[int64]*model.PremiumMembership)}
}

func (f *fakeMemberships) GetByUserID(_ context.Context, userID int64) (*model.PremiumMembership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGets {
		return nil, errStoreDown
	}
	m, ok := f.rows[userID]
	if !ok {
		return nil, repository.ErrMembershipNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMemberships) Upsert(_ context.Context, userID int64, active bool, startedAt, expiresAt time.Time) (*model.PremiumMembership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[userID]
	if !ok {
		m = &model.PremiumMembership{UserID: userID}
		f.rows[userID] = m
	}
	m.IsActive = active
	m.StartedAt = startedAt
	m.ExpiresAt = expiresAt
	cp := *m
	return &cp, nil
}

func (f *fakeMemberships) SetActive(_ context.Context, userID int64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[userID]
	if !ok {
		return repository.ErrMembershipNotFound
	}
	m.IsActive = active
	return nil
}

func (f *fakeMemberships) AddChatPoints(_ context.Context, userID int64, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[userID]
	if !ok {
		return repository.ErrMembershipNotFound
	}
	m.TotalChatPointsEarned += amount
	return nil
}

func (f *fakeMemberships) put(m *model.PremiumMembership) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[m.UserID] = m
}

func (f *fakeMemberships) chatPoints(userID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.rows[userID]; ok {
		return m.TotalChatPointsEarned
	}
	return 0
}

// fakeSpins is an in-memory SpinStore that enforces one record per (user, date).
type fakeSpins struct {
	mu         sync.Mutex
	records    []*model.SpinRecord
	failCreate bool
	failList   bool
}

func (f *fakeSpins) ListForDate(_ context.Context, userID int64, spinDate string) ([]*model.SpinRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, errStoreDown
	}
	var out []*model.SpinRecord
	for _, r := range f.records {
		if r.UserID == userID && r.SpinDate == spinDate {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSpins) Create(_ context.Context, userID int64, spinDate string, pointsWon int64) (*model.SpinRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return nil, errStoreDown
	}
	for _, r := range f.records {
		if r.UserID == userID && r.SpinDate == spinDate {
			return nil, repository.ErrSpinExists
		}
	}
	rec := &model.SpinRecord{
		ID:        int64(len(f.records) + 1),
		UserID:    userID,
		SpinDate:  spinDate,
		PointsWon: pointsWon,
		CreatedAt: time.Now(),
	}
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeSpins) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakePrefs is an in-memory PreferenceStore.
type fakePrefs struct {
	mu   sync.Mutex
	vals map[string]bool
	fail bool
}

func prefKey(userID int64, key string) string {
	return fmt.Sprintf("%d/%s", userID, key)
}

func (f *fakePrefs) GetBool(_ context.Context, userID int64, key string, def bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return def, errStoreDown
	}
	v, ok := f.vals[prefKey(userID, key)]
	if !ok {
		return def, nil
	}
	return v, nil
}

func (f *fakePrefs) SetBool(_ context.Context, userID int64, key string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	if f.vals == nil {
		f.vals = make(map[string]bool)
	}
	f.vals[prefKey(userID, key)] = value
	return nil
}

// fixedWheel always lands on the same segment.
type fixedWheel int

func (w fixedWheel) Land(int) int { return int(w) }

// manualClock is a settable clock.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
