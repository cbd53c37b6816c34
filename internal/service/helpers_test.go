package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/deferred-wallet/internal/model"
	"github.com/richardliu001/deferred-wallet/internal/repo"
	"github.com/richardliu001/deferred-wallet/internal/scheduler"
	"github.com/richardliu001/deferred-wallet/internal/settlement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	r := repo.NewRepository(db, nil, nil, zap.NewNop().Sugar())
	require.NoError(t, r.Migrate())
	return r
}

func seedWallet(t *testing.T, r *repo.Repository, balance string) *model.Wallet {
	t.Helper()
	ctx := context.Background()
	u := &model.User{Username: "user-" + uuid.NewString()[:8]}
	require.NoError(t, r.CreateUser(ctx, r.DB(ctx), u))
	w := &model.Wallet{OwnerID: u.ID, Balance: decimal.RequireFromString(balance)}
	require.NoError(t, r.CreateWallet(ctx, r.DB(ctx), w))
	return w
}

func balanceOf(t *testing.T, r *repo.Repository, id uuid.UUID) decimal.Decimal {
	t.Helper()
	w, err := r.GetWallet(context.Background(), id)
	require.NoError(t, err)
	return w.Balance
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type scheduledCall struct {
	ID    string
	Kind  string
	RunAt time.Time
}

type fakeScheduler struct {
	mu       sync.Mutex
	handlers map[string]scheduler.Handler
	calls    []scheduledCall
	err      error
}

func (f *fakeScheduler) Register(kind string, h scheduler.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = map[string]scheduler.Handler{}
	}
	f.handlers[kind] = h
}

func (f *fakeScheduler) Schedule(_ context.Context, id, kind string, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, scheduledCall{ID: id, Kind: kind, RunAt: runAt})
	return nil
}

// countingSettler returns resp and counts calls.
type countingSettler struct {
	mu    sync.Mutex
	resp  settlement.Response
	calls int
}

func (c *countingSettler) Settle(context.Context, settlement.Request) settlement.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.resp
}

func (c *countingSettler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
