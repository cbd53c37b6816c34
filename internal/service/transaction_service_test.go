package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/deferred-wallet/internal/model"
	"github.com/richardliu001/deferred-wallet/internal/repo"
	"github.com/richardliu001/deferred-wallet/internal/scheduler"
	"github.com/richardliu001/deferred-wallet/internal/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type txEnv struct {
	repo    *repo.Repository
	svc     *TransactionService
	clock   *fakeClock
	sched   *fakeScheduler
	settler *countingSettler
}

func newTxEnv(t *testing.T, resp settlement.Response) *txEnv {
	t.Helper()
	r := newTestRepo(t)
	log := zap.NewNop().Sugar()
	env := &txEnv{
		repo:    r,
		clock:   newFakeClock(),
		sched:   &fakeScheduler{},
		settler: &countingSettler{resp: resp},
	}
	env.svc = NewTransactionService(r, NewWalletService(r, log), env.settler, env.sched, log,
		WithClock(env.clock.Now), WithDefaultWithdrawDelay(time.Minute))
	return env
}

func i64(v int64) *int64 { return &v }

func TestTransactionService_DepositRoundTrip(t *testing.T) {
	env := newTxEnv(t, settlement.Response{})
	w := seedWallet(t, env.repo, "0.00")

	tx, err := env.svc.Create(context.Background(), CreateTransactionInput{
		WalletID: w.ID, Amount: dec("100.50"), Method: model.MethodDeposit,
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, tx.Status)
	require.NotNil(t, tx.StatusDescription)
	assert.Equal(t, "deposited successfully", *tx.StatusDescription)
	require.NotNil(t, tx.ExecutedTime)
	assert.Equal(t, env.clock.Now().Unix(), *tx.ExecutedTime)
	assert.True(t, balanceOf(t, env.repo, w.ID).Equal(dec("100.50")))
	assert.Empty(t, env.sched.calls)
	assert.Equal(t, 0, env.settler.count())
}

func TestTransactionService_DepositOnFundedWallet(t *testing.T) {
	env := newTxEnv(t, settlement.Response{})
	w := seedWallet(t, env.repo, "500.00")

	_, err := env.svc.Create(context.Background(), CreateTransactionInput{
		WalletID: w.ID, Amount: dec("100.50"), Method: model.MethodDeposit,
	})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, env.repo, w.ID).Equal(dec("600.50")))
}

func TestTransactionService_DepositWritesOutboxEvent(t *testing.T) {
	env := newTxEnv(t, settlement.Response{})
	w := seedWallet(t, env.repo, "0")
	ctx := context.Background()

	tx, err := env.svc.Create(ctx, CreateTransactionInput{WalletID: w.ID, Amount: dec("5"), Method: model.MethodDeposit})
	require.NoError(t, err)

	evts, err := env.repo.PollOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "transaction.completed", evts[0].EventType)
	assert.Equal(t, strconv.FormatUint(tx.ID, 10), evts[0].AggregateID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(evts[0].Payload), &payload))
	assert.Equal(t, "DEPOSIT", payload["method"])
	assert.Equal(t, "COMPLETED", payload["status"])
	assert.Equal(t, "5.00", payload["amount"])
}

func TestTransactionService_WithdrawIsScheduled(t *testing.T) {
	env := newTxEnv(t, settlement.Response{Status: 200, Data: "success"})
	w := seedWallet(t, env.repo, "200.00")
	ctx := context.Background()

	tx, err := env.svc.Create(ctx, CreateTransactionInput{WalletID: w.ID, Amount: dec("100.50"), Method: model.MethodWithdraw})
	require.NoError(t, err)

	assert.Equal(t, model.StatusPending, tx.Status)
	assert.Nil(t, tx.ExecutedTime)
	assert.Nil(t, tx.StatusDescription)
	require.NotNil(t, tx.ScheduledTime)
	wantAt := env.clock.Now().Add(time.Minute).Unix()
	assert.Equal(t, wantAt, *tx.ScheduledTime)

	require.Len(t, env.sched.calls, 1)
	call := env.sched.calls[0]
	assert.Equal(t, strconv.FormatUint(tx.ID, 10), call.ID)
	assert.Equal(t, JobKindWithdraw, call.Kind)
	assert.Equal(t, wantAt, call.RunAt.Unix())

	assert.True(t, balanceOf(t, env.repo, w.ID).Equal(dec("200")))
	assert.Equal(t, 0, env.settler.count())
}

func TestTransactionService_ExecuteWithdraw(t *testing.T) {
	tests := []struct {
		name        string
		balance     string
		resp        settlement.Response
		wantStatus  model.Status
		wantDesc    string
		wantBalance string
	}{
		{"insufficient funds", "0.00", settlement.Response{Status: 200, Data: "success"}, model.StatusFailed, "Insufficient funds.", "0.00"},
		{"settled", "200.00", settlement.Response{Status: 200, Data: "success"}, model.StatusCompleted, "success", "99.50"},
		{"processor failed", "200.00", settlement.Response{Status: 503, Data: "failed"}, model.StatusFailed, "failed", "200.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTxEnv(t, tt.resp)
			w := seedWallet(t, env.repo, tt.balance)
			ctx := context.Background()

			tx, err := env.svc.Create(ctx, CreateTransactionInput{
				WalletID: w.ID, Amount: dec("100.50"), Method: model.MethodWithdraw,
				ScheduledTime: i64(env.clock.Now().Unix() + 30),
			})
			require.NoError(t, err)

			env.clock.Advance(30 * time.Second)
			require.NoError(t, env.svc.ExecuteWithdraw(ctx, tx.ID))

			got, err := env.svc.Get(ctx, tx.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			require.NotNil(t, got.StatusDescription)
			assert.Equal(t, tt.wantDesc, *got.StatusDescription)
			require.NotNil(t, got.ExecutedTime)
			assert.True(t, balanceOf(t, env.repo, w.ID).Equal(dec(tt.wantBalance)))
		})
	}
}

func TestTransactionService_WithdrawRefusesEarlyExecution(t *testing.T) {
	env := newTxEnv(t, settlement.Response{Status: 200, Data: "success"})
	w := seedWallet(t, env.repo, "200.00")
	ctx := context.Background()

	tx, err := env.svc.Create(ctx, CreateTransactionInput{
		WalletID: w.ID, Amount: dec("100.50"), Method: model.MethodWithdraw,
		ScheduledTime: i64(env.clock.Now().Unix() + 3600),
	})
	require.NoError(t, err)

	err = env.svc.ExecuteWithdraw(ctx, tx.ID)
	assert.ErrorIs(t, err, ErrNotYetDue)

	got, err := env.svc.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Nil(t, got.ExecutedTime)
	assert.Equal(t, 0, env.settler.count())
	assert.True(t, balanceOf(t, env.repo, w.ID).Equal(dec("200")))
}

func TestTransactionService_WithdrawRunsOnlyOnce(t *testing.T) {
	env := newTxEnv(t, settlement.Response{Status: 200, Data: "success"})
	w := seedWallet(t, env.repo, "200.00")
	ctx := context.Background()

	tx, err := env.svc.Create(ctx, CreateTransactionInput{WalletID: w.ID, Amount: dec("100.50"), Method: model.MethodWithdraw})
	require.NoError(t, err)
	env.clock.Advance(2 * time.Minute)

	require.NoError(t, env.svc.ExecuteWithdraw(ctx, tx.ID))
	err = env.svc.ExecuteWithdraw(ctx, tx.ID)
	assert.ErrorIs(t, err, ErrAlreadyExecuted)

	assert.Equal(t, 1, env.settler.count())
	assert.True(t, balanceOf(t, env.repo, w.ID).Equal(dec("99.50")))
}

func TestTransactionService_DepositRunsOnlyOnce(t *testing.T) {
	env := newTxEnv(t, settlement.Response{})
	w := seedWallet(t, env.repo, "0")
	ctx := context.Background()

	tx, err := env.svc.Create(ctx, CreateTransactionInput{WalletID: w.ID, Amount: dec("10"), Method: model.MethodDeposit})
	require.NoError(t, err)

	assert.ErrorIs(t, env.svc.ExecuteDeposit(ctx, tx.ID), ErrAlreadyExecuted)
	assert.True(t, balanceOf(t, env.repo, w.ID).Equal(dec("10")))
}

func TestTransactionService_WrongMethod(t *testing.T) {
	env := newTxEnv(t, settlement.Response{Status: 200, Data: "success"})
	w := seedWallet(t, env.repo, "100")
	ctx := context.Background()

	tx, err := env.svc.Create(ctx, CreateTransactionInput{WalletID: w.ID, Amount: dec("10"), Method: model.MethodWithdraw})
	require.NoError(t, err)
	assert.ErrorIs(t, env.svc.ExecuteDeposit(ctx, tx.ID), ErrWrongMethod)
}

func TestTransactionService_CreateValidation(t *testing.T) {
	env := newTxEnv(t, settlement.Response{})
	w := seedWallet(t, env.repo, "0")
	now := env.clock.Now().Unix()

	tests := []struct {
		name string
		in   CreateTransactionInput
		want error
	}{
		{"scheduled in the past", CreateTransactionInput{WalletID: w.ID, Amount: dec("1"), Method: model.MethodWithdraw, ScheduledTime: i64(now - 1)}, ErrScheduledTimeInPast},
		{"scheduled now", CreateTransactionInput{WalletID: w.ID, Amount: dec("1"), Method: model.MethodWithdraw, ScheduledTime: i64(now)}, ErrScheduledTimeInPast},
		{"negative amount", CreateTransactionInput{WalletID: w.ID, Amount: dec("-1"), Method: model.MethodDeposit}, ErrInvalidAmount},
		{"too many decimals", CreateTransactionInput{WalletID: w.ID, Amount: dec("1.005"), Method: model.MethodDeposit}, ErrInvalidAmount},
		{"too large", CreateTransactionInput{WalletID: w.ID, Amount: dec("10000000000"), Method: model.MethodDeposit}, ErrInvalidAmount},
		{"bad method", CreateTransactionInput{WalletID: w.ID, Amount: dec("1"), Method: "2"}, ErrInvalidMethod},
		{"unknown wallet", CreateTransactionInput{WalletID: uuid.New(), Amount: dec("1"), Method: model.MethodDeposit}, ErrWalletNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Create(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	txs, err := env.svc.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Empty(t, env.sched.calls)
}

func TestTransactionService_DepositIgnoresScheduledTime(t *testing.T) {
	env := newTxEnv(t, settlement.Response{})
	w := seedWallet(t, env.repo, "0")

	tx, err := env.svc.Create(context.Background(), CreateTransactionInput{
		WalletID: w.ID, Amount: dec("3"), Method: model.MethodDeposit,
		ScheduledTime: i64(env.clock.Now().Unix() + 500),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, tx.Status)
}

func TestTransactionService_ScheduleFailureFailsTransaction(t *testing.T) {
	env := newTxEnv(t, settlement.Response{Status: 200, Data: "success"})
	env.sched.err = errors.New("store down")
	w := seedWallet(t, env.repo, "100")

	tx, err := env.svc.Create(context.Background(), CreateTransactionInput{WalletID: w.ID, Amount: dec("10"), Method: model.MethodWithdraw})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, tx.Status)
	require.NotNil(t, tx.ExecutedTime)
	assert.True(t, balanceOf(t, env.repo, w.ID).Equal(dec("100")))
}

func TestTransactionService_ListByWallet(t *testing.T) {
	env := newTxEnv(t, settlement.Response{})
	a := seedWallet(t, env.repo, "0")
	b := seedWallet(t, env.repo, "0")
	ctx := context.Background()

	for _, id := range []uuid.UUID{a.ID, a.ID, b.ID} {
		_, err := env.svc.Create(ctx, CreateTransactionInput{WalletID: id, Amount: dec("1"), Method: model.MethodDeposit})
		require.NoError(t, err)
	}

	all, err := env.svc.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyA, err := env.svc.List(ctx, &a.ID)
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	_, err = env.svc.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestTransactionService_ConcurrentWithdrawalsDoNotOverdraw(t *testing.T) {
	env := newTxEnv(t, settlement.Response{Status: 200, Data: "success"})
	w := seedWallet(t, env.repo, "100.00")
	ctx := context.Background()

	var ids []uint64
	for i := 0; i < 2; i++ {
		tx, err := env.svc.Create(ctx, CreateTransactionInput{WalletID: w.ID, Amount: dec("80"), Method: model.MethodWithdraw})
		require.NoError(t, err)
		ids = append(ids, tx.ID)
	}
	env.clock.Advance(time.Hour)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			assert.NoError(t, env.svc.ExecuteWithdraw(ctx, id))
		}(id)
	}
	wg.Wait()

	statuses := map[model.Status]int{}
	for _, id := range ids {
		tx, err := env.svc.Get(ctx, id)
		require.NoError(t, err)
		statuses[tx.Status]++
	}
	assert.Equal(t, 1, statuses[model.StatusCompleted])
	assert.Equal(t, 1, statuses[model.StatusFailed])
	assert.Equal(t, 1, env.settler.count())
	assert.True(t, balanceOf(t, env.repo, w.ID).Equal(dec("20")))
}

func TestTransactionService_WithRealScheduler(t *testing.T) {
	r := newTestRepo(t)
	log := zap.NewNop().Sugar()
	sched := scheduler.New(repo.NewJobStore(r.DB(context.Background())), log)
	settler := &countingSettler{resp: settlement.Response{Status: 200, Data: "success"}}
	svc := NewTransactionService(r, NewWalletService(r, log), settler, sched, log)
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(sched.Stop)

	w := seedWallet(t, r, "200.00")
	ctx := context.Background()
	at := time.Now().Unix() + 2
	tx, err := svc.Create(ctx, CreateTransactionInput{
		WalletID: w.ID, Amount: dec("100.50"), Method: model.MethodWithdraw, ScheduledTime: &at,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, tx.Status)

	// re-registering the same transaction keeps a single job
	require.NoError(t, sched.Schedule(ctx, strconv.FormatUint(tx.ID, 10), JobKindWithdraw, time.Unix(at, 0)))
	assert.Equal(t, 1, sched.Pending())

	require.Eventually(t, func() bool {
		got, err := svc.Get(ctx, tx.ID)
		return err == nil && got.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	got, err := svc.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.False(t, time.Now().Before(time.Unix(at, 0)))
	assert.True(t, balanceOf(t, r, w.ID).Equal(dec("99.50")))
	assert.Equal(t, 1, settler.count())
}
