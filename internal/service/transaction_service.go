package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/deferred-wallet/internal/metrics"
	"github.com/richardliu001/deferred-wallet/internal/model"
	"github.com/richardliu001/deferred-wallet/internal/repo"
	"github.com/richardliu001/deferred-wallet/internal/scheduler"
	"github.com/richardliu001/deferred-wallet/internal/settlement"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// JobKindWithdraw is the scheduler kind that executes a pending withdrawal.
const JobKindWithdraw = "transaction.withdraw"

// amounts are stored as numeric(12,2)
var maxAmount = decimal.New(1, 10)

// Scheduler is the part of the deferred scheduler the ledger needs.
type Scheduler interface {
	Register(kind string, h scheduler.Handler)
	Schedule(ctx context.Context, id, kind string, runAt time.Time) error
}

type CreateTransactionInput struct {
	WalletID      uuid.UUID
	Amount        decimal.Decimal
	Method        model.Method
	ScheduledTime *int64
}

type TransactionOption func(*TransactionService)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) TransactionOption {
	return func(s *TransactionService) { s.now = now }
}

// WithDefaultWithdrawDelay sets how far in the future an unscheduled withdrawal runs.
func WithDefaultWithdrawDelay(d time.Duration) TransactionOption {
	return func(s *TransactionService) { s.withdrawDelay = d }
}

// TransactionService records transactions and drives them to a terminal status.
type TransactionService struct {
	repo          repo.RepositoryInterface
	wallets       *WalletService
	settle        settlement.Client
	sched         Scheduler
	log           *zap.SugaredLogger
	now           func() time.Time
	withdrawDelay time.Duration
}

// NewTransactionService wires the ledger and registers the withdrawal job handler on sched.
func NewTransactionService(r repo.RepositoryInterface, wallets *WalletService, client settlement.Client,
	sched Scheduler, logger *zap.SugaredLogger, opts ...TransactionOption) *TransactionService {
	s := &TransactionService{
		repo:          r,
		wallets:       wallets,
		settle:        client,
		sched:         sched,
		log:           logger,
		now:           time.Now,
		withdrawDelay: time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	sched.Register(JobKindWithdraw, s.runWithdrawJob)
	return s
}

// Create validates and records a PENDING transaction. Deposits execute right away;
// withdrawals are handed to the scheduler for their scheduled time.
func (s *TransactionService) Create(ctx context.Context, in CreateTransactionInput) (*model.Transaction, error) {
	if !in.Method.Valid() {
		return nil, ErrInvalidMethod
	}
	if in.Amount.IsNegative() || !in.Amount.Equal(in.Amount.Round(2)) || in.Amount.GreaterThanOrEqual(maxAmount) {
		return nil, ErrInvalidAmount
	}
	now := s.now().Unix()
	if in.ScheduledTime != nil && *in.ScheduledTime <= now {
		return nil, ErrScheduledTimeInPast
	}
	if in.Method == model.MethodWithdraw && in.ScheduledTime == nil {
		at := now + int64(s.withdrawDelay/time.Second)
		in.ScheduledTime = &at
	}
	if _, err := s.wallets.GetWallet(ctx, in.WalletID); err != nil {
		return nil, err
	}

	t := &model.Transaction{
		WalletID:      in.WalletID,
		Amount:        in.Amount,
		Method:        in.Method,
		Status:        model.StatusPending,
		ScheduledTime: in.ScheduledTime,
	}
	if err := s.repo.CreateTransaction(ctx, s.repo.DB(ctx), t); err != nil {
		return nil, err
	}

	switch t.Method {
	case model.MethodDeposit:
		if err := s.ExecuteDeposit(ctx, t.ID); err != nil {
			if isGuardErr(err) {
				return nil, err
			}
			s.log.Errorw("apply deposit", "transaction_id", t.ID, "error", err)
			if ferr := s.fail(ctx, t.ID, "deposit could not be applied"); ferr != nil {
				return nil, fmt.Errorf("apply deposit: %w", errors.Join(err, ferr))
			}
		}
	case model.MethodWithdraw:
		runAt := time.Unix(*t.ScheduledTime, 0)
		if err := s.sched.Schedule(ctx, jobID(t.ID), JobKindWithdraw, runAt); err != nil {
			s.log.Errorw("schedule withdrawal", "transaction_id", t.ID, "error", err)
			if ferr := s.fail(ctx, t.ID, "withdrawal could not be scheduled"); ferr != nil {
				return nil, fmt.Errorf("schedule withdrawal: %w", errors.Join(err, ferr))
			}
		}
	}
	return s.Get(ctx, t.ID)
}

func (s *TransactionService) Get(ctx context.Context, id uint64) (*model.Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrTransactionNotFound)
	}
	return t, nil
}

// List returns every transaction, or only those of walletID when given.
func (s *TransactionService) List(ctx context.Context, walletID *uuid.UUID) ([]model.Transaction, error) {
	return s.repo.ListTransactions(ctx, walletID)
}

// ExecuteDeposit credits the wallet and finalizes a pending deposit.
func (s *TransactionService) ExecuteDeposit(ctx context.Context, id uint64) error {
	return s.execute(ctx, id, model.MethodDeposit, func(tx *gorm.DB, t *model.Transaction) (Result, error) {
		return s.wallets.Deposit(ctx, tx, t.WalletID, t.Amount)
	})
}

// ExecuteWithdraw settles and finalizes a pending withdrawal. It refuses to run
// twice (ErrAlreadyExecuted) or before the scheduled time (ErrNotYetDue).
func (s *TransactionService) ExecuteWithdraw(ctx context.Context, id uint64) error {
	return s.execute(ctx, id, model.MethodWithdraw, func(tx *gorm.DB, t *model.Transaction) (Result, error) {
		if t.ScheduledTime != nil && s.now().Unix() < *t.ScheduledTime {
			return Result{}, ErrNotYetDue
		}
		req := settlement.Request{TransactionID: t.ID, WalletID: t.WalletID.String(), Amount: t.Amount}
		return s.wallets.Withdraw(ctx, tx, t.WalletID, t.Amount, func(ctx context.Context) settlement.Response {
			return s.settle.Settle(ctx, req)
		})
	})
}

type applyFunc func(tx *gorm.DB, t *model.Transaction) (Result, error)

// execute runs apply and the terminal write in a single DB transaction while
// holding the wallet lock, so no reader sees a half-finished transition.
func (s *TransactionService) execute(ctx context.Context, id uint64, method model.Method, apply applyFunc) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Method != method {
		return ErrWrongMethod
	}

	unlock := s.wallets.Lock(t.WalletID)
	defer unlock()

	var res Result
	var final *model.Transaction
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.repo.GetTransactionForUpdate(ctx, tx, id)
		if err != nil {
			return notFound(err, ErrTransactionNotFound)
		}
		if cur.Executed() {
			return ErrAlreadyExecuted
		}
		if cur.Status != model.StatusPending {
			return ErrNotPending
		}
		if res, err = apply(tx, cur); err != nil {
			return err
		}
		status := model.StatusFailed
		if res.Success {
			status = model.StatusCompleted
		}
		final = cur
		return s.finalize(ctx, tx, cur, status, res.Description)
	})
	if err != nil {
		if method == model.MethodWithdraw && res.Success {
			s.log.Errorw("withdrawal settled but not recorded", "transaction_id", id, "error", err)
		}
		return err
	}

	metrics.TransactionsFinalized.WithLabelValues(final.Method.Label(), final.Status.Label()).Inc()
	s.wallets.CacheBalance(ctx, final.WalletID, res.Balance)
	s.log.Infow("transaction finalized",
		"transaction_id", id, "method", final.Method.Label(),
		"status", final.Status.Label(), "description", res.Description)
	return nil
}

// fail finalizes a pending transaction as FAILED without touching the wallet.
func (s *TransactionService) fail(ctx context.Context, id uint64, reason string) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.repo.GetTransactionForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		return s.finalize(ctx, tx, cur, model.StatusFailed, reason)
	})
}

type outcomeEvent struct {
	ID                uint64 `json:"id"`
	Wallet            string `json:"wallet"`
	Method            string `json:"method"`
	Amount            string `json:"amount"`
	Status            string `json:"status"`
	StatusDescription string `json:"status_description"`
	ScheduledTime     *int64 `json:"scheduled_time"`
	ExecutedTime      int64  `json:"executed_time"`
}

// finalize stamps status, description and executed_time together and queues
// the outcome event in the same DB transaction.
func (s *TransactionService) finalize(ctx context.Context, tx *gorm.DB, t *model.Transaction, status model.Status, desc string) error {
	executed := s.now().Unix()
	t.Status = status
	t.StatusDescription = &desc
	t.ExecutedTime = &executed
	if err := s.repo.FinalizeTransaction(ctx, tx, t); err != nil {
		if errors.Is(err, repo.ErrAlreadyFinalized) {
			return ErrAlreadyExecuted
		}
		return err
	}

	payload, err := json.Marshal(outcomeEvent{
		ID:                t.ID,
		Wallet:            t.WalletID.String(),
		Method:            t.Method.Label(),
		Amount:            t.Amount.StringFixed(2),
		Status:            status.Label(),
		StatusDescription: desc,
		ScheduledTime:     t.ScheduledTime,
		ExecutedTime:      executed,
	})
	if err != nil {
		return err
	}
	eventType := "transaction.completed"
	if status == model.StatusFailed {
		eventType = "transaction.failed"
	}
	return s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
		Aggregate:   "Transaction",
		AggregateID: jobID(t.ID),
		EventType:   eventType,
		Payload:     string(payload),
	})
}

// runWithdrawJob is the scheduler handler. The job row is already claimed, so
// an early firing is put back and any other non-guard failure finalizes the
// withdrawal as FAILED rather than leaving it PENDING without a job.
func (s *TransactionService) runWithdrawJob(ctx context.Context, id string) error {
	txID, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return fmt.Errorf("bad withdrawal job id %q: %w", id, err)
	}
	err = s.ExecuteWithdraw(ctx, txID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotYetDue):
		return errors.Join(err, s.reschedule(ctx, txID))
	case isGuardErr(err):
		return err
	}
	if ferr := s.fail(ctx, txID, "withdrawal could not be executed"); ferr != nil {
		return errors.Join(err, ferr)
	}
	return err
}

func (s *TransactionService) reschedule(ctx context.Context, id uint64) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.ScheduledTime == nil {
		return nil
	}
	return s.sched.Schedule(ctx, jobID(id), JobKindWithdraw, time.Unix(*t.ScheduledTime, 0))
}

// isGuardErr reports errors that mean the transaction must not be touched.
func isGuardErr(err error) bool {
	return errors.Is(err, ErrAlreadyExecuted) ||
		errors.Is(err, ErrNotPending) ||
		errors.Is(err, ErrNotYetDue) ||
		errors.Is(err, ErrWrongMethod) ||
		errors.Is(err, ErrTransactionNotFound)
}

func jobID(id uint64) string { return strconv.FormatUint(id, 10) }
