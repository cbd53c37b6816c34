package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/richardliu001/deferred-wallet/internal/model"
	"github.com/richardliu001/deferred-wallet/internal/repo"
	"github.com/richardliu001/deferred-wallet/internal/settlement"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	msgDeposited         = "deposited successfully"
	msgInsufficientFunds = "Insufficient funds."
)

// Result is the outcome of a balance operation. Success false is a normal
// financial outcome, not an error.
type Result struct {
	Description string
	Success     bool
	Balance     decimal.Decimal
}

// SettleFunc performs the external settlement for one withdrawal.
type SettleFunc func(ctx context.Context) settlement.Response

type WalletOption func(*WalletService)

// WithSuccessStatus sets the settlement status code that authorizes a debit.
func WithSuccessStatus(code int) WalletOption {
	return func(s *WalletService) { s.successStatus = code }
}

// WalletService owns wallet records and their balance mutations.
type WalletService struct {
	repo          repo.RepositoryInterface
	log           *zap.SugaredLogger
	successStatus int
	locks         walletLocks
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, logger *zap.SugaredLogger, opts ...WalletOption) *WalletService {
	s := &WalletService{repo: r, log: logger, successStatus: 200}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Deposit adds amt to the wallet inside tx. It always succeeds for a locked, existing wallet.
func (s *WalletService) Deposit(ctx context.Context, tx *gorm.DB, walletID uuid.UUID, amt decimal.Decimal) (Result, error) {
	w, err := s.lockedWallet(ctx, tx, walletID)
	if err != nil {
		return Result{}, err
	}
	newBal := w.Balance.Add(amt)
	if err := s.repo.UpdateWallet(ctx, tx, walletID, newBal, w.Version); err != nil {
		return Result{}, err
	}
	return Result{Description: msgDeposited, Success: true, Balance: newBal}, nil
}

// Withdraw debits amt inside tx, but only after settle reports the success status.
// Unfunded withdrawals return before settle is called and touch nothing.
func (s *WalletService) Withdraw(ctx context.Context, tx *gorm.DB, walletID uuid.UUID, amt decimal.Decimal, settle SettleFunc) (Result, error) {
	w, err := s.lockedWallet(ctx, tx, walletID)
	if err != nil {
		return Result{}, err
	}
	if amt.GreaterThan(w.Balance) {
		return Result{Description: msgInsufficientFunds, Success: false, Balance: w.Balance}, nil
	}

	resp := settle(ctx)
	res := Result{Description: describe(resp), Success: resp.Status == s.successStatus, Balance: w.Balance}
	if res.Success {
		res.Balance = w.Balance.Sub(amt)
	}
	// an unchanged balance is still written so updated_at records the attempt
	if err := s.repo.UpdateWallet(ctx, tx, walletID, res.Balance, w.Version); err != nil {
		return Result{}, err
	}
	return res, nil
}

func describe(resp settlement.Response) string {
	if resp.Data != "" {
		return resp.Data
	}
	return fmt.Sprintf("settlement returned status %d without description", resp.Status)
}

func (s *WalletService) lockedWallet(ctx context.Context, tx *gorm.DB, walletID uuid.UUID) (*model.Wallet, error) {
	w, err := s.repo.GetWalletForUpdate(ctx, tx, walletID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	return w, err
}

// Lock serializes balance mutations of one wallet within this process.
// The returned func releases it.
func (s *WalletService) Lock(walletID uuid.UUID) func() {
	return s.locks.lock(walletID)
}

// CreateWallet provisions a wallet for an owner that has none yet.
func (s *WalletService) CreateWallet(ctx context.Context, ownerID uint64) (*model.Wallet, error) {
	if _, err := s.repo.GetUser(ctx, ownerID); err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	if _, err := s.repo.GetWalletByOwner(ctx, ownerID); err == nil {
		return nil, ErrWalletExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	w := &model.Wallet{OwnerID: ownerID, Balance: decimal.Zero}
	if err := s.repo.CreateWallet(ctx, s.repo.DB(ctx), w); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrWalletExists
		}
		return nil, err
	}
	return w, nil
}

func (s *WalletService) GetWallet(ctx context.Context, id uuid.UUID) (*model.Wallet, error) {
	w, err := s.repo.GetWallet(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrWalletNotFound)
	}
	return w, nil
}

func (s *WalletService) ListWallets(ctx context.Context) ([]model.Wallet, error) {
	return s.repo.ListWallets(ctx)
}

// ChangeOwner moves a wallet to another user that has no wallet.
func (s *WalletService) ChangeOwner(ctx context.Context, id uuid.UUID, ownerID uint64) (*model.Wallet, error) {
	w, err := s.GetWallet(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.OwnerID == ownerID {
		return w, nil
	}
	if _, err := s.repo.GetUser(ctx, ownerID); err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	if _, err := s.repo.GetWalletByOwner(ctx, ownerID); err == nil {
		return nil, ErrWalletExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err := s.repo.SetWalletOwner(ctx, id, ownerID); err != nil {
		return nil, notFound(err, ErrWalletNotFound)
	}
	return s.GetWallet(ctx, id)
}

// GetBalance returns current wallet balance, served from cache when possible.
func (s *WalletService) GetBalance(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	bal, err := s.repo.GetCachedBalance(ctx, walletID)
	if err == nil {
		return bal, nil
	}
	w, err := s.GetWallet(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	s.CacheBalance(ctx, walletID, w.Balance)
	return w.Balance, nil
}

// CacheBalance refreshes the cached balance; failures are only logged.
func (s *WalletService) CacheBalance(ctx context.Context, walletID uuid.UUID, bal decimal.Decimal) {
	if err := s.repo.CacheBalance(ctx, walletID, bal); err != nil {
		s.log.Warnw("cache balance", "wallet", walletID, "error", err)
	}
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

type walletLock struct {
	sync.Mutex
	refs int
}

// walletLocks is a keyed mutex; entries are dropped once nobody holds or waits on them.
type walletLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*walletLock
}

func (l *walletLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[uuid.UUID]*walletLock)
	}
	wl, ok := l.m[id]
	if !ok {
		wl = &walletLock{}
		l.m[id] = wl
	}
	wl.refs++
	l.mu.Unlock()

	wl.Lock()
	return func() {
		wl.Unlock()
		l.mu.Lock()
		wl.refs--
		if wl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
