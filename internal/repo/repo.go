package repo

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/richardliu001/deferred-wallet/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrVersionConflict is returned when an optimistic wallet update lost the race.
	ErrVersionConflict = errors.New("optimistic lock conflict")
	// ErrAlreadyFinalized is returned when a transaction already carries an executed_time.
	ErrAlreadyFinalized = errors.New("transaction already finalized")
)

const balanceTTL = 5 * time.Minute

// RepositoryInterface restricts Repo methods so services can be tested against fakes.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	CreateUser(ctx context.Context, tx *gorm.DB, u *model.User) error
	GetUser(ctx context.Context, id uint64) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	SaveUser(ctx context.Context, u *model.User) error

	CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error
	GetWallet(ctx context.Context, id uuid.UUID) (*model.Wallet, error)
	GetWalletByOwner(ctx context.Context, ownerID uint64) (*model.Wallet, error)
	ListWallets(ctx context.Context) ([]model.Wallet, error)
	SetWalletOwner(ctx context.Context, id uuid.UUID, ownerID uint64) error
	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID uuid.UUID) (*model.Wallet, error)
	UpdateWallet(ctx context.Context, tx *gorm.DB, walletID uuid.UUID, newBalance decimal.Decimal, oldVersion uint64) error

	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	GetTransaction(ctx context.Context, id uint64) (*model.Transaction, error)
	GetTransactionForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Transaction, error)
	ListTransactions(ctx context.Context, walletID *uuid.UUID) ([]model.Transaction, error)
	FinalizeTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, walletID uuid.UUID, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error)
}

// Repository implements RepositoryInterface.
// rdb and writer may be nil; the cache then always misses.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// Migrate creates or updates every table the service owns.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&model.User{}, &model.Wallet{}, &model.Transaction{},
		&model.OutboxEvent{}, &model.ScheduledJob{},
	)
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

func (r *Repository) CreateUser(ctx context.Context, tx *gorm.DB, u *model.User) error {
	return tx.WithContext(ctx).Create(u).Error
}

func (r *Repository) GetUser(ctx context.Context, id uint64) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]model.User, error) {
	var us []model.User
	err := r.db.WithContext(ctx).Order("id").Find(&us).Error
	return us, err
}

func (r *Repository) SaveUser(ctx context.Context, u *model.User) error {
	return r.db.WithContext(ctx).Save(u).Error
}

// CreateWallet inserts a wallet; ID is generated when empty.
func (r *Repository) CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error {
	return tx.WithContext(ctx).Create(w).Error
}

func (r *Repository) GetWallet(ctx context.Context, id uuid.UUID) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) GetWalletByOwner(ctx context.Context, ownerID uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) ListWallets(ctx context.Context) ([]model.Wallet, error) {
	var ws []model.Wallet
	err := r.db.WithContext(ctx).Order("created_at").Find(&ws).Error
	return ws, err
}

// SetWalletOwner reassigns a wallet; the balance is never touched here.
func (r *Repository) SetWalletOwner(ctx context.Context, id uuid.UUID, ownerID uint64) error {
	res := r.db.WithContext(ctx).Model(&model.Wallet{}).Where("id = ?", id).
		Updates(map[string]interface{}{"owner_id": ownerID, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetWalletForUpdate locks wallet row.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID uuid.UUID) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", walletID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// UpdateWallet with optimistic lock. updated_at is refreshed even when the balance is unchanged.
func (r *Repository) UpdateWallet(ctx context.Context, tx *gorm.DB, walletID uuid.UUID, newBalance decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    oldVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// CreateTransaction inserts record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return tx.WithContext(ctx).Create(t).Error
}

func (r *Repository) GetTransaction(ctx context.Context, id uint64) (*model.Transaction, error) {
	var t model.Transaction
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTransactionForUpdate locks transaction row.
func (r *Repository) GetTransactionForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Transaction, error) {
	var t model.Transaction
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTransactions returns all transactions, or those of one wallet.
func (r *Repository) ListTransactions(ctx context.Context, walletID *uuid.UUID) ([]model.Transaction, error) {
	var txs []model.Transaction
	q := r.db.WithContext(ctx).Order("id")
	if walletID != nil {
		q = q.Where("wallet_id = ?", *walletID)
	}
	err := q.Find(&txs).Error
	return txs, err
}

// FinalizeTransaction writes the terminal status, description and executed_time
// in one statement, guarded by executed_time still being NULL.
func (r *Repository) FinalizeTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	res := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND executed_time IS NULL", t.ID).
		Updates(map[string]interface{}{
			"status":             t.Status,
			"status_description": t.StatusDescription,
			"executed_time":      t.ExecutedTime,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyFinalized
	}
	return nil
}
