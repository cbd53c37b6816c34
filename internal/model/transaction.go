package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Method is stored as the wire code: "0" deposit, "1" withdraw.
type Method string

const (
	MethodDeposit  Method = "0"
	MethodWithdraw Method = "1"
)

func (m Method) Valid() bool { return m == MethodDeposit || m == MethodWithdraw }

func (m Method) Label() string {
	switch m {
	case MethodDeposit:
		return "DEPOSIT"
	case MethodWithdraw:
		return "WITHDRAW"
	}
	return ""
}

type Status string

const (
	StatusPending   Status = "0"
	StatusCompleted Status = "1"
	StatusFailed    Status = "2"
)

func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	}
	return ""
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Transaction records a deposit or withdrawal intent and its outcome.
// ScheduledTime and ExecutedTime are unix seconds; ExecutedTime is set
// exactly when Status becomes terminal.
type Transaction struct {
	ID                uint64          `gorm:"primaryKey"`
	WalletID          uuid.UUID       `gorm:"type:uuid;not null;index"`
	Wallet            *Wallet         `gorm:"foreignKey:WalletID;constraint:OnDelete:CASCADE"`
	Amount            decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	Method            Method          `gorm:"size:1;not null"`
	Status            Status          `gorm:"size:1;not null;default:'0'"`
	StatusDescription *string         `gorm:"type:text"`
	ScheduledTime     *int64
	ExecutedTime      *int64
	CreatedAt         time.Time `gorm:"autoCreateTime"`
}

func (Transaction) TableName() string { return "transaction" }

// Executed reports whether the transaction already ran.
func (t *Transaction) Executed() bool { return t.ExecutedTime != nil }
