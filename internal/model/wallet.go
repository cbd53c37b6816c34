package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Wallet is the single balance record of a user.
type Wallet struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey;column:id"`
	Balance   decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	OwnerID   uint64          `gorm:"not null;uniqueIndex"`
	Owner     *User           `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
	Version   uint64          `gorm:"not null;default:0"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallet" }

// BeforeCreate assigns a random UUID when none was set.
func (w *Wallet) BeforeCreate(*gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
