package model

import "time"

type User struct {
	ID        uint64    `gorm:"primaryKey"`
	Username  string    `gorm:"size:150;uniqueIndex;not null"`
	Email     string    `gorm:"size:254"`
	FirstName string    `gorm:"size:150"`
	LastName  string    `gorm:"size:150"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (User) TableName() string { return "app_user" }
