package model

import "time"

// ScheduledJob is the durable form of a deferred job.
// Token changes on every re-registration of the same ID.
type ScheduledJob struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Kind      string    `gorm:"size:64;not null"`
	Token     string    `gorm:"size:36;not null"`
	RunAt     time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (ScheduledJob) TableName() string { return "scheduled_job" }
