package repo

import (
	"context"

	"github.com/richardliu001/deferred-wallet/internal/model"
	"github.com/richardliu001/deferred-wallet/internal/scheduler"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobStore persists scheduler jobs in the scheduled_job table.
type JobStore struct {
	db *gorm.DB
}

var _ scheduler.Store = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) *JobStore { return &JobStore{db: db} }

// Save upserts by job ID, so re-registration replaces the previous row.
func (s *JobStore) Save(ctx context.Context, job scheduler.Job) error {
	row := model.ScheduledJob{ID: job.ID, Kind: job.Kind, Token: job.Token, RunAt: job.RunAt}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "token", "run_at", "updated_at"}),
	}).Create(&row).Error
}

// Claim deletes the row only if it still carries the given token.
func (s *JobStore) Claim(ctx context.Context, id, token string) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ? AND token = ?", id, token).Delete(&model.ScheduledJob{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Load returns every job that has not been claimed yet.
func (s *JobStore) Load(ctx context.Context) ([]scheduler.Job, error) {
	var rows []model.ScheduledJob
	if err := s.db.WithContext(ctx).Order("run_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	jobs := make([]scheduler.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, scheduler.Job{ID: r.ID, Kind: r.Kind, Token: r.Token, RunAt: r.RunAt})
	}
	return jobs, nil
}
