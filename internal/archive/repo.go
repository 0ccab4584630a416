package archive

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Insert(ctx context.Context, rec *JobRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// ListByUser returns records in DESC finished order (newest -> oldest).
func (r *Repo) ListByUser(ctx context.Context, userID string, limit int) ([]JobRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var recs []JobRecord
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("finished_at DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *Repo) UsageByUser(ctx context.Context, userID string) (*Usage, error) {
	var u Usage
	if err := r.db.WithContext(ctx).
		Model(&JobRecord{}).
		Select("COUNT(*) AS jobs, "+
			"COALESCE(SUM(prompt_tokens),0) AS prompt_tokens, "+
			"COALESCE(SUM(completion_tokens),0) AS completion_tokens, "+
			"COALESCE(SUM(total_tokens),0) AS total_tokens").
		Where("user_id = ? AND status = ?", userID, "completed").
		Scan(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
