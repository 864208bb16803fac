// Package journal keeps a per-delivery record of bus tasks. The pipeline
// runs fine without it; when enabled it gives operators the staleness probe
// for matches that entered a stage and never reached a terminal status.
package journal

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusReceived  = "received"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

var ErrNotFound = errors.New("task record not found")

type TaskRecord struct {
	ID         string            `gorm:"primaryKey" json:"id"`
	Stage      string            `gorm:"index" json:"stage"`
	MatchID    string            `gorm:"index" json:"match_id"`
	Attributes datatypes.JSONMap `json:"attributes"`
	Status     string            `gorm:"index" json:"status"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&TaskRecord{})
}

func (r *Repository) Create(ctx context.Context, rec *TaskRecord) error {
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	if rec.Status == "" {
		rec.Status = StatusReceived
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *Repository) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	return r.db.WithContext(ctx).Model(&TaskRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"error":      errMsg,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *Repository) Get(ctx context.Context, id string) (*TaskRecord, error) {
	var rec TaskRecord
	result := r.db.WithContext(ctx).First(&rec, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, result.Error
}

// Stale lists deliveries still marked received past the cutoff: the match
// entered a stage and never announced a terminal status.
func (r *Repository) Stale(ctx context.Context, cutoff time.Time) ([]TaskRecord, error) {
	var records []TaskRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", StatusReceived, cutoff).
		Order("updated_at asc").
		Find(&records).Error
	return records, err
}
