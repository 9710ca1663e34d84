package sqlite

import (
	"context"
	"errors"
	"time"

	"canarydesk/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type snapshotRepository struct {
	db *gorm.DB
}

func (r *snapshotRepository) Save(ctx context.Context, snap *model.SnapshotModel) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}
	if snap.CreatedAtUnix == 0 {
		snap.CreatedAtUnix = time.Now().Unix()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "report_id"}},
		UpdateAll: true,
	}).Create(snap).Error
}

// ListRecent returns the newest snapshots first; an empty kind lists all.
func (r *snapshotRepository) ListRecent(ctx context.Context, kind string, limit int) ([]model.SnapshotModel, error) {
	var out []model.SnapshotModel
	q := r.db.WithContext(ctx)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if err := q.Order("ts DESC, id DESC").Limit(limitOr(limit, 50)).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type reconciliationRepository struct {
	db *gorm.DB
}

func (r *reconciliationRepository) Save(ctx context.Context, rec *model.ReconciliationModel) error {
	if rec == nil {
		return errors.New("reconciliation cannot be nil")
	}
	if rec.CreatedAtUnix == 0 {
		rec.CreatedAtUnix = time.Now().Unix()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "report_id"}},
		UpdateAll: true,
	}).Create(rec).Error
}

func (r *reconciliationRepository) ListRecent(ctx context.Context, limit int) ([]model.ReconciliationModel, error) {
	var out []model.ReconciliationModel
	if err := r.db.WithContext(ctx).Order("ts DESC, id DESC").Limit(limitOr(limit, 50)).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
