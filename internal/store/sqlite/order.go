package sqlite

import (
	"context"
	"errors"
	"time"

	"canarydesk/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type executionRepository struct {
	db *gorm.DB
}

// Save inserts an execution, replacing any row with the same order id.
func (r *executionRepository) Save(ctx context.Context, exec *model.ExecutionModel) error {
	if exec == nil {
		return errors.New("execution cannot be nil")
	}
	if exec.CreatedAtUnix == 0 {
		exec.CreatedAtUnix = time.Now().Unix()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		UpdateAll: true,
	}).Create(exec).Error
}

func (r *executionRepository) ListRecent(ctx context.Context, limit int) ([]model.ExecutionModel, error) {
	var out []model.ExecutionModel
	if err := r.db.WithContext(ctx).
		Order("submitted_at DESC, id DESC").
		Limit(limitOr(limit, 100)).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type orderRepository struct {
	db *gorm.DB
}

func (r *orderRepository) Save(ctx context.Context, order *model.OrderModel) error {
	if order == nil {
		return errors.New("order cannot be nil")
	}
	if order.CreatedAtUnix == 0 {
		order.CreatedAtUnix = time.Now().Unix()
	}
	return r.db.WithContext(ctx).Create(order).Error
}

// ListByStrategy returns the newest orders first; an empty key lists all.
func (r *orderRepository) ListByStrategy(ctx context.Context, strategyKey string, limit int) ([]model.OrderModel, error) {
	var out []model.OrderModel
	q := r.db.WithContext(ctx)
	if strategyKey != "" {
		q = q.Where("strategy_key = ?", strategyKey)
	}
	if err := q.Order("ts DESC, id DESC").Limit(limitOr(limit, 100)).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
