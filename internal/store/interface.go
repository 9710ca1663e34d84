package store

import (
	"context"

	"canarydesk/internal/store/model"
)

// UnitOfWork defines a transaction scope.
type UnitOfWork interface {
	Commit() error
	Rollback() error

	Executions() ExecutionRepository
	Orders() OrderRepository
	Snapshots() SnapshotRepository
	Reconciliations() ReconciliationRepository
}

// Store is the entry point for database access.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
	Close() error
}

// ExecutionRepository keeps one row per resolved engine order.
type ExecutionRepository interface {
	Save(ctx context.Context, exec *model.ExecutionModel) error
	ListRecent(ctx context.Context, limit int) ([]model.ExecutionModel, error)
}

// OrderRepository keeps the fills booked into strategy ledgers.
type OrderRepository interface {
	Save(ctx context.Context, order *model.OrderModel) error
	ListByStrategy(ctx context.Context, strategyKey string, limit int) ([]model.OrderModel, error)
}

// SnapshotRepository keeps canary reports (midday, EOD, evaluations, kills).
type SnapshotRepository interface {
	Save(ctx context.Context, snap *model.SnapshotModel) error
	ListRecent(ctx context.Context, kind string, limit int) ([]model.SnapshotModel, error)
}

type ReconciliationRepository interface {
	Save(ctx context.Context, rec *model.ReconciliationModel) error
	ListRecent(ctx context.Context, limit int) ([]model.ReconciliationModel, error)
}
