package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"canarydesk/internal/store"
	"canarydesk/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type SqliteStore struct {
	db *gorm.DB
}

// NewSqliteStore opens (creating if needed) the database at path. The
// special path ":memory:" opens a private in-memory database.
func NewSqliteStore(path string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	dsn := "file::memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newSqliteStore(db, path == ":memory:")
}

func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	return newSqliteStore(db, false)
}

func newSqliteStore(db *gorm.DB, memory bool) (*SqliteStore, error) {
	models := []interface{}{
		&model.ExecutionModel{},
		&model.OrderModel{},
		&model.SnapshotModel{},
		&model.ReconciliationModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		conns := 2
		if memory {
			// every connection to :memory: is a separate database
			conns = 1
		}
		sqlDB.SetMaxOpenConns(conns)
		sqlDB.SetMaxIdleConns(conns)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormUnitOfWork{tx: tx}, nil
}

func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormUnitOfWork struct {
	tx *gorm.DB
}

func (u *gormUnitOfWork) Executions() store.ExecutionRepository {
	return &executionRepository{db: u.tx}
}

func (u *gormUnitOfWork) Orders() store.OrderRepository {
	return &orderRepository{db: u.tx}
}

func (u *gormUnitOfWork) Snapshots() store.SnapshotRepository {
	return &snapshotRepository{db: u.tx}
}

func (u *gormUnitOfWork) Reconciliations() store.ReconciliationRepository {
	return &reconciliationRepository{db: u.tx}
}

func (u *gormUnitOfWork) Commit() error {
	return u.tx.Commit().Error
}

func (u *gormUnitOfWork) Rollback() error {
	return u.tx.Rollback().Error
}

func limitOr(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
