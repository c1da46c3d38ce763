package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"riskbot/internal/store"
	"riskbot/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type SqliteStore struct {
	db *gorm.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newSqliteStore(db)
}

func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	return newSqliteStore(db)
}

func newSqliteStore(db *gorm.DB) (*SqliteStore, error) {
	models := []interface{}{
		&model.PositionModel{},
		&model.SaleModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
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

// Positions 返回非事务的仓位仓储，供只读查询使用。
func (s *SqliteStore) Positions() store.PositionRepository {
	return NewPositionRepo(s.db)
}

func (s *SqliteStore) Sales() store.SaleRepository {
	return NewSaleRepo(s.db)
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

func (u *gormUnitOfWork) Positions() store.PositionRepository {
	return NewPositionRepo(u.tx)
}

func (u *gormUnitOfWork) Sales() store.SaleRepository {
	return NewSaleRepo(u.tx)
}

func (u *gormUnitOfWork) Commit() error {
	return u.tx.Commit().Error
}

func (u *gormUnitOfWork) Rollback() error {
	return u.tx.Rollback().Error
}

var _ store.Store = (*SqliteStore)(nil)
