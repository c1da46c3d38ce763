package store

import (
	"context"

	"riskbot/internal/store/model"
)

// UnitOfWork defines a transaction scope.
type UnitOfWork interface {
	Commit() error
	Rollback() error

	// Positions returns the position repository within this transaction.
	Positions() PositionRepository
	// Sales returns the sale repository within this transaction.
	Sales() SaleRepository
}

// Store is the entry point for database access.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
	Close() error
}

// PositionRepository handles open/closing position rows.
type PositionRepository interface {
	Save(ctx context.Context, pos *model.PositionModel) error
	FindBySymbol(ctx context.Context, symbol string) (*model.PositionModel, error)
	ListHeld(ctx context.Context) ([]model.PositionModel, error)
	Delete(ctx context.Context, symbol string) error
}

// SaleRepository handles terminal sale records.
type SaleRepository interface {
	Insert(ctx context.Context, sale *model.SaleModel) error
	ListRecent(ctx context.Context, limit int) ([]model.SaleModel, error)
}
