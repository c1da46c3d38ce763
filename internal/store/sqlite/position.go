package sqlite

import (
	"context"
	"errors"

	"riskbot/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type positionRepository struct {
	db *gorm.DB
}

func NewPositionRepo(db *gorm.DB) *positionRepository {
	return &positionRepository{db: db}
}

// Save upserts by symbol.
func (r *positionRepository) Save(ctx context.Context, pos *model.PositionModel) error {
	if pos == nil {
		return errors.New("position cannot be nil")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"quantity", "entry_price", "entry_at", "atr", "atr_percent_at_entry",
			"stop_loss", "stop_limit", "order_id", "status", "current_price",
			"close_reason", "close_order_id", "retry_close", "simulated", "adopted",
			"entry_terms", "updated_at",
		}),
	}).Create(pos).Error
}

// FindBySymbol returns nil when the symbol is not held.
func (r *positionRepository) FindBySymbol(ctx context.Context, symbol string) (*model.PositionModel, error) {
	var pos model.PositionModel
	err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (r *positionRepository) ListHeld(ctx context.Context) ([]model.PositionModel, error) {
	var out []model.PositionModel
	err := r.db.WithContext(ctx).
		Where("status IN ?", []model.PositionStatus{model.PositionStatusOpen, model.PositionStatusClosing}).
		Order("symbol ASC").
		Find(&out).Error
	return out, err
}

func (r *positionRepository) Delete(ctx context.Context, symbol string) error {
	return r.db.WithContext(ctx).Where("symbol = ?", symbol).Delete(&model.PositionModel{}).Error
}
