package sqlite

import (
	"context"

	"riskbot/internal/store/model"

	"gorm.io/gorm"
)

type saleRepo struct {
	db *gorm.DB
}

func NewSaleRepo(db *gorm.DB) *saleRepo {
	return &saleRepo{db: db}
}

func (r *saleRepo) Insert(ctx context.Context, sale *model.SaleModel) error {
	return r.db.WithContext(ctx).Create(sale).Error
}

func (r *saleRepo) ListRecent(ctx context.Context, limit int) ([]model.SaleModel, error) {
	var out []model.SaleModel
	q := r.db.WithContext(ctx).Order("sold_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
