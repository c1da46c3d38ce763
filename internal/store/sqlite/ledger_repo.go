package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"riskbot/internal/ledger"
	"riskbot/internal/store"
	"riskbot/internal/store/model"

	"gorm.io/datatypes"
)

// LedgerRepository 把 ledger.Repository 落到 gorm 仓储上，每次写入一个事务。
type LedgerRepository struct {
	st store.Store
}

func NewLedgerRepository(st store.Store) *LedgerRepository {
	return &LedgerRepository{st: st}
}

var _ ledger.Repository = (*LedgerRepository)(nil)

// entryTerms 是入场条款快照，独立于可变列保存。
type entryTerms struct {
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	ATR        float64 `json:"atr"`
	StopLoss   float64 `json:"stop_loss"`
	StopLimit  float64 `json:"stop_limit"`
	OrderID    string  `json:"order_id"`
	Simulated  bool    `json:"simulated"`
}

func (r *LedgerRepository) withTx(ctx context.Context, fn func(uow store.UnitOfWork) error) error {
	uow, err := r.st.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(uow); err != nil {
		_ = uow.Rollback()
		return err
	}
	return uow.Commit()
}

func (r *LedgerRepository) LoadPositions(ctx context.Context) ([]ledger.Position, error) {
	var out []ledger.Position
	err := r.withTx(ctx, func(uow store.UnitOfWork) error {
		rows, err := uow.Positions().ListHeld(ctx)
		if err != nil {
			return err
		}
		out = make([]ledger.Position, 0, len(rows))
		for _, row := range rows {
			out = append(out, positionFromModel(row))
		}
		return nil
	})
	return out, err
}

func (r *LedgerRepository) SavePosition(ctx context.Context, p ledger.Position) error {
	row, err := positionToModel(p)
	if err != nil {
		return err
	}
	return r.withTx(ctx, func(uow store.UnitOfWork) error {
		if p.Status == ledger.StatusClosed {
			return uow.Positions().Delete(ctx, p.Symbol)
		}
		existing, err := uow.Positions().FindBySymbol(ctx, p.Symbol)
		if err != nil {
			return err
		}
		if existing != nil {
			row.CreatedAtUnix = existing.CreatedAtUnix
		}
		return uow.Positions().Save(ctx, row)
	})
}

func (r *LedgerRepository) DeletePosition(ctx context.Context, symbol string) error {
	return r.withTx(ctx, func(uow store.UnitOfWork) error {
		return uow.Positions().Delete(ctx, symbol)
	})
}

func (r *LedgerRepository) RecordSale(ctx context.Context, s ledger.Sale) error {
	return r.withTx(ctx, func(uow store.UnitOfWork) error {
		return uow.Sales().Insert(ctx, &model.SaleModel{
			Symbol:     s.Symbol,
			Profit:     s.Profit,
			EntryPrice: s.EntryPrice,
			ExitPrice:  s.ExitPrice,
			Quantity:   s.Quantity,
			Reason:     s.Reason,
			OrderID:    s.OrderID,
			SoldAtUnix: s.Time.UnixMilli(),
		})
	})
}

func (r *LedgerRepository) ListSales(ctx context.Context, limit int) ([]ledger.Sale, error) {
	var out []ledger.Sale
	err := r.withTx(ctx, func(uow store.UnitOfWork) error {
		rows, err := uow.Sales().ListRecent(ctx, limit)
		if err != nil {
			return err
		}
		out = make([]ledger.Sale, 0, len(rows))
		for _, row := range rows {
			out = append(out, ledger.Sale{
				Symbol:     row.Symbol,
				Profit:     row.Profit,
				EntryPrice: row.EntryPrice,
				ExitPrice:  row.ExitPrice,
				Quantity:   row.Quantity,
				Time:       time.UnixMilli(row.SoldAtUnix),
				Reason:     row.Reason,
				OrderID:    row.OrderID,
			})
		}
		return nil
	})
	return out, err
}

func positionToModel(p ledger.Position) (*model.PositionModel, error) {
	terms, err := json.Marshal(entryTerms{
		Quantity:   p.Quantity,
		EntryPrice: p.EntryPrice,
		ATR:        p.ATR,
		StopLoss:   p.StopLoss,
		StopLimit:  p.StopLimit,
		OrderID:    p.OrderID,
		Simulated:  p.Simulated,
	})
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	updated := now
	if !p.UpdatedAt.IsZero() {
		updated = p.UpdatedAt.UnixMilli()
	}
	return &model.PositionModel{
		Symbol:            p.Symbol,
		Quantity:          p.Quantity,
		EntryPrice:        p.EntryPrice,
		EntryUnix:         p.EntryTime.UnixMilli(),
		ATR:               p.ATR,
		ATRPercentAtEntry: p.ATRPercentAtEntry,
		StopLoss:          p.StopLoss,
		StopLimit:         p.StopLimit,
		OrderID:           p.OrderID,
		Status:            model.PositionStatus(p.Status),
		CurrentPrice:      p.CurrentPrice,
		CloseReason:       p.CloseReason,
		CloseOrderID:      p.CloseOrderID,
		RetryClose:        p.RetryClose,
		Simulated:         p.Simulated,
		Adopted:           p.Adopted,
		EntryTerms:        datatypes.JSON(terms),
		CreatedAtUnix:     now,
		UpdatedAtUnix:     updated,
	}, nil
}

func positionFromModel(m model.PositionModel) ledger.Position {
	return ledger.Position{
		Symbol:            m.Symbol,
		Quantity:          m.Quantity,
		EntryPrice:        m.EntryPrice,
		EntryTime:         time.UnixMilli(m.EntryUnix),
		ATR:               m.ATR,
		ATRPercentAtEntry: m.ATRPercentAtEntry,
		StopLoss:          m.StopLoss,
		StopLimit:         m.StopLimit,
		OrderID:           m.OrderID,
		Status:            ledger.Status(m.Status),
		CurrentPrice:      m.CurrentPrice,
		CloseReason:       m.CloseReason,
		CloseOrderID:      m.CloseOrderID,
		RetryClose:        m.RetryClose,
		Simulated:         m.Simulated,
		Adopted:           m.Adopted,
		UpdatedAt:         time.UnixMilli(m.UpdatedAtUnix),
	}
}
