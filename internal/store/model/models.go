package model

import "gorm.io/datatypes"

type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
)

// PositionModel 对应 positions 表，每个标的至多一行（未平仓）。
type PositionModel struct {
	ID                int64          `gorm:"column:id;primaryKey"`
	Symbol            string         `gorm:"column:symbol;uniqueIndex"`
	Quantity          float64        `gorm:"column:quantity"`
	EntryPrice        float64        `gorm:"column:entry_price"`
	EntryUnix         int64          `gorm:"column:entry_at"`
	ATR               float64        `gorm:"column:atr"`
	ATRPercentAtEntry float64        `gorm:"column:atr_percent_at_entry"`
	StopLoss          float64        `gorm:"column:stop_loss"`
	StopLimit         float64        `gorm:"column:stop_limit"`
	OrderID           string         `gorm:"column:order_id"`
	Status            PositionStatus `gorm:"column:status;index"`
	CurrentPrice      float64        `gorm:"column:current_price"`
	CloseReason       string         `gorm:"column:close_reason"`
	CloseOrderID      string         `gorm:"column:close_order_id"`
	RetryClose        bool           `gorm:"column:retry_close"`
	Simulated         bool           `gorm:"column:simulated"`
	Adopted           bool           `gorm:"column:adopted"`
	EntryTerms        datatypes.JSON `gorm:"column:entry_terms;type:TEXT"`
	CreatedAtUnix     int64          `gorm:"column:created_at"`
	UpdatedAtUnix     int64          `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

// SaleModel 对应 sales 表，只追加。
type SaleModel struct {
	ID         int64   `gorm:"column:id;primaryKey"`
	Symbol     string  `gorm:"column:symbol;index"`
	Profit     bool    `gorm:"column:profit"`
	EntryPrice float64 `gorm:"column:entry_price"`
	ExitPrice  float64 `gorm:"column:exit_price"`
	Quantity   float64 `gorm:"column:quantity"`
	Reason     string  `gorm:"column:reason"`
	OrderID    string  `gorm:"column:order_id"`
	SoldAtUnix int64   `gorm:"column:sold_at;index"`
}

func (SaleModel) TableName() string { return "sales" }
