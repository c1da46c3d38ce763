// Package broker 定义账户查询与下单两类外部协作方的最小接口。
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCollaboratorUnavailable 表示券商/账户接口不可达，本轮应在修改风险状态前中止。
var ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

// ErrOrderRejected 表示订单未成交（拒绝、取消或状态未知）。
var ErrOrderRejected = errors.New("order rejected")

// Holding 是账户侧的一条持仓。
type Holding struct {
	Symbol       string    `json:"symbol"`
	Quantity     float64   `json:"quantity"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	EntryTime    time.Time `json:"entry_time"`
}

// OrderState 是订单生命周期状态。
type OrderState string

const (
	OrderPending   OrderState = "pending"
	OrderFilled    OrderState = "filled"
	OrderCancelled OrderState = "cancelled"
	OrderRejected  OrderState = "rejected"
	OrderUnknown   OrderState = "unknown"
)

// Terminal 报告状态是否不会再变化。
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	}
	return false
}

// ParseOrderState 兼容券商返回的各种写法（queued/confirmed/partially_filled 视为 pending）。
func ParseOrderState(raw string) OrderState {
	switch raw {
	case "filled":
		return OrderFilled
	case "cancelled", "canceled":
		return OrderCancelled
	case "rejected", "failed":
		return OrderRejected
	case "pending", "queued", "confirmed", "unconfirmed", "partially_filled", "new":
		return OrderPending
	default:
		return OrderUnknown
	}
}

type AccountQuery interface {
	OpenPositions(ctx context.Context) (map[string]Holding, error)
	PortfolioEquity(ctx context.Context) (decimal.Decimal, error)
}

type OrderSubmitter interface {
	SubmitFractionalBuy(ctx context.Context, symbol string, dollars float64) (string, error)
	SubmitMarketSell(ctx context.Context, symbol string, quantity float64) (string, error)
	OrderStatus(ctx context.Context, orderID string) (OrderState, error)
}

// Broker 同时提供账户与下单能力。
type Broker interface {
	AccountQuery
	OrderSubmitter
}
