package ledger

import (
	"errors"
	"fmt"
	"time"
)

// ErrDuplicatePosition 表示同一标的已存在未平仓记录。
var ErrDuplicatePosition = errors.New("duplicate position")

// ErrPositionNotFound 表示账本中没有该标的。
var ErrPositionNotFound = errors.New("position not found")

// Status 是持仓生命周期状态，只能 Open → Closing → Closed。
type Status string

const (
	StatusOpen    Status = "open"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
)

// 平仓原因。
const (
	ReasonStopLoss  = "stop_loss"
	ReasonStopLimit = "stop_limit"
	ReasonTimeExit  = "time_exit"
	ReasonManual    = "manual"
	ReasonExternal  = "external"
)

// Position 是账本中的一条持仓，止损/止盈在入场时确定且不追踪。
type Position struct {
	Symbol            string    `json:"symbol"`
	Quantity          float64   `json:"quantity"`
	EntryPrice        float64   `json:"entry_price"`
	EntryTime         time.Time `json:"entry_time"`
	ATR               float64   `json:"atr"`
	ATRPercentAtEntry float64   `json:"atr_percent_at_entry"`
	StopLoss          float64   `json:"stop_loss"`
	StopLimit         float64   `json:"stop_limit"`
	OrderID           string    `json:"order_id"`
	Status            Status    `json:"status"`
	CurrentPrice      float64   `json:"current_price"`
	DaysHeld          int       `json:"days_held"`
	CloseReason       string    `json:"close_reason,omitempty"`
	CloseOrderID      string    `json:"close_order_id,omitempty"`
	RetryClose        bool      `json:"retry_close"`
	Simulated         bool      `json:"simulated"`
	Adopted           bool      `json:"adopted"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Entry 描述一笔已确认成交的入场。
type Entry struct {
	Symbol     string
	Quantity   float64
	Price      float64
	ATR        float64
	ATRPercent float64
	OrderID    string
	Time       time.Time
	Simulated  bool
}

// NewPosition 按入场价 ± 2×ATR 生成 Open 持仓。ATR 未知（<= 0）时不设止损/止盈。
func NewPosition(e Entry) Position {
	p := Position{
		Symbol:       e.Symbol,
		Quantity:     e.Quantity,
		EntryPrice:   e.Price,
		EntryTime:    e.Time,
		OrderID:      e.OrderID,
		Status:       StatusOpen,
		CurrentPrice: e.Price,
		Simulated:    e.Simulated,
		UpdatedAt:    e.Time,
	}
	p.setStops(e.ATR, e.ATRPercent)
	return p
}

// setStops 以入场价为基准设置 ± 2×ATR 的止损与止盈。
func (p *Position) setStops(atr, atrPct float64) {
	if atr <= 0 {
		return
	}
	if atrPct == 0 && p.EntryPrice > 0 {
		atrPct = atr / p.EntryPrice * 100
	}
	p.ATR = atr
	p.ATRPercentAtEntry = atrPct
	p.StopLoss = p.EntryPrice - 2*atr
	p.StopLimit = p.EntryPrice + 2*atr
}

// HasStops 表示止损/止盈已生效。
func (p Position) HasStops() bool {
	return p.ATR > 0
}

// Held 表示账户中仍持有（Open 或 Closing）。
func (p Position) Held() bool {
	return p.Status == StatusOpen || p.Status == StatusClosing
}

// StopDistancePercent 返回现价距离止损的百分比。
func (p Position) StopDistancePercent() float64 {
	if p.CurrentPrice <= 0 || p.StopLoss <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.StopLoss) / p.CurrentPrice * 100
}

func (p Position) String() string {
	return fmt.Sprintf("%s %s qty=%.4f entry=%.2f now=%.2f stop=%.2f limit=%.2f days=%d",
		p.Symbol, p.Status, p.Quantity, p.EntryPrice, p.CurrentPrice, p.StopLoss, p.StopLimit, p.DaysHeld)
}

// Sale 是每笔 Closed 持仓的终态记录。
type Sale struct {
	Symbol     string    `json:"symbol"`
	Profit     bool      `json:"profit"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	Time       time.Time `json:"time"`
	Reason     string    `json:"reason"`
	OrderID    string    `json:"order_id,omitempty"`
}

// HeldDays 以自然日计算持有天数。
func HeldDays(entry, now time.Time) int {
	if entry.IsZero() || now.Before(entry) {
		return 0
	}
	return int(now.Sub(entry).Hours() / 24)
}
