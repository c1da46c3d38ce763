// Package paper 在模拟模式下充当券商：持仓来自本地账本，权益固定为配置值。
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"riskbot/internal/broker"
	"riskbot/internal/ledger"
	"riskbot/internal/logger"
	"riskbot/internal/market"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var _ broker.Broker = (*Account)(nil)

// Account 实现 broker.Broker，不产生任何真实委托。
type Account struct {
	repo     ledger.Repository
	history  market.HistoryProvider
	equity   decimal.Decimal
	lookback int

	mu     sync.Mutex
	orders map[string]broker.OrderState
}

func NewAccount(repo ledger.Repository, history market.HistoryProvider, equity decimal.Decimal) *Account {
	return &Account{
		repo:     repo,
		history:  history,
		equity:   equity,
		lookback: 5,
		orders:   make(map[string]broker.OrderState),
	}
}

func (a *Account) PortfolioEquity(context.Context) (decimal.Decimal, error) {
	if !a.equity.IsPositive() {
		return decimal.Zero, fmt.Errorf("paper equity not configured: %w", broker.ErrCollaboratorUnavailable)
	}
	return a.equity, nil
}

// OpenPositions 把账本中未平仓的记录当作账户持仓，现价取最近一根日线收盘。
func (a *Account) OpenPositions(ctx context.Context) (map[string]broker.Holding, error) {
	stored, err := a.repo.LoadPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("paper positions: %w: %v", broker.ErrCollaboratorUnavailable, err)
	}
	out := make(map[string]broker.Holding, len(stored))
	for _, p := range stored {
		if !p.Held() {
			continue
		}
		h := broker.Holding{
			Symbol:       p.Symbol,
			Quantity:     p.Quantity,
			EntryPrice:   p.EntryPrice,
			CurrentPrice: p.CurrentPrice,
			EntryTime:    p.EntryTime,
		}
		if px, err := a.lastPrice(ctx, p.Symbol); err == nil {
			h.CurrentPrice = px
		} else {
			logger.Debugf("paper: keep last price for %s: %v", p.Symbol, err)
		}
		out[p.Symbol] = h
	}
	return out, nil
}

func (a *Account) lastPrice(ctx context.Context, symbol string) (float64, error) {
	if a.history == nil {
		return 0, market.ErrDataUnavailable
	}
	bars, err := a.history.FetchDailyBars(ctx, symbol, a.lookback)
	if err != nil {
		return 0, err
	}
	px := bars.LastClose()
	if px <= 0 {
		return 0, market.ErrDataUnavailable
	}
	return px, nil
}

// SubmitFractionalBuy 立即以 filled 状态记账。
func (a *Account) SubmitFractionalBuy(_ context.Context, symbol string, dollars float64) (string, error) {
	if dollars <= 0 {
		return "", fmt.Errorf("paper buy %s: %w", symbol, broker.ErrOrderRejected)
	}
	return a.fill(), nil
}

func (a *Account) SubmitMarketSell(_ context.Context, symbol string, quantity float64) (string, error) {
	if quantity <= 0 {
		return "", fmt.Errorf("paper sell %s: %w", symbol, broker.ErrOrderRejected)
	}
	return a.fill(), nil
}

func (a *Account) OrderStatus(_ context.Context, orderID string) (broker.OrderState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.orders[orderID]; ok {
		return st, nil
	}
	if strings.HasPrefix(orderID, "PAPER-") {
		return broker.OrderFilled, nil
	}
	return broker.OrderUnknown, nil
}

func (a *Account) fill() string {
	id := "PAPER-" + uuid.NewString()
	a.mu.Lock()
	a.orders[id] = broker.OrderFilled
	a.mu.Unlock()
	return id
}
