package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"riskbot/internal/broker"
	"riskbot/internal/ledger"
	"riskbot/internal/risk"
	"riskbot/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOrders struct {
	mock.Mock
}

func (m *MockOrders) SubmitFractionalBuy(ctx context.Context, symbol string, dollars float64) (string, error) {
	args := m.Called(ctx, symbol, dollars)
	return args.String(0), args.Error(1)
}

func (m *MockOrders) SubmitMarketSell(ctx context.Context, symbol string, quantity float64) (string, error) {
	args := m.Called(ctx, symbol, quantity)
	return args.String(0), args.Error(1)
}

func (m *MockOrders) OrderStatus(ctx context.Context, orderID string) (broker.OrderState, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(broker.OrderState), args.Error(1)
}

type fixedClock bool

func (f fixedClock) IsOpen(time.Time) bool { return bool(f) }

func defaultLimits() risk.Limits {
	return risk.Limits{MaxDailyLoss: 0.06, RiskPerTrade: 0.02, Overflow: risk.DefaultOverflowPolicy()}
}

func newCoordinator(orders broker.OrderSubmitter, open bool, limits risk.Limits) (*Coordinator, *ledger.Ledger, *risk.Accountant) {
	l := ledger.New(ledger.NewMemoryRepository(), nil, ledger.Config{})
	acc := risk.NewAccountant(limits)
	c := NewCoordinator(l, acc, orders, fixedClock(open), Config{PollAttempts: 3, PollInterval: time.Millisecond})
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c, l, acc
}

func candidate(symbol string, loss float64, portfolio float64) signal.TradeCandidate {
	return signal.TradeCandidate{
		Symbol:        symbol,
		Eligible:      true,
		ATR:           2,
		ATRPercent:    4,
		Bucket:        4,
		SharePrice:    50,
		DollarAmount:  loss / 0.08,
		Shares:        loss / 0.08 / 50,
		PotentialLoss: loss,
		PotentialGain: loss,
		RiskPercent:   loss / portfolio * 100,
	}
}

func TestCoordinator_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("simulated fill creates position and commits risk", func(t *testing.T) {
		c, l, acc := newCoordinator(nil, true, defaultLimits())
		cand := candidate("ABC", 200, 10000)
		assert.True(t, c.Execute(ctx, &cand, 10000, false))
		assert.True(t, cand.TradeMade)
		assert.True(t, strings.HasPrefix(cand.OrderID, "SIM-"))

		pos, ok := l.Get("ABC")
		require.True(t, ok)
		assert.Equal(t, 46.0, pos.StopLoss)
		assert.Equal(t, 54.0, pos.StopLimit)
		assert.True(t, pos.Simulated)
		assert.InDelta(t, 2.0, acc.Snapshot().PercentUsed, 1e-9)
	})

	t.Run("already held never mutates risk", func(t *testing.T) {
		c, _, acc := newCoordinator(nil, true, defaultLimits())
		first := candidate("ABC", 200, 10000)
		require.True(t, c.Execute(ctx, &first, 10000, false))
		before := acc.Snapshot()

		again := candidate("ABC", 200, 10000)
		assert.False(t, c.Execute(ctx, &again, 10000, false))
		assert.Equal(t, ReasonAlreadyHeld, again.Reason)
		assert.Equal(t, before, acc.Snapshot())
	})

	t.Run("concurrent duplicates open once", func(t *testing.T) {
		c, l, acc := newCoordinator(nil, true, defaultLimits())
		var wg sync.WaitGroup
		made := make(chan bool, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cand := candidate("DUP", 100, 10000)
				made <- c.Execute(ctx, &cand, 10000, false)
			}()
		}
		wg.Wait()
		close(made)
		count := 0
		for ok := range made {
			if ok {
				count++
			}
		}
		assert.Equal(t, 1, count)
		assert.Len(t, l.Positions(), 1)
		assert.InDelta(t, 1.0, acc.Snapshot().PercentUsed, 1e-9)
	})

	t.Run("live fill after polling", func(t *testing.T) {
		orders := new(MockOrders)
		c, l, acc := newCoordinator(orders, true, defaultLimits())
		cand := candidate("LIVE", 200, 10000)
		orders.On("SubmitFractionalBuy", ctx, "LIVE", cand.DollarAmount).Return("ord-1", nil)
		orders.On("OrderStatus", ctx, "ord-1").Return(broker.OrderPending, nil).Once()
		orders.On("OrderStatus", ctx, "ord-1").Return(broker.OrderFilled, nil).Once()

		assert.True(t, c.Execute(ctx, &cand, 10000, true))
		pos, ok := l.Get("LIVE")
		require.True(t, ok)
		assert.Equal(t, "ord-1", pos.OrderID)
		assert.False(t, pos.Simulated)
		assert.InDelta(t, 2.0, acc.Snapshot().PercentUsed, 1e-9)
		orders.AssertExpectations(t)
	})

	t.Run("rejected order leaves ledger and risk untouched", func(t *testing.T) {
		orders := new(MockOrders)
		c, l, acc := newCoordinator(orders, true, defaultLimits())
		cand := candidate("REJ", 200, 10000)
		orders.On("SubmitFractionalBuy", ctx, "REJ", cand.DollarAmount).Return("ord-2", nil)
		orders.On("OrderStatus", ctx, "ord-2").Return(broker.OrderRejected, nil)

		assert.False(t, c.Execute(ctx, &cand, 10000, true))
		assert.Equal(t, ReasonOrderNotFilled, cand.Reason)
		assert.False(t, l.Held("REJ"))
		assert.Equal(t, risk.State{}, acc.Snapshot())
	})

	t.Run("submission error", func(t *testing.T) {
		orders := new(MockOrders)
		c, l, acc := newCoordinator(orders, true, defaultLimits())
		cand := candidate("ERR", 200, 10000)
		orders.On("SubmitFractionalBuy", ctx, "ERR", cand.DollarAmount).Return("", errors.New("503"))

		assert.False(t, c.Execute(ctx, &cand, 10000, true))
		assert.Equal(t, ReasonOrderRejected, cand.Reason)
		assert.False(t, l.Held("ERR"))
		assert.Equal(t, risk.State{}, acc.Snapshot())
	})

	t.Run("market closed uses synthetic fill", func(t *testing.T) {
		orders := new(MockOrders)
		c, l, _ := newCoordinator(orders, false, defaultLimits())
		cand := candidate("AFTER", 200, 10000)
		assert.True(t, c.Execute(ctx, &cand, 10000, true))
		assert.True(t, l.Held("AFTER"))
		orders.AssertNotCalled(t, "SubmitFractionalBuy", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCoordinator_ExecuteRanked(t *testing.T) {
	ctx := context.Background()
	const portfolio = 20000.0

	t.Run("bounded overflow then stop", func(t *testing.T) {
		c, _, acc := newCoordinator(nil, true, defaultLimits())
		acc.Reset(risk.Sum(portfolio, 1000)) // 5%

		ranked := []signal.TradeCandidate{
			candidate("BIG", 500, portfolio),   // 2.5%
			candidate("MID", 300, portfolio),   // 1.5%
			candidate("SMALL", 100, portfolio), // 0.5%
		}
		out := c.ExecuteRanked(ctx, ranked, portfolio, false)
		assert.False(t, out[0].TradeMade)
		assert.Equal(t, ReasonInsufficientRisk, out[0].Reason)
		assert.True(t, out[1].TradeMade)
		assert.False(t, out[2].TradeMade)
		assert.Equal(t, ReasonDailyLimitReached, out[2].Reason)
		assert.InDelta(t, 6.5, acc.Snapshot().PercentUsed, 1e-9)
	})

	t.Run("strict policy skips and continues", func(t *testing.T) {
		limits := defaultLimits()
		limits.Overflow.Enabled = false
		c, _, acc := newCoordinator(nil, true, limits)
		acc.Reset(risk.Sum(portfolio, 1000))

		ranked := []signal.TradeCandidate{
			candidate("MID", 300, portfolio),
			candidate("FIT", 200, portfolio),
		}
		out := c.ExecuteRanked(ctx, ranked, portfolio, false)
		assert.False(t, out[0].TradeMade)
		assert.True(t, out[1].TradeMade)
		assert.InDelta(t, 6.0, acc.Snapshot().PercentUsed, 1e-9)
		assert.LessOrEqual(t, acc.Snapshot().PercentUsed, limits.MaxPercent())
	})
}

func TestCoordinator_Close(t *testing.T) {
	ctx := context.Background()

	openPosition := func(t *testing.T, l *ledger.Ledger) ledger.Position {
		p := ledger.NewPosition(ledger.Entry{Symbol: "ABC", Quantity: 4, Price: 50, ATR: 2, Time: time.Now().AddDate(0, 0, -11)})
		p.CurrentPrice = 52
		require.NoError(t, l.Open(ctx, p))
		exits, err := l.EvaluateExits(ctx)
		require.NoError(t, err)
		require.Len(t, exits, 1)
		return exits[0].Position
	}

	t.Run("simulated close records sale", func(t *testing.T) {
		c, l, _ := newCoordinator(nil, true, defaultLimits())
		pos := openPosition(t, l)
		sale, err := c.Close(ctx, pos, false)
		require.NoError(t, err)
		assert.True(t, sale.Profit)
		assert.Equal(t, ledger.ReasonTimeExit, sale.Reason)
		assert.False(t, l.Held("ABC"))
	})

	t.Run("failed close retries without duplicate sell", func(t *testing.T) {
		orders := new(MockOrders)
		c, l, _ := newCoordinator(orders, true, defaultLimits())
		pos := openPosition(t, l)

		orders.On("SubmitMarketSell", ctx, "ABC", 4.0).Return("sell-1", nil).Once()
		orders.On("OrderStatus", ctx, "sell-1").Return(broker.OrderPending, nil).Times(3)
		_, err := c.Close(ctx, pos, true)
		assert.ErrorIs(t, err, broker.ErrOrderRejected)

		held, _ := l.Get("ABC")
		assert.Equal(t, ledger.StatusClosing, held.Status)
		assert.True(t, held.RetryClose)
		assert.Equal(t, "sell-1", held.CloseOrderID)

		orders.On("OrderStatus", ctx, "sell-1").Return(broker.OrderFilled, nil).Once()
		sale, err := c.Close(ctx, held, true)
		require.NoError(t, err)
		assert.Equal(t, "sell-1", sale.OrderID)
		assert.False(t, l.Held("ABC"))
		orders.AssertNumberOfCalls(t, "SubmitMarketSell", 1)
	})

	t.Run("submission error keeps closing", func(t *testing.T) {
		orders := new(MockOrders)
		c, l, _ := newCoordinator(orders, true, defaultLimits())
		pos := openPosition(t, l)
		orders.On("SubmitMarketSell", ctx, "ABC", 4.0).Return("", errors.New("down"))
		_, err := c.Close(ctx, pos, true)
		assert.Error(t, err)
		held, ok := l.Get("ABC")
		require.True(t, ok)
		assert.True(t, held.RetryClose)
	})
}
