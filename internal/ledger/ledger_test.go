package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"riskbot/internal/broker"
	"riskbot/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAccount struct {
	mock.Mock
}

func (m *MockAccount) OpenPositions(ctx context.Context) (map[string]broker.Holding, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]broker.Holding), args.Error(1)
}

func (m *MockAccount) PortfolioEquity(ctx context.Context) (decimal.Decimal, error) {
	args := m.Called(ctx)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

var testNow = time.Date(2024, 6, 14, 15, 0, 0, 0, time.UTC)

// constantBars 生成真实波幅恒为 tr 的日线。
func constantBars(n int, close, tr float64) market.Bars {
	bars := make(market.Bars, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, market.Bar{
			Time:  testNow.AddDate(0, 0, i-n),
			High:  close + tr/2,
			Low:   close - tr/2,
			Close: close,
		})
	}
	return bars
}

func staticHistory(tr float64) market.HistoryProvider {
	return market.HistoryFunc(func(ctx context.Context, symbol string, lookback int) (market.Bars, error) {
		return constantBars(60, 100, tr), nil
	})
}

func newTestLedger(history market.HistoryProvider) (*Ledger, *MemoryRepository) {
	repo := NewMemoryRepository()
	l := New(repo, history, Config{})
	l.SetClock(func() time.Time { return testNow })
	return l, repo
}

func TestNewPosition(t *testing.T) {
	p := NewPosition(Entry{Symbol: "ABC", Quantity: 2, Price: 100, ATR: 4, Time: testNow})
	assert.Equal(t, StatusOpen, p.Status)
	assert.Equal(t, 92.0, p.StopLoss)
	assert.Equal(t, 108.0, p.StopLimit)
	assert.InDelta(t, 4.0, p.ATRPercentAtEntry, 1e-9)
	assert.Less(t, p.StopLoss, p.EntryPrice)
	assert.Less(t, p.EntryPrice, p.StopLimit)
}

func TestLedger_Open(t *testing.T) {
	l, repo := newTestLedger(nil)
	ctx := context.Background()
	p := NewPosition(Entry{Symbol: "ABC", Quantity: 1, Price: 100, ATR: 3, Time: testNow})

	require.NoError(t, l.Open(ctx, p))
	err := l.Open(ctx, p)
	assert.ErrorIs(t, err, ErrDuplicatePosition)
	assert.True(t, l.Held("ABC"))

	stored, _ := repo.LoadPositions(ctx)
	assert.Len(t, stored, 1)
}

func TestLedger_EvaluateExits(t *testing.T) {
	ctx := context.Background()

	t.Run("time exit after eleven days", func(t *testing.T) {
		l, _ := newTestLedger(nil)
		p := NewPosition(Entry{Symbol: "OLD", Quantity: 1, Price: 100, ATR: 10, Time: testNow.AddDate(0, 0, -11)})
		require.NoError(t, l.Open(ctx, p))

		exits, err := l.EvaluateExits(ctx)
		require.NoError(t, err)
		require.Len(t, exits, 1)
		assert.Equal(t, ReasonTimeExit, exits[0].Reason)
		got, _ := l.Get("OLD")
		assert.Equal(t, StatusClosing, got.Status)
		assert.Equal(t, 11, got.DaysHeld)
	})

	t.Run("stop loss wins over time exit", func(t *testing.T) {
		l, _ := newTestLedger(nil)
		p := NewPosition(Entry{Symbol: "DROP", Quantity: 1, Price: 100, ATR: 2, Time: testNow.AddDate(0, 0, -12)})
		p.CurrentPrice = 96
		require.NoError(t, l.Open(ctx, p))
		exits, err := l.EvaluateExits(ctx)
		require.NoError(t, err)
		require.Len(t, exits, 1)
		assert.Equal(t, ReasonStopLoss, exits[0].Reason)
	})

	t.Run("stop limit", func(t *testing.T) {
		l, _ := newTestLedger(nil)
		p := NewPosition(Entry{Symbol: "UP", Quantity: 1, Price: 100, ATR: 2, Time: testNow})
		p.CurrentPrice = 104
		require.NoError(t, l.Open(ctx, p))
		exits, err := l.EvaluateExits(ctx)
		require.NoError(t, err)
		require.Len(t, exits, 1)
		assert.Equal(t, ReasonStopLimit, exits[0].Reason)
	})

	t.Run("inside band stays open", func(t *testing.T) {
		l, _ := newTestLedger(nil)
		p := NewPosition(Entry{Symbol: "FLAT", Quantity: 1, Price: 100, ATR: 2, Time: testNow.AddDate(0, 0, -3)})
		p.CurrentPrice = 101
		require.NoError(t, l.Open(ctx, p))
		exits, err := l.EvaluateExits(ctx)
		require.NoError(t, err)
		assert.Empty(t, exits)
	})
}

func TestLedger_CloseLifecycle(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLedger(nil)
	p := NewPosition(Entry{Symbol: "ABC", Quantity: 2, Price: 100, ATR: 2, Time: testNow.AddDate(0, 0, -1)})
	p.CurrentPrice = 95
	require.NoError(t, l.Open(ctx, p))
	_, err := l.EvaluateExits(ctx)
	require.NoError(t, err)

	require.NoError(t, l.MarkCloseFailed(ctx, "ABC", ""))
	got, _ := l.Get("ABC")
	assert.Equal(t, StatusClosing, got.Status)
	assert.True(t, got.RetryClose)

	// 下一轮仍会返回待重试的持仓。
	exits, err := l.EvaluateExits(ctx)
	require.NoError(t, err)
	require.Len(t, exits, 1)

	sale, err := l.Finalize(ctx, "ABC", 95.5, "sell-1")
	require.NoError(t, err)
	assert.False(t, sale.Profit)
	assert.Equal(t, ReasonStopLoss, sale.Reason)
	assert.False(t, l.Held("ABC"))

	sales, _ := repo.ListSales(ctx, 10)
	require.Len(t, sales, 1)
	assert.Equal(t, "sell-1", sales[0].OrderID)
	stored, _ := repo.LoadPositions(ctx)
	assert.Empty(t, stored)
}

func TestLedger_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("adopts unknown and removes vanished", func(t *testing.T) {
		l, repo := newTestLedger(staticHistory(4))
		gone := NewPosition(Entry{Symbol: "GONE", Quantity: 1, Price: 50, ATR: 1, Time: testNow.AddDate(0, 0, -2)})
		gone.CurrentPrice = 55
		keep := NewPosition(Entry{Symbol: "KEEP", Quantity: 1, Price: 20, ATR: 1, Time: testNow.AddDate(0, 0, -4)})
		require.NoError(t, repo.SavePosition(ctx, gone))
		require.NoError(t, repo.SavePosition(ctx, keep))

		acct := new(MockAccount)
		acct.On("OpenPositions", ctx).Return(map[string]broker.Holding{
			"KEEP": {Symbol: "KEEP", Quantity: 3, EntryPrice: 20, CurrentPrice: 21},
			"NEW":  {Symbol: "NEW", Quantity: 5, EntryPrice: 100, CurrentPrice: 101},
		}, nil)

		report, err := l.Reconcile(ctx, acct)
		require.NoError(t, err)
		assert.Equal(t, []string{"NEW"}, report.Adopted)
		assert.Equal(t, []string{"GONE"}, report.Removed)
		require.Len(t, report.Finalized, 1)
		assert.True(t, report.Finalized[0].Profit)

		adopted, ok := l.Get("NEW")
		require.True(t, ok)
		assert.InDelta(t, 92.0, adopted.StopLoss, 1e-9)
		assert.InDelta(t, 108.0, adopted.StopLimit, 1e-9)
		assert.True(t, adopted.Adopted)

		kept, _ := l.Get("KEEP")
		assert.Equal(t, 3.0, kept.Quantity)
		assert.Equal(t, 21.0, kept.CurrentPrice)
		assert.Equal(t, 4, kept.DaysHeld)
		acct.AssertExpectations(t)
	})

	t.Run("adopts without stops while history is down", func(t *testing.T) {
		down := true
		history := market.HistoryFunc(func(ctx context.Context, symbol string, lookback int) (market.Bars, error) {
			if down {
				return nil, market.ErrDataUnavailable
			}
			return constantBars(60, 100, 4), nil
		})
		l, repo := newTestLedger(history)

		acct := new(MockAccount)
		acct.On("OpenPositions", ctx).Return(map[string]broker.Holding{
			"UP": {Symbol: "UP", Quantity: 2, EntryPrice: 100, CurrentPrice: 100.5},
			"DN": {Symbol: "DN", Quantity: 3, EntryPrice: 100, CurrentPrice: 99.5},
		}, nil)

		report, err := l.Reconcile(ctx, acct)
		require.NoError(t, err)
		assert.Equal(t, []string{"DN", "UP"}, report.Adopted)
		for _, sym := range []string{"UP", "DN"} {
			p, ok := l.Get(sym)
			require.True(t, ok)
			assert.False(t, p.HasStops(), sym)
			assert.Zero(t, p.StopLoss, sym)
			assert.Zero(t, p.StopLimit, sym)
		}

		exits, err := l.EvaluateExits(ctx)
		require.NoError(t, err)
		assert.Empty(t, exits)

		state, details, err := l.CalculateCurrentRisk(ctx, l.Positions(), 10000)
		require.NoError(t, err)
		require.Len(t, details, 2)
		for _, d := range details {
			assert.True(t, d.Stale, d.Symbol)
			assert.Greater(t, d.Dollar, 0.0, d.Symbol)
		}
		// UP: 2 × 2 × (100.5 × 3%)，DN: 3 × 2 × (100 × 3%)
		assert.InDelta(t, 30.06, state.DollarUsed, 1e-6)

		down = false
		_, err = l.Reconcile(ctx, acct)
		require.NoError(t, err)
		up, _ := l.Get("UP")
		assert.True(t, up.HasStops())
		assert.InDelta(t, 4.0, up.ATR, 1e-9)
		assert.InDelta(t, 92.0, up.StopLoss, 1e-9)
		assert.InDelta(t, 108.0, up.StopLimit, 1e-9)
		stored, _ := repo.LoadPositions(ctx)
		for _, p := range stored {
			assert.Greater(t, p.StopLoss, 0.0, p.Symbol)
		}
		exits, err = l.EvaluateExits(ctx)
		require.NoError(t, err)
		assert.Empty(t, exits)
	})

	t.Run("account unavailable leaves ledger untouched", func(t *testing.T) {
		l, repo := newTestLedger(nil)
		p := NewPosition(Entry{Symbol: "ABC", Quantity: 1, Price: 10, ATR: 1, Time: testNow})
		require.NoError(t, l.Open(ctx, p))

		acct := new(MockAccount)
		acct.On("OpenPositions", ctx).Return(nil, errors.New("timeout"))
		_, err := l.Reconcile(ctx, acct)
		assert.ErrorIs(t, err, broker.ErrCollaboratorUnavailable)
		assert.True(t, l.Held("ABC"))
		stored, _ := repo.LoadPositions(ctx)
		assert.Len(t, stored, 1)
	})
}

func TestLedger_CalculateCurrentRisk(t *testing.T) {
	ctx := context.Background()

	t.Run("uses fresh atr", func(t *testing.T) {
		l, _ := newTestLedger(staticHistory(3))
		positions := []Position{
			NewPosition(Entry{Symbol: "A", Quantity: 10, Price: 100, ATR: 5, Time: testNow}),
			NewPosition(Entry{Symbol: "B", Quantity: 5, Price: 100, ATR: 5, Time: testNow}),
		}
		state, details, err := l.CalculateCurrentRisk(ctx, positions, 10000)
		require.NoError(t, err)
		require.Len(t, details, 2)
		assert.InDelta(t, 90.0, state.DollarUsed, 1e-6)
		assert.InDelta(t, 0.9, state.PercentUsed, 1e-6)
	})

	t.Run("falls back to entry atr", func(t *testing.T) {
		failing := market.HistoryFunc(func(context.Context, string, int) (market.Bars, error) {
			return nil, market.ErrDataUnavailable
		})
		l, _ := newTestLedger(failing)
		positions := []Position{NewPosition(Entry{Symbol: "A", Quantity: 10, Price: 100, ATR: 5, Time: testNow})}
		state, details, err := l.CalculateCurrentRisk(ctx, positions, 10000)
		require.NoError(t, err)
		assert.True(t, details[0].Stale)
		assert.InDelta(t, 100.0, state.DollarUsed, 1e-6)
	})
}

func TestNewPosition_WithoutATR(t *testing.T) {
	p := NewPosition(Entry{Symbol: "ABC", Quantity: 1, Price: 100, Time: testNow})
	assert.False(t, p.HasStops())
	assert.Zero(t, p.StopLoss)
	assert.Zero(t, p.StopLimit)
	assert.Zero(t, p.ATRPercentAtEntry)
}

func TestLedger_CalculateCurrentRisk_NoATR(t *testing.T) {
	l := New(NewMemoryRepository(), nil, Config{ATRFloorPercent: 5})
	p := NewPosition(Entry{Symbol: "A", Quantity: 4, Price: 50, Time: testNow})
	p.CurrentPrice = 40
	state, details, err := l.CalculateCurrentRisk(context.Background(), []Position{p}, 1000)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.True(t, details[0].Stale)
	// 取入场价 50 与现价 40 中较高者
	assert.InDelta(t, 2.5, details[0].ATR, 1e-9)
	assert.InDelta(t, 20.0, state.DollarUsed, 1e-9)
	assert.InDelta(t, 2.0, state.PercentUsed, 1e-9)
}

func TestLedger_Load(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	open := NewPosition(Entry{Symbol: "AAA", Quantity: 2, Price: 50, ATR: 2, Time: testNow})
	closed := NewPosition(Entry{Symbol: "BBB", Quantity: 1, Price: 10, ATR: 1, Time: testNow})
	closed.Status = StatusClosed
	require.NoError(t, repo.SavePosition(ctx, open))
	require.NoError(t, repo.SavePosition(ctx, closed))

	l := New(repo, nil, Config{})
	require.NoError(t, l.Load(ctx))
	assert.True(t, l.Held("AAA"))
	assert.False(t, l.Held("BBB"))
	assert.Len(t, l.Positions(), 1)
}
